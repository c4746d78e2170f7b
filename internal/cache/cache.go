package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a shared TTL key/value store. Every write carries its own TTL.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if key is absent and reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// FailurePolicy decides what a call site does when the cache backend errors.
type FailurePolicy string

const (
	// FailOpen logs the failure and proceeds as if the cache were empty.
	FailOpen FailurePolicy = "open"
	// FailClosed surfaces the error to the caller.
	FailClosed FailurePolicy = "closed"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case FailOpen, "":
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown cache failure policy %q", s)
	}
}
