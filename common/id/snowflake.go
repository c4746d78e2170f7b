package id

import (
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once

	ErrNotInitialized = errors.New("id generator not initialized")
)

// Init initializes the Snowflake node. Worker replicas must use distinct node IDs.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID. Panics if Init has not been called.
func New() int64 {
	if node == nil {
		panic(ErrNotInitialized)
	}
	return node.Generate().Int64()
}

// NewBatch returns n IDs, used when a single write inserts many rows.
func NewBatch(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = New()
	}
	return ids
}
