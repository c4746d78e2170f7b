package options

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"basegraph.app/postprocess/core/config"
	"basegraph.app/postprocess/internal/store"
)

const (
	UseErrorHookSampling = "post-process.use-error-hook-sampling"
	ErrorHookSampleRate  = "post-process.error-hook-sample-rate"
)

// Manager reads runtime options from the options table, falling back to configured defaults.
// Options are read on every call so operators can change them without a restart.
type Manager struct {
	store    store.OptionStore
	defaults map[string]string
}

func NewManager(s store.OptionStore, cfg config.OptionsConfig) *Manager {
	return &Manager{
		store: s,
		defaults: map[string]string{
			UseErrorHookSampling: strconv.FormatBool(cfg.UseErrorHookSampling),
			ErrorHookSampleRate:  strconv.FormatFloat(cfg.ErrorHookSampleRate, 'f', -1, 64),
		},
	}
}

func (m *Manager) Bool(ctx context.Context, key string) bool {
	raw := m.get(ctx, key)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		slog.WarnContext(ctx, "invalid bool option, using default", "option", key, "value", raw)
		b, _ = strconv.ParseBool(m.defaults[key])
	}
	return b
}

func (m *Manager) Float(ctx context.Context, key string) float64 {
	raw := m.get(ctx, key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.WarnContext(ctx, "invalid float option, using default", "option", key, "value", raw)
		f, _ = strconv.ParseFloat(m.defaults[key], 64)
	}
	return f
}

func (m *Manager) get(ctx context.Context, key string) string {
	if m.store == nil {
		return m.defaults[key]
	}
	value, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "reading option failed, using default", "option", key, "error", err)
		}
		return m.defaults[key]
	}
	return value
}
