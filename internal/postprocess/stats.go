package postprocess

import (
	"context"
	"strings"

	"basegraph.app/postprocess/internal/metrics"
	"basegraph.app/postprocess/internal/model"
)

type MetricsRecorder struct {
	rec metrics.Recorder
}

func NewMetricsRecorder(rec metrics.Recorder) *MetricsRecorder {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &MetricsRecorder{rec: rec}
}

// Capture records per-event counters tagged with the group's coarse platform.
// Groups without a platform record nothing.
func (m *MetricsRecorder) Capture(_ context.Context, group *model.Group, event *model.Event, isNew bool) {
	platform := CoarsePlatform(group.Platform)
	if platform == "" {
		return
	}

	tags := map[string]string{"platform": platform}
	if isNew {
		m.rec.Incr("events.unique", tags)
	}
	m.rec.Incr("events.processed", tags)
	m.rec.Incr("events.processed."+platform, nil)
	m.rec.Timing("events.size.data", float64(event.Size), tags)
}

// CoarsePlatform keeps the first segment before '-' then '_', e.g. "python-django" is "python".
func CoarsePlatform(platform string) string {
	platform, _, _ = strings.Cut(platform, "-")
	platform, _, _ = strings.Cut(platform, "_")
	return platform
}
