package metrics

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records counters and timings by dotted name. Implementations must never fail the caller.
type Recorder interface {
	Incr(name string, tags map[string]string)
	Timing(name string, value float64, tags map[string]string)
}

type Nop struct{}

func (Nop) Incr(string, map[string]string)            {}
func (Nop) Timing(string, float64, map[string]string) {}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 50000, 100000, 1000000}

// Prometheus lazily registers one vector per metric name and label set.
type Prometheus struct {
	registerer prometheus.Registerer
	namespace  string

	lock       sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheus(registerer prometheus.Registerer, namespace string) *Prometheus {
	return &Prometheus{
		registerer: registerer,
		namespace:  sanitize(namespace),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (p *Prometheus) Incr(name string, tags map[string]string) {
	defer p.recoverMetric(name)

	labels := labelNames(tags)
	vec := p.counter(sanitize(name)+"_total", labels)
	if vec == nil {
		return
	}
	vec.With(prometheus.Labels(sanitizeTags(tags))).Inc()
}

func (p *Prometheus) Timing(name string, value float64, tags map[string]string) {
	defer p.recoverMetric(name)

	labels := labelNames(tags)
	vec := p.histogram(sanitize(name), labels)
	if vec == nil {
		return
	}
	vec.With(prometheus.Labels(sanitizeTags(tags))).Observe(value)
}

func (p *Prometheus) counter(name string, labels []string) *prometheus.CounterVec {
	key := vecKey(name, labels)

	p.lock.Lock()
	defer p.lock.Unlock()
	if vec, ok := p.counters[key]; ok {
		return vec
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Counter " + name,
	}, labels)
	if err := p.registerer.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			slog.Warn("metric registration failed", "metric", name, "error", err)
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	p.counters[key] = vec
	return vec
}

func (p *Prometheus) histogram(name string, labels []string) *prometheus.HistogramVec {
	key := vecKey(name, labels)

	p.lock.Lock()
	defer p.lock.Unlock()
	if vec, ok := p.histograms[key]; ok {
		return vec
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Distribution of " + name,
		Buckets:   defaultBuckets,
	}, labels)
	if err := p.registerer.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			slog.Warn("metric registration failed", "metric", name, "error", err)
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	p.histograms[key] = vec
	return vec
}

func (p *Prometheus) recoverMetric(name string) {
	if r := recover(); r != nil {
		slog.Warn("metric recording panicked", "metric", name, "panic", r)
	}
}

func vecKey(name string, labels []string) string {
	return name + "|" + strings.Join(labels, ",")
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitize(k))
	}
	sort.Strings(names)
	return names
}

func sanitizeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[sanitize(k)] = v
	}
	return out
}

// sanitize maps a dotted metric name onto the Prometheus charset.
func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
