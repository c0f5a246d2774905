// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics is the registry every server component reports through.
// It is backed by a Prometheus registry so it can be scraped as-is.
package metrics

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter is a value which may be incremented and decremented.
type Counter interface {
	Inc()
	Dec()
	Count() int64
}

// Tag is a dimension attached to a [Counter].
type Tag struct {
	Key   string
	Value string
}

// Registry creates named counters and gauges. Names are dotted,
// e.g. "server.connection.active", and exported with underscores.
//
// All counters sharing a name must use the same tag keys.
type Registry struct {
	reg *prometheus.Registry

	processOnce sync.Once

	mu       sync.Mutex
	vecs     map[string]*prometheus.GaugeVec
	counters map[string]*counter
	gauges   map[string]prometheus.Collector
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		vecs:     make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*counter),
		gauges:   make(map[string]prometheus.Collector),
	}
}

// Name converts a dotted metric name into a valid Prometheus name.
func Name(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Counter returns the counter for name and tags, creating it on first use.
func (r *Registry) Counter(name string, tags ...Tag) Counter {
	tags = slices.Clone(tags)
	slices.SortFunc(tags, func(a, b Tag) int {
		return strings.Compare(a.Key, b.Key)
	})

	id := counterID(name, tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[id]; ok {
		return c
	}

	vec, ok := r.vecs[name]
	if !ok {
		keys := make([]string, len(tags))
		for i, t := range tags {
			keys[i] = t.Key
		}
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: Name(name),
			Help: name,
		}, keys)
		vec = registerVec(r.reg, vec)
		r.vecs[name] = vec
	}

	values := make([]string, len(tags))
	for i, t := range tags {
		values[i] = t.Value
	}
	c := &counter{g: vec.WithLabelValues(values...)}
	r.counters[id] = c
	return c
}

func counterID(name string, tags []Tag) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, t := range tags {
		sb.WriteByte('|')
		sb.WriteString(t.Key)
		sb.WriteByte('=')
		sb.WriteString(t.Value)
	}
	return sb.String()
}

// Gauge registers f to be evaluated whenever name is collected.
// Registering the same name again replaces the previous callback.
func (r *Registry) Gauge(name string, f func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: Name(name),
		Help: name,
	}, f)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.gauges[name]; ok {
		r.reg.Unregister(old)
	}
	// A collector registered directly through Registerer keeps the name.
	if err := r.reg.Register(g); err != nil {
		return
	}
	r.gauges[name] = g
}

// registerVec registers vec, reusing an equivalent vector which is
// already registered. A vector which conflicts with another collector
// still counts but is not exported.
func registerVec(reg prometheus.Registerer, vec *prometheus.GaugeVec) *prometheus.GaugeVec {
	err := reg.Register(vec)
	if err == nil {
		return vec
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
			return existing
		}
	}
	return vec
}

// Registerer exposes the underlying Prometheus registry for custom collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer exposes the underlying Prometheus registry for collection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		Registry: r.reg,
	})
}

type counter struct {
	n atomic.Int64
	g prometheus.Gauge
}

func (c *counter) Inc() {
	c.n.Add(1)
	c.g.Inc()
}

func (c *counter) Dec() {
	c.n.Add(-1)
	c.g.Dec()
}

func (c *counter) Count() int64 {
	return c.n.Load()
}
