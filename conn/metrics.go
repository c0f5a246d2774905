// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package conn

import (
	"context"

	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/service"
)

// MetricsLayer tracks open connections in "server.connection.active" and
// reports "server.connection.utilization" as active over maxConnections.
type MetricsLayer struct {
	active metrics.Counter
}

// NewMetricsLayer registers its metrics in r.
func NewMetricsLayer(r *metrics.Registry, maxConnections int) *MetricsLayer {
	active := r.Counter("server.connection.active")
	r.Gauge("server.connection.utilization", func() float64 {
		if maxConnections <= 0 {
			return 0
		}
		return float64(active.Count()) / float64(maxConnections)
	})
	return &MetricsLayer{active: active}
}

// Active is the current value of "server.connection.active".
func (m *MetricsLayer) Active() int64 {
	return m.active.Count()
}

// Layer implements the [service.Layer] interface. Only connections the
// inner service yields are counted, and each is uncounted exactly once
// when it closes.
func (m *MetricsLayer) Layer(inner AcceptService) AcceptService {
	return service.ServiceFunc[struct{}, *Conn](func(ctx context.Context, req struct{}) (*Conn, error) {
		c, err := inner.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		m.active.Inc()
		c.OnClose(m.active.Dec)
		return c, nil
	})
}
