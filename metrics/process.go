// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProcessPanics counts every panic recovered anywhere in the server.
const ProcessPanics = "process.panics"

// RegisterProcessMetrics adds Go runtime and process collectors along
// with a "process.uptime" gauge measured from start. It may be called
// again on the same registry, in which case only the uptime start moves.
func RegisterProcessMetrics(r *Registry, start time.Time) {
	r.processOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			// Already registered by the caller through Registerer.
			_ = r.reg.Register(c)
		}
	})
	r.Gauge("process.uptime", func() float64 {
		return time.Since(start).Seconds()
	})
	r.Counter(ProcessPanics)
}
