package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink exposes counters as quickdrop_counter{name="..."} gauges.
// Prometheus gauges cannot be read back, so the last written values are
// mirrored in memory for the read-modify-write path.
type PrometheusSink struct {
	gauge *prometheus.GaugeVec
	mem   *MemorySink
}

// NewPrometheusSink registers the gauge vector with registry, or the
// default registerer when registry is nil.
func NewPrometheusSink(registry prometheus.Registerer) *PrometheusSink {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		gauge: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "quickdrop_counter",
			Help: "QuickDrop aggregate and event counters by name",
		}, []string{"name"}),
		mem: NewMemorySink(),
	}
}

func (s *PrometheusSink) SetCounter(ctx context.Context, name string, value int64) error {
	s.gauge.WithLabelValues(name).Set(float64(value))
	return s.mem.SetCounter(ctx, name, value)
}

func (s *PrometheusSink) GetCounter(ctx context.Context, name string) (int64, error) {
	return s.mem.GetCounter(ctx, name)
}

func (s *PrometheusSink) ListCounters(ctx context.Context, prefix string) ([]string, error) {
	return s.mem.ListCounters(ctx, prefix)
}
