package metrics

import (
	"github.com/foxseedlab/livescribe/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})
	do.Provide(injector, func(i do.Injector) (metrics.Recorder, error) {
		reg := do.MustInvoke[*prometheus.Registry](i)
		return NewPrometheus(reg), nil
	})
}
