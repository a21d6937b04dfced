package hub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fpvtiming/racehub/log"
)

//nolint:lll // readability
func (h *Hub) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("racehub.hub")
	register := func(metricName, desc, unit string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit(unit),

			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(valueProvider())
				return nil
			})); err != nil {
			h.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	type data struct {
		name  string
		desc  string
		unit  string
		value func() int64
	}
	for _, d := range []*data{
		{
			"racehub.hub.rcv", "Number of published envelopes", "{count}",
			h.numRcv.Load,
		},
		{
			"racehub.hub.snd", "Number of delivered envelopes", "{count}",
			h.numSnd.Load,
		},
		{
			"racehub.hub.skip", "Number of skipped envelopes", "{count}",
			h.numSkip.Load,
		},
		{
			"racehub.hub.evict", "Number of evicted subscribers", "{count}",
			h.numEvict.Load,
		},
		{
			"racehub.hub.subscribers", "Number of registered subscribers", "{count}",
			func() int64 { return int64(h.Subscribers()) },
		},
	} {
		register(d.name, d.desc, d.unit, d.value)
	}
}
