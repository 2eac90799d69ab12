package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "agsteer/internal/pipeline"

type instruments struct {
	latency        metric.Float64Histogram
	cycles         metric.Int64Counter
	parseFailures  metric.Int64Counter
	framesSent     metric.Int64Counter
	sendErrors     metric.Int64Counter
	inboundRejects metric.Int64Counter
	crossTrack     metric.Float64ObservableGauge
}

func (p *Pipeline) initInstruments(m metric.Meter) error {
	var err error
	ins := &p.ins
	if ins.latency, err = m.Float64Histogram(
		"agsteer.cycle.latency",
		metric.WithDescription("Time from cycle start to frame hand-off"),
		metric.WithUnit("ms"),
	); err != nil {
		return errors.Wrap(err, "latency histogram")
	}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&ins.cycles, "agsteer.cycles", "Cycles attempted"},
		{&ins.parseFailures, "agsteer.parse_failures", "Position packets that failed to parse"},
		{&ins.framesSent, "agsteer.frames_sent", "Frames handed to the transport"},
		{&ins.sendErrors, "agsteer.send_errors", "Transport send failures"},
		{&ins.inboundRejects, "agsteer.inbound_rejects", "Inbound frames rejected"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return errors.Wrap(err, c.name)
		}
	}
	ins.crossTrack, err = m.Float64ObservableGauge(
		"agsteer.cross_track",
		metric.WithDescription("Latest cross-track error"),
		metric.WithUnit("m"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			snap, ok := p.Latest()
			if ok && snap.State.GuidanceValid {
				o.Observe(snap.State.CrossTrackM)
			}
			return nil
		}),
	)
	return errors.Wrap(err, "cross-track gauge")
}
