package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation records spans and metrics for the event plane's hot
// paths: publish, poll, and stream delivery. It is optional everywhere it
// is consumed (a nil *Instrumentation is safe to call) so that tests and
// small deployments can skip telemetry setup entirely.
type Instrumentation struct {
	tracer trace.Tracer

	publishCount    metric.Int64Counter
	publishDuration metric.Float64Histogram
	pollBatchSize   metric.Int64Histogram
	streamDrops     metric.Int64Counter
}

// NewInstrumentation builds an Instrumentation from a Provider's tracer
// and meter.
func NewInstrumentation(p *Provider) (*Instrumentation, error) {
	publishCount, err := p.Meter.Int64Counter("sselane.publish.count",
		metric.WithDescription("Number of events published"))
	if err != nil {
		return nil, err
	}
	publishDuration, err := p.Meter.Float64Histogram("sselane.publish.duration",
		metric.WithDescription("Publish latency in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	pollBatchSize, err := p.Meter.Int64Histogram("sselane.poll.batch_size",
		metric.WithDescription("Number of entries read per poll pass"))
	if err != nil {
		return nil, err
	}
	streamDrops, err := p.Meter.Int64Counter("sselane.stream.drops",
		metric.WithDescription("Number of events dropped for slow clients"))
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		tracer:          p.Tracer,
		publishCount:    publishCount,
		publishDuration: publishDuration,
		pollBatchSize:   pollBatchSize,
		streamDrops:     streamDrops,
	}, nil
}

// StartPublishSpan starts a span around one Publish call. Call the
// returned end func with the terminal error (nil on success).
func (in *Instrumentation) StartPublishSpan(ctx context.Context, kind string) (context.Context, func(err error)) {
	if in == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	spanCtx, span := in.tracer.Start(ctx, "publish:"+kind,
		trace.WithAttributes(attribute.String("sselane.event_type", kind)))

	return spanCtx, func(err error) {
		attrs := metric.WithAttributes(
			attribute.String("event_type", kind),
			attribute.Bool("error", err != nil),
		)
		in.publishCount.Add(ctx, 1, attrs)
		in.publishDuration.Record(ctx, time.Since(start).Seconds(), attrs)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RecordPollBatch records how many entries one poll pass read.
func (in *Instrumentation) RecordPollBatch(ctx context.Context, n int) {
	if in == nil {
		return
	}
	in.pollBatchSize.Record(ctx, int64(n))
}

// RecordStreamDrop records one event dropped for a slow client.
func (in *Instrumentation) RecordStreamDrop(ctx context.Context, clientID string) {
	if in == nil {
		return
	}
	in.streamDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}
