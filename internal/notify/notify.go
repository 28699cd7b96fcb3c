// Package notify publishes advisory job-lifecycle events over NATS,
// adapted from libs/go/core/natsctx. Nothing in the scheduler, recovery
// planner, or worker runtime depends on this package for correctness -
// every state transition it reports has already been committed through
// the Storage Facade; a missed or delayed publish never desyncs the
// system.
package notify

import (
	"context"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Subjects used for job-lifecycle fan-out.
const (
	SubjectJobSubmitted = "spider.job.submitted"
	SubjectJobCompleted = "spider.job.completed"
	SubjectJobFailed    = "spider.job.failed"
	SubjectTaskReady    = "spider.task.ready"
)

// Publish injects the current trace context into NATS headers and
// publishes data on subject. A nil *nats.Conn is a silent no-op, so
// callers may run with notifications disabled.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	if nc == nil {
		return nil
	}
	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	return nc.PublishMsg(msg)
}

// Subscribe wraps nc.Subscribe, extracting trace context from each
// message and starting a child span before invoking handler.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("spider-notify")
		ctx, span := tr.Start(ctx, "notify.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
