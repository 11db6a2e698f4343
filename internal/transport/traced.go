package transport

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wbh-go/internal/wbh"
)

var tracer = otel.Tracer("wbh-transport")

// TracedTransport records a span around every call of the wrapped transport.
type TracedTransport struct {
	next wbh.Transport
	kind string
}

// WithTracing wraps t so its calls show up as "<kind>.<operation>" spans.
func WithTracing(t wbh.Transport, kind string) *TracedTransport {
	return &TracedTransport{next: t, kind: kind}
}

func (t *TracedTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	ctx, span := tracer.Start(ctx, t.kind+".upload",
		trace.WithAttributes(
			attribute.String("destination", destination),
			attribute.String("document", doc.Name),
			attribute.Int64("size_bytes", doc.Size),
		),
	)
	defer span.End()

	h, err := t.next.Upload(ctx, destination, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return h, err
	}
	span.SetAttributes(attribute.String("blob_id", h.BlobID), attribute.String("message_id", h.MessageID))
	return h, nil
}

func (t *TracedTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	ctx, span := tracer.Start(ctx, t.kind+".fetch",
		trace.WithAttributes(attribute.String("blob_id", blobID)),
	)
	defer span.End()

	cw := &countingWriter{w: w}
	if err := t.next.Fetch(ctx, blobID, cw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("size_bytes", cw.n))
	return nil
}

func (t *TracedTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	ctx, span := tracer.Start(ctx, t.kind+".post_message",
		trace.WithAttributes(
			attribute.String("destination", destination),
			attribute.Int("length", len(text)),
		),
	)
	defer span.End()

	id, err := t.next.PostMessage(ctx, destination, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("message_id", id))
	return id, nil
}

func (t *TracedTransport) MessageLimit() int { return t.next.MessageLimit() }

// Unwrap returns the wrapped transport.
func (t *TracedTransport) Unwrap() wbh.Transport { return t.next }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

var _ wbh.Transport = (*TracedTransport)(nil)

// Close closes the wrapped transport when it holds a connection.
func (t *TracedTransport) Close() error {
	if c, ok := t.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
