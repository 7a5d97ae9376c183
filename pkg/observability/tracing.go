package observability

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// Tracer provides distributed tracing capabilities
type Tracer struct {
	serviceName string
}

// NewTracer creates a new tracer instance
func NewTracer(serviceName string) *Tracer {
	return &Tracer{
		serviceName: serviceName,
	}
}

// Start opens a subsegment when ctx already carries a segment and a new
// segment otherwise. The returned function closes it, recording err.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, func(error)) {
	var seg *xray.Segment
	if xray.GetSegment(ctx) != nil {
		ctx, seg = xray.BeginSubsegment(ctx, name)
	} else {
		ctx, seg = xray.BeginSegment(ctx, fmt.Sprintf("%s.%s", t.serviceName, name))
	}
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, func(err error) {
		if err != nil {
			_ = seg.AddError(err)
		}
		seg.Close(err)
	}
}

// TraceFunction wraps a function with tracing
func (t *Tracer) TraceFunction(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, end := t.Start(ctx, name)
	err := fn(ctx)
	end(err)
	return err
}

// AddAnnotation adds an indexed annotation to the current segment
func (t *Tracer) AddAnnotation(ctx context.Context, key string, value string) {
	if seg := xray.GetSegment(ctx); seg != nil {
		_ = seg.AddAnnotation(key, value)
	}
}
