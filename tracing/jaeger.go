package tracing

import (
	"context"
	"io"

	"github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// JaegerTracer is a Tracer backed by github.com/uber/jaeger-client-go.
type JaegerTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

// NewJaegerTracer configures a const-sampled Jaeger tracer reporting as
// serviceName. Callers must Close it on shutdown.
func NewJaegerTracer(serviceName string) (*JaegerTracer, error) {
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}
	return &JaegerTracer{tracer: tracer, closer: closer}, nil
}

func (j *JaegerTracer) StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	span := j.tracer.StartSpan(operationName)
	return span, opentracing.ContextWithSpan(ctx, span)
}

func (j *JaegerTracer) StartSpanFromParent(parent opentracing.Span, operationName string) opentracing.Span {
	return j.tracer.StartSpan(operationName, opentracing.ChildOf(parent.Context()))
}

// Close flushes and shuts down the underlying reporter.
func (j *JaegerTracer) Close() error {
	return j.closer.Close()
}
