// Package tracing wires the optional OpenTelemetry pipeline. Tracing
// is off unless an OTLP endpoint is configured, and a disabled tracer
// costs one bool check per request.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/apidoorman/doorman-sub003/internal/config"
	"github.com/apidoorman/doorman-sub003/internal/middleware"
)

// HeaderTraceID carries the root span's trace id back to the caller.
const HeaderTraceID = "X-Trace-ID"

// Tracer owns the OTLP export pipeline and hands out spans.
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New builds a Tracer from config. An empty OTLP endpoint returns a
// disabled tracer whose middleware is a pass-through.
func New(cfg config.TracingConfig) (*Tracer, error) {
	t := &Tracer{enabled: cfg.OTLPEndpoint != ""}
	if !t.enabled {
		return t, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "doorman"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	otel.SetTracerProvider(t.provider)
	t.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(t.propagator)

	t.tracer = t.provider.Tracer("doorman")

	return t, nil
}

// IsEnabled reports whether spans are being produced.
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// Middleware opens a server span per request, continuing any incoming
// W3C trace context, and echoes the trace id on X-Trace-ID.
func (t *Tracer) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.enabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			if span.SpanContext().HasTraceID() {
				w.Header().Set(HeaderTraceID, span.SpanContext().TraceID().String())
			}

			tw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", tw.status))
			if tw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(tw.status))
			}
		})
	}
}

// SpanMiddleware wraps one chain link in a named internal span. Used
// for the steps worth seeing on a flame graph, not every link.
func SpanMiddleware(t *Tracer, name string, mw middleware.Middleware) middleware.Middleware {
	if t == nil || !t.enabled {
		return mw
	}
	return func(next http.Handler) http.Handler {
		inner := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := t.tracer.Start(r.Context(), name,
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()
			inner.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StartSpan opens a child span. Disabled tracers return the context's
// current span so callers need no enabled check.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name)
}

// InjectHeaders stamps trace context onto an outgoing upstream
// request. The propagator injects from the source request's context;
// when that context carries no span, inbound traceparent/tracestate
// headers are copied through so the gateway stays transparent to
// callers tracing around it.
func InjectHeaders(src *http.Request, dst http.Header) {
	otel.GetTextMapPropagator().Inject(src.Context(), propagation.HeaderCarrier(dst))

	if dst.Get("traceparent") == "" {
		if tp := src.Header.Get("traceparent"); tp != "" {
			dst.Set("traceparent", tp)
		}
	}
	if dst.Get("tracestate") == "" {
		if ts := src.Header.Get("tracestate"); ts != "" {
			dst.Set("tracestate", ts)
		}
	}
}

// Close flushes queued spans and shuts the exporter down.
func (t *Tracer) Close() error {
	if t.provider != nil {
		return t.provider.Shutdown(context.Background())
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
