package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	syncotel "github.com/ledgerkit/devicesync/internal/otel"
)

const (
	// TracerName names the tracer of the local API
	TracerName = "github.com/ledgerkit/devicesync/http"

	// HTTPMetricsMeterName names the meter of the local API
	HTTPMetricsMeterName = TracerName

	// MaxUserAgentLength bounds the user agent recorded on spans
	MaxUserAgentLength = 256

	// streamParam is the route parameter holding the stream of a request
	streamParam = "streamID"

	unknownRoute = "unknown_route"
)

// untracedPaths are probes polled too often to be worth a span
var untracedPaths = map[string]struct{}{
	"/health":    {},
	"/readiness": {},
}

// routeInfo is what chi resolved for a request once it has been routed.
// Stream IDs come from the configuration, so they are safe as labels.
type routeInfo struct {
	pattern string
	stream  string
}

func resolveRoute(r *http.Request) routeInfo {
	info := routeInfo{pattern: unknownRoute}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return info
	}
	if p := rctx.RoutePattern(); p != "" {
		info.pattern = p
	}
	info.stream = rctx.URLParam(streamParam)
	return info
}

// HTTPMetrics holds the instruments recorded for the local API
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments. A nil provider yields nil metrics,
// whose middleware passes requests through.
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(HTTPMetricsMeterName)

	m := &HTTPMetrics{}
	var err error
	// Manual sync passes run for seconds, hence the long tail of buckets
	if m.requestDuration, err = meter.Float64Histogram(
		"devicesync_http_request_duration_seconds",
		metric.WithDescription("Duration of local API requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30, 60, 300),
	); err != nil {
		return nil, err
	}
	if m.requestsTotal, err = meter.Int64Counter(
		"devicesync_http_requests_total",
		metric.WithDescription("Local API requests served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"devicesync_http_active_requests",
		metric.WithDescription("Local API requests in flight, including event subscriptions"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Middleware records duration, count and in-flight requests
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// r.Context() may be cancelled once the handler returns
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.activeRequests.Add(ctx, -1)

		route := resolveRoute(r)
		attrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("route", route.pattern),
			attribute.String("status_code", strconv.Itoa(ww.Status())),
		}
		if route.stream != "" {
			attrs = append(attrs, attribute.String("stream", route.stream))
		}
		set := metric.WithAttributes(attrs...)
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), set)
		m.requestsTotal.Add(ctx, 1, set)
	})
}

// MetricsMiddleware combines NewHTTPMetrics and Middleware
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	m, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return m.Middleware, nil
}

// TracingMiddleware starts a server span per request, continuing the W3C
// trace context of the caller. Spans are named after the chi route pattern.
// A nil provider disables tracing.
func TracingMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	tracer := provider.Tracer(TracerName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := untracedPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(truncateUserAgent(r.UserAgent())),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := resolveRoute(r)
			span.SetName(r.Method + " " + route.pattern)
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route.pattern),
				semconv.HTTPResponseStatusCode(ww.Status()),
			)
			if route.stream != "" {
				span.SetAttributes(syncotel.AttrStreamID.String(route.stream))
			}

			if status := ww.Status(); status >= http.StatusBadRequest {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

func truncateUserAgent(ua string) string {
	if len(ua) > MaxUserAgentLength {
		return ua[:MaxUserAgentLength]
	}
	return ua
}
