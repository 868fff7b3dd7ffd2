package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservabilityConfig struct {
	ServiceName string
	Module      string
	LogRequests bool
	Enabled     bool
}

type requestObserver interface {
	Observe(module, method string, status int, duration time.Duration)
}

// Observability wraps handlers with a tracing span, request metrics and an
// optional access log line.
type Observability struct {
	cfg     ObservabilityConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics requestObserver
}

func NewObservability(cfg ObservabilityConfig, metrics requestObserver, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stakingd"
	}
	if cfg.Module == "" {
		cfg.Module = "staking"
	}
	return &Observability{
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(cfg.ServiceName),
		metrics: metrics,
	}
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !o.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			if caller, ok := CallerFromContext(r.Context()); ok {
				recorder.caller = caller.Hex()
			}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			if recorder.caller != "" {
				span.SetAttributes(attribute.String("stakepool.caller", recorder.caller))
			}
			if recorder.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(recorder.status))
			}
			span.End()
			duration := time.Since(start)
			if o.metrics != nil {
				o.metrics.Observe(o.cfg.Module, route, recorder.status, duration)
			}
			if o.cfg.LogRequests {
				o.logger.Info("http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", recorder.status),
					slog.String("caller", recorder.caller),
					slog.String("traceId", span.SpanContext().TraceID().String()),
					slog.Float64("durationMs", float64(duration.Microseconds())/1000))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	caller string
}


func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
