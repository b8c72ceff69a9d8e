package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/security"
)

const (
	// livenessMessage is the plain-text body of GET /.
	livenessMessage = "GET-API service running"

	endpointGetAPIs = "/hmx/get-apis"

	// maxRequestBody caps the request body at 1 MiB. Real requests are
	// a few hundred bytes.
	maxRequestBody = 1 << 20
)

// Handler is a thin HTTP adapter for the gateway Server. It parses the
// wire envelope and delegates the pipeline to the Server.
type Handler struct {
	server  *Server
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.inst != nil {
		h.tracer = server.inst.Tracer("http")
	}
	if server.config.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiter(server.config.RateLimit.Rate, server.config.RateLimit.Burst, logger)
	}

	return h
}

// Close releases handler resources. Call it on shutdown.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Routes returns the gateway's HTTP routes with the standard middleware
// chain applied.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Use(security.SecurityHeadersMiddleware)
	r.Use(h.recoverer)
	r.Use(middleware.Timeout(h.server.config.RequestTimeout))

	r.Get("/", h.handleRoot)
	r.Post(endpointGetAPIs, h.handleGetAPIs)

	return r
}

// recoverer catches panics in the request path and surfaces them as a
// 500 so the process never dies on a request.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic in request handler",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", security.GetRequestID(r.Context()))
				h.writeError(w, ReasonInternalError, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(livenessMessage))
}

func (h *Handler) handleGetAPIs(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "gateway.get_apis")
		defer span.End()
	}

	cfg := h.server.config
	clientIP := security.GetClientIP(r, cfg.RateLimit.TrustProxy, cfg.RateLimit.TrustedProxyCount)

	if h.limiter != nil && !h.limiter.Allow(clientIP) {
		h.server.auditor.LogRateLimitExceeded(clientIP)
		if h.server.inst != nil {
			h.server.inst.Metrics().RecordRateLimitExceeded(ctx)
		}
		h.fail(w, r, span, startTime, ErrRateLimited("request rate exceeded"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.fail(w, r, span, startTime, ErrInternalError("request body read failed"))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.fail(w, r, span, startTime, ErrEmptyBody("request body is empty"))
		return
	}

	var req GetAPIsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, r, span, startTime, ErrInvalidJSON("request body is not valid JSON"))
		return
	}

	if strings.TrimSpace(req.Session) == "" || strings.TrimSpace(req.HardwareID) == "" {
		h.fail(w, r, span, startTime, ErrMissingFields("session and hwid are required"))
		return
	}

	resp, apiErr := h.server.GetAPIs(ctx, &req, clientIP)
	if apiErr != nil {
		h.fail(w, r, span, startTime, apiErr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Int(instrumentation.AttrFeatureCount, len(resp.APIs)),
	)
	instrumentation.AddPipelineAttributes(span, "", req.Feature, string(h.server.cipher.Mode()))
	instrumentation.AddHTTPAttributes(span, r.Method, endpointGetAPIs, http.StatusOK)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(r.Method, endpointGetAPIs, http.StatusOK, startTime)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("response encoding failed", "error", err,
			"request_id", security.GetRequestID(r.Context()))
	}
}

// fail writes the failure envelope and records telemetry for it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, startTime time.Time, apiErr *APIError) {
	h.logger.Warn("request rejected",
		"reason", apiErr.Reason,
		"status", apiErr.Status,
		"detail", apiErr.Description,
		"request_id", security.GetRequestID(r.Context()))

	instrumentation.AddHTTPAttributes(span, r.Method, endpointGetAPIs, apiErr.Status)
	if apiErr.Status >= http.StatusInternalServerError {
		instrumentation.RecordError(span, apiErr)
	} else {
		instrumentation.SetSpanError(span, apiErr.Reason)
	}
	h.recordHTTPMetrics(r.Method, endpointGetAPIs, apiErr.Status, startTime)
	h.writeError(w, apiErr.Reason, apiErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, reason string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Success: false,
		Reason:  reason,
	})
}

func (h *Handler) recordHTTPMetrics(method, endpoint string, status int, startTime time.Time) {
	if h.server.inst == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	h.server.inst.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
