// Package httpapi implements the HTTP API gateway.
//
// Security:
//   - Optional bearer-token authentication (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Admission control and concurrency limits enforced by the engine
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/gateway"
	"github.com/nextvibe/nextvibe/internal/observability"
	"github.com/nextvibe/nextvibe/internal/storage"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	defaultHistoryLimit   = 20
	maxHistoryLimit       = 100
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIToken       string // Bearer token for /v1. Empty = no authentication.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config Config
	engine gateway.Engine
	logger *slog.Logger
	server *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute
	okapi       *okapi.Okapi
	group       *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, e gateway.Engine, logger *slog.Logger) *Gateway {
	return &Gateway{
		config: cfg,
		engine: e,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used to serve the WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) withOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "NextVibe",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, instrumented when metrics or tracing are on.
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/tasks", g.handleSubmit,
		okapi.DocSummary("Submit a coding task for classification and execution"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(TaskRequest{}),
		okapi.DocResponse(TaskResultBody{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/tasks/{id}", g.handleResult,
		okapi.DocSummary("Get a task result by ID"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TaskResultBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/history/{identity}", g.handleHistory,
		okapi.DocSummary("List recent results for an identity, newest first"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("identity", "string", "Identity key"),
		okapi.DocResponse([]TaskResultBody{}),
	)

	// Extra handlers (e.g., the WebSocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.withOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Tasks block until execution completes.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Request/Response Bodies ---

// TaskRequest is the JSON body for POST /v1/tasks.
type TaskRequest struct {
	Identity    string           `json:"identity"`
	Input       string           `json:"input"`
	Attachments []AttachmentBody `json:"attachments,omitempty"`
}

// AttachmentBody is a supplementary input item in a task request.
type AttachmentBody struct {
	Kind     string `json:"kind"` // "text", "code", "voice_transcript"
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// TaskResultBody is the JSON rendering of a task result.
type TaskResultBody struct {
	TaskID    string         `json:"task_id"`
	Identity  string         `json:"identity"`
	Category  string         `json:"category"`
	Narrative string         `json:"narrative,omitempty"`
	Execution *ExecutionBody `json:"execution,omitempty"`
	Error     *ErrorInfoBody `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionBody reports a sandboxed execution.
type ExecutionBody struct {
	Status     string `json:"status"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// ErrorInfoBody is the user-facing error attached to a failed result.
type ErrorInfoBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func toResultBody(res *domain.TaskResult) TaskResultBody {
	body := TaskResultBody{
		TaskID:    res.TaskID.String(),
		Identity:  res.Identity,
		Category:  string(res.Category),
		Narrative: res.Narrative,
		CreatedAt: res.CreatedAt,
	}
	if exec := res.Execution; exec != nil {
		body.Execution = &ExecutionBody{
			Status:     string(exec.Status),
			Stdout:     exec.Stdout,
			Stderr:     exec.Stderr,
			ExitCode:   exec.ExitCode,
			DurationMS: exec.Duration.Milliseconds(),
		}
	}
	if res.Error != nil {
		body.Error = &ErrorInfoBody{
			Code:              string(res.Error.Code),
			Message:           res.Error.Message,
			RetryAfterSeconds: int64(res.Error.RetryAfter / time.Second),
		}
	}
	return body
}

// --- Handlers ---

func (g *Gateway) handleSubmit(c *okapi.Context) error {
	r := c.Request()
	r.Body = http.MaxBytesReader(nil, r.Body, g.config.maxRequestSize())

	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Identity == "" {
		return c.AbortBadRequest("identity is required")
	}
	if req.Input == "" && len(req.Attachments) == 0 {
		return c.AbortBadRequest("input is required")
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Kind:     domain.AttachmentKind(a.Kind),
			Language: a.Language,
			Content:  a.Content,
		})
	}

	g.logger.Info("http task submitted",
		slog.String("identity", req.Identity),
		slog.Int("input_chars", len(req.Input)),
		slog.Int("attachments", len(attachments)),
	)

	res, err := g.engine.HandleRequest(c.Context(), req.Identity, req.Input, attachments)
	if err != nil {
		// Only caller cancellation; the client went away or we are shutting down.
		return c.AbortServiceUnavailable("request canceled")
	}

	return c.OK(toResultBody(res))
}

func (g *Gateway) handleResult(c *okapi.Context) error {
	id := c.Param("id")

	res, err := g.engine.Result(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "task not found"})
		}
		g.logger.Error("result lookup failed",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("lookup failed")
	}

	return c.OK(toResultBody(res))
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	identity := c.Param("identity")

	limit := defaultHistoryLimit
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	results, err := g.engine.History(c.Context(), identity, limit)
	if err != nil {
		g.logger.Error("history lookup failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("lookup failed")
	}

	bodies := make([]TaskResultBody, len(results))
	for i, res := range results {
		bodies[i] = toResultBody(res)
	}
	return c.OK(bodies)
}

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.Readiness(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer token when one is configured.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIToken == "" {
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.config.APIToken)) != 1 {
			return c.AbortUnauthorized("invalid token")
		}
		return next(c)
	}
}
