package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/ctxutil"
	"github.com/plumelit/plume/internal/ratelimit"
	"github.com/plumelit/plume/internal/service/credits"
	"github.com/plumelit/plume/internal/service/execution"
	"github.com/plumelit/plume/internal/service/judging"
	"github.com/plumelit/plume/internal/service/results"
	"github.com/plumelit/plume/internal/storage"
)

// Server is the Plume HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Catalog      *catalog.Catalog
	CreditsSvc   *credits.Service
	JudgingSvc   *judging.Service
	ResultsSvc   *results.Service
	ExecutionSvc *execution.Service
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	TrustProxy          bool     // Honor X-Forwarded-For for per-IP rate limit keys.
	CORSAllowedOrigins  []string // Empty = no CORS headers served.

	// Optional embedded assets.
	OpenAPISpec []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Catalog:             cfg.Catalog,
		CreditsSvc:          cfg.CreditsSvc,
		JudgingSvc:          cfg.JudgingSvc,
		ResultsSvc:          cfg.ResultsSvc,
		ExecutionSvc:        cfg.ExecutionSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Auth endpoints limit by client IP; everything
	// else keys on the authenticated user, with admins exempt.
	ipKey := ratelimit.ClientIPKeyFunc(cfg.TrustProxy)
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ipKey, reqIDFunc)
	executeRL := ratelimit.Middleware(cfg.Limiter, "execute", userKeyFunc, reqIDFunc)
	writeRL := ratelimit.Middleware(cfg.Limiter, "write", userKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /auth/signup", authRL(http.HandlerFunc(h.HandleSignup)))
	mux.Handle("POST /auth/login", authRL(http.HandlerFunc(h.HandleLogin)))

	// Agents.
	mux.Handle("POST /v1/agents", writeRL(http.HandlerFunc(h.HandleCreateAgent)))
	mux.HandleFunc("GET /v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /v1/agents/{id}", h.HandleGetAgent)
	mux.Handle("PATCH /v1/agents/{id}", writeRL(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /v1/agents/{id}", writeRL(http.HandlerFunc(h.HandleDeleteAgent)))

	// Agent execution (LLM spend, tighter key space).
	mux.Handle("POST /v1/agents/execute/writer", executeRL(http.HandlerFunc(h.HandleExecuteWriter)))
	mux.Handle("POST /v1/agents/execute/judge", executeRL(http.HandlerFunc(h.HandleExecuteJudge)))
	mux.HandleFunc("POST /v1/agents/estimate", h.HandleEstimate)

	// Execution history.
	mux.HandleFunc("GET /v1/executions", h.HandleListExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", h.HandleGetExecution)

	// Texts.
	mux.Handle("POST /v1/texts", writeRL(http.HandlerFunc(h.HandleCreateText)))
	mux.HandleFunc("GET /v1/texts", h.HandleListTexts)
	mux.HandleFunc("GET /v1/texts/{id}", h.HandleGetText)
	mux.Handle("PATCH /v1/texts/{id}", writeRL(http.HandlerFunc(h.HandleUpdateText)))
	mux.Handle("DELETE /v1/texts/{id}", writeRL(http.HandlerFunc(h.HandleDeleteText)))

	// Contests.
	mux.Handle("POST /v1/contests", writeRL(http.HandlerFunc(h.HandleCreateContest)))
	mux.HandleFunc("GET /v1/contests", h.HandleListContests)
	mux.HandleFunc("GET /v1/contests/{id}", h.HandleGetContest)
	mux.Handle("PATCH /v1/contests/{id}", writeRL(http.HandlerFunc(h.HandleUpdateContest)))
	mux.Handle("DELETE /v1/contests/{id}", writeRL(http.HandlerFunc(h.HandleDeleteContest)))

	// Submissions.
	mux.Handle("POST /v1/contests/{id}/texts", writeRL(http.HandlerFunc(h.HandleSubmitText)))
	mux.HandleFunc("GET /v1/contests/{id}/texts", h.HandleListSubmissions)
	mux.Handle("DELETE /v1/contests/{id}/texts/{text_id}", writeRL(http.HandlerFunc(h.HandleWithdrawText)))

	// Judge panel.
	mux.Handle("POST /v1/contests/{id}/judges", writeRL(http.HandlerFunc(h.HandleAssignJudge)))
	mux.HandleFunc("GET /v1/contests/{id}/judges", h.HandleListJudges)
	mux.Handle("DELETE /v1/contests/{id}/judges/{judge_id}", writeRL(http.HandlerFunc(h.HandleRemoveJudge)))

	// Voting and results.
	mux.Handle("POST /v1/contests/{id}/votes", writeRL(http.HandlerFunc(h.HandleSubmitVotes)))
	mux.HandleFunc("GET /v1/contests/{id}/votes", h.HandleListVotes)
	mux.HandleFunc("GET /v1/contests/{id}/results", h.HandleContestResults)

	// Model catalog.
	mux.HandleFunc("GET /v1/models", h.HandleListModels)

	// Credits (self-service).
	mux.HandleFunc("GET /v1/credits/balance", h.HandleCreditBalance)
	mux.HandleFunc("GET /v1/credits/transactions", h.HandleMyTransactions)

	// Admin surface.
	adminOnly := requireAdmin
	mux.Handle("GET /v1/admin/users", adminOnly(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("DELETE /v1/admin/users/{id}", adminOnly(http.HandlerFunc(h.HandleDeleteUser)))
	mux.Handle("PATCH /v1/admin/users/{id}/credits", adminOnly(http.HandlerFunc(h.HandleAdjustCredits)))
	mux.Handle("GET /v1/admin/credits/transactions", adminOnly(http.HandlerFunc(h.HandleListTransactions)))
	mux.Handle("GET /v1/admin/credits/usage", adminOnly(http.HandlerFunc(h.HandleUsageSummary)))

	// MCP StreamableHTTP transport (behind auth like the rest of /v1).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health and version (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)

	// Middleware chain (outermost executes first): request ID, security
	// headers, tracing, logging, CORS, auth, recovery, handler. CORS sits
	// outside auth so preflights are answered without a token but still
	// show up in logs and traces.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// userKeyFunc extracts the caller's user ID for rate limiting.
// Returns empty string for admins (exempt from rate limits).
func userKeyFunc(r *http.Request) string {
	p, ok := ctxutil.PrincipalFromContext(r.Context())
	if !ok || p.IsAdmin {
		return ""
	}
	return p.UserID.String()
}

// Handlers returns the underlying Handlers for direct access in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
