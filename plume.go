// Package plume is the public API for embedding the Plume contest server.
//
// External consumers import this package to construct and extend the server
// without forking it:
//
//	app, err := plume.New(
//	    plume.WithVersion(version),
//	    plume.WithLogger(logger),
//	    plume.WithProvider(myGatewayProvider{}),
//	    plume.WithExecutionHook(myMonitorHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: plume (root) imports
// internal/*, but internal/* never imports plume (root). Public types
// (GenerationRequest, ExecutionEvent, etc.) are standalone structs with no
// internal imports; the adapters live here because this is the only file
// that sees both sides of the boundary.
package plume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/plumelit/plume/api"
	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/config"
	"github.com/plumelit/plume/internal/llm"
	"github.com/plumelit/plume/internal/mcp"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/ratelimit"
	"github.com/plumelit/plume/internal/server"
	"github.com/plumelit/plume/internal/service/credits"
	"github.com/plumelit/plume/internal/service/execution"
	"github.com/plumelit/plume/internal/service/judging"
	"github.com/plumelit/plume/internal/service/results"
	"github.com/plumelit/plume/internal/storage"
	"github.com/plumelit/plume/internal/strategy"
	"github.com/plumelit/plume/internal/telemetry"
	"github.com/plumelit/plume/internal/tokenizer"
	"github.com/plumelit/plume/migrations"
)

// App is the Plume server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	execSvc      *execution.Service
	registry     *llm.Registry
	limiter      ratelimit.Limiter // nil when rate limiting is disabled
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Plume server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("plume starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations.
	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager. Empty key paths generate an ephemeral keypair,
	// which invalidates all tokens on restart — fine for dev, not prod.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	if cfg.JWTPrivateKeyPath == "" {
		logger.Warn("jwt: ephemeral keypair in use — tokens will not survive a restart",
			"hint", "run scripts/genkey and set PLUME_JWT_PRIVATE_KEY / PLUME_JWT_PUBLIC_KEY")
	}

	// Parse the model catalog: embedded by default, replaced wholesale
	// when the operator points PLUME_MODELS_FILE at their own pricing.
	cat, err := catalog.New()
	if cfg.ModelsFile != "" {
		cat, err = catalog.NewFromFile(cfg.ModelsFile)
	}
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("catalog: %w", err)
	}

	estimator := tokenizer.New()

	// LLM providers: built-in adapters from API keys, then external
	// overrides. Register is keyed by name, so an external provider
	// replaces the built-in for the same backend.
	registry := llm.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		registry.Register(llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Timeout:     cfg.ProviderTimeout,
			Concurrency: cfg.BatchConcurrency,
		}, logger))
		logger.Info("llm provider: openai", "base_url", cfg.OpenAIBaseURL)
	}
	if cfg.AnthropicAPIKey != "" {
		registry.Register(llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:          cfg.AnthropicAPIKey,
			Timeout:         cfg.ProviderTimeout,
			PollInterval:    cfg.BatchPollInterval,
			PollMaxAttempts: cfg.BatchPollMaxAttempts,
		}, logger))
		logger.Info("llm provider: anthropic")
	}
	for _, p := range o.providers {
		registry.Register(&providerAdapter{p: p})
		logger.Info("llm provider: external", "name", p.Name())
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no llm providers configured — agent executions will fail",
			"hint", "set OPENAI_API_KEY and/or ANTHROPIC_API_KEY")
	}

	writer := strategy.NewWriter(registry, int64(cfg.DefaultMaxTokens), logger)
	judge := strategy.NewJudge(registry, int64(cfg.DefaultMaxTokens), logger)

	// Services.
	creditsSvc := credits.New(db, logger)
	resultsSvc := results.New(db, logger)
	judgingSvc := judging.New(db, resultsSvc, logger)

	// Adapt execution hooks from public plume.ExecutionHook to the
	// internal service interface.
	var hooks []execution.ExecutionHook
	for _, h := range o.executionHooks {
		hooks = append(hooks, &executionHookAdapter{hook: h})
	}

	execSvc := execution.New(db, cat, estimator, writer, judge, judgingSvc, logger, hooks)

	// MCP server (mounted at /mcp behind the same auth chain).
	mcpSrv := mcp.New(db, execSvc, creditsSvc, cat, logger, version)

	// Rate limiter. Redis gives one shared quota across instances;
	// memory is per-process.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		if cfg.RedisURL != "" {
			limiter, err = ratelimit.NewRedisLimiter(cfg.RedisURL, int(cfg.RateLimitRPS*60), time.Minute)
			if err != nil {
				db.Close()
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
			logger.Info("rate limiting: redis (shared sliding window)",
				"requests_per_minute", int(cfg.RateLimitRPS*60))
		} else {
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			logger.Info("rate limiting: memory (in-process token bucket)",
				"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		}
	} else {
		logger.Info("rate limiting: disabled")
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Catalog:             cat,
		CreditsSvc:          creditsSvc,
		JudgingSvc:          judgingSvc,
		ResultsSvc:          resultsSvc,
		ExecutionSvc:        execSvc,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		TrustProxy:          cfg.TrustProxy,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		OpenAPISpec:         api.OpenAPISpec,
	})

	// Seed the bootstrap admin account.
	if err := seedAdmin(context.Background(), db, cfg, logger); err != nil {
		if limiter != nil {
			_ = limiter.Close()
		}
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		execSvc:      execSvc,
		registry:     registry,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the watchdog and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.execSvc.RunWatchdog(ctx, a.cfg.WatchdogInterval, a.cfg.ExecutionStaleAfter)
	go a.validateProviders(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the rate limiter,
// OTEL providers, and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("plume shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Error("rate limiter close error", "error", err)
		}
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("plume stopped")
	return nil
}

// validateProviders checks each registered provider's credentials once,
// off the request path. A dead key surfaces here instead of on the
// first paid execution. Failures are logged, never fatal.
func (a *App) validateProviders(ctx context.Context) {
	for _, name := range a.registry.Names() {
		p, err := a.registry.Provider(name)
		if err != nil {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := p.ValidateCredentials(vctx); err != nil {
			a.logger.Warn("llm provider credential check failed", "provider", name, "error", err)
		} else {
			a.logger.Info("llm provider credentials verified", "provider", name)
		}
		cancel()
	}
}

// seedAdmin creates the bootstrap admin account when configured and
// absent. Existing usernames are left untouched.
func seedAdmin(ctx context.Context, db *storage.DB, cfg config.Config, logger *slog.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("admin bootstrap skipped",
			"hint", "set PLUME_ADMIN_EMAIL and PLUME_ADMIN_PASSWORD to create one")
		return nil
	}
	if _, err := db.GetUserByUsername(ctx, cfg.AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(cfg.AdminPassword) < model.MinPasswordLen {
		return fmt.Errorf("PLUME_ADMIN_PASSWORD must be at least %d characters", model.MinPasswordLen)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	u, err := db.CreateUser(ctx, model.User{
		Username:     cfg.AdminUsername,
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		IsAdmin:      true,
	})
	if err != nil {
		return err
	}
	logger.Info("bootstrap admin created", "username", u.Username, "user_id", u.ID)
	return nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// providerAdapter wraps a public plume.Provider to satisfy llm.Provider.
type providerAdapter struct {
	p Provider
}

func (a *providerAdapter) Name() model.Provider {
	return model.Provider(a.p.Name())
}

func (a *providerAdapter) ValidateCredentials(ctx context.Context) error {
	return a.p.ValidateCredentials(ctx)
}

func (a *providerAdapter) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
	g, err := a.p.Generate(ctx, toPublicRequest(req))
	if err != nil {
		return llm.Generation{}, err
	}
	return llm.Generation{Text: g.Text, PromptTokens: g.PromptTokens, CompletionTokens: g.CompletionTokens}, nil
}

func (a *providerAdapter) GenerateBatch(ctx context.Context, reqs []llm.GenerateRequest) ([]llm.Generation, error) {
	pubReqs := make([]GenerationRequest, len(reqs))
	for i, r := range reqs {
		pubReqs[i] = toPublicRequest(r)
	}
	gens, err := a.p.GenerateBatch(ctx, pubReqs)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Generation, len(gens))
	for i, g := range gens {
		out[i] = llm.Generation{Text: g.Text, PromptTokens: g.PromptTokens, CompletionTokens: g.CompletionTokens}
	}
	return out, nil
}

// executionHookAdapter wraps a plume.ExecutionHook to satisfy
// execution.ExecutionHook. It converts internal model types to public
// plume types at the boundary.
type executionHookAdapter struct {
	hook ExecutionHook
}

func (a *executionHookAdapter) OnExecutionFinished(ctx context.Context, exec model.AgentExecution) error {
	return a.hook.OnExecutionFinished(ctx, toPublicExecution(exec))
}

// ── Type converters ────────────────────────────────────────────────────────────

func toPublicRequest(req llm.GenerateRequest) GenerationRequest {
	return GenerationRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// toPublicExecution converts an internal model.AgentExecution to the public
// plume.ExecutionEvent. Lives here because this is the only file that
// imports both sides of the boundary.
func toPublicExecution(e model.AgentExecution) ExecutionEvent {
	return ExecutionEvent{
		ID:            e.ID,
		AgentID:       e.AgentID,
		OwnerID:       e.OwnerID,
		Type:          string(e.Type),
		Model:         e.Model,
		Status:        string(e.Status),
		ResultID:      e.ResultID,
		ErrorMessage:  e.ErrorMessage,
		CreditsUsed:   e.CreditsUsed,
		ParseFallback: e.ParseFallback,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
