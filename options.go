package plume

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port           int
	databaseURL    string
	logger         *slog.Logger
	version        string
	providers      []Provider
	executionHooks []ExecutionHook
}

// WithPort overrides the TCP port from config (PLUME_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithProvider registers an external LLM provider, replacing the
// built-in adapter with the same Name(). Registration order decides
// ties: the last provider registered for a name wins.
func WithProvider(p Provider) Option {
	return func(o *resolvedOptions) { o.providers = append(o.providers, p) }
}

// WithExecutionHook registers a hook to receive execution lifecycle
// notifications. Multiple hooks may be registered; all registered
// hooks receive every event.
func WithExecutionHook(hook ExecutionHook) Option {
	return func(o *resolvedOptions) { o.executionHooks = append(o.executionHooks, hook) }
}
