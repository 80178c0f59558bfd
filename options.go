package kioku

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	checklistPath     string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	detector          Detector
}

// WithPort overrides the TCP port from config (KIOKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithChecklistPath overrides the elicitation checklist YAML path from
// config (KIOKU_CHECKLIST_PATH env var).
func WithChecklistPath(path string) Option {
	return func(o *resolvedOptions) { o.checklistPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint
// and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/OpenAI/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithDetector replaces the auto-detected contradiction detector
// backend. The App still wraps it in the degrade-to-empty policy.
func WithDetector(d Detector) Option {
	return func(o *resolvedOptions) { o.detector = d }
}
