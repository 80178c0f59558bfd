// Package kioku is the public API for embedding the Kioku memory and
// confidence engine.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := kioku.New(
//	    kioku.WithVersion(version),
//	    kioku.WithLogger(logger),
//	    kioku.WithEmbeddingProvider(myProvider),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kioku (root)
// imports internal/*, but internal/* never imports kioku (root).
// Public types (Statement, Finding, etc.) are standalone structs with
// no internal imports; the adapters live here because this is the only
// file that sees both sides of the boundary.
package kioku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/contradiction"
	kiokumcp "github.com/kioku-ai/kioku/internal/mcp"
	"github.com/kioku-ai/kioku/internal/ratelimit"
	"github.com/kioku-ai/kioku/internal/resume"
	"github.com/kioku-ai/kioku/internal/scoring"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/server"
	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/service/memory"
	"github.com/kioku-ai/kioku/internal/service/sessions"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
	"github.com/kioku-ai/kioku/migrations"
)

// App is the Kioku server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	mgr          *sessions.Manager
	embedWorker  *memory.EmbedWorker
	indexWorker  *search.IndexWorker // nil when Qdrant is not configured
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kioku server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call
// Run().
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
	if o.checklistPath != "" {
		cfg.ChecklistPath = o.checklistPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kioku starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database and apply migrations.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Verify the schema landed. If pgvector is missing the migration
	// fails half-applied and the server would start with no usable
	// schema.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'sessions')`,
	).Scan(&schemaOK); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'sessions' does not exist after migration, check that the pgvector extension is available")
	}

	// Load the topic checklist.
	cl, err := loadChecklist(cfg, logger)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	scoreCfg := scoring.DefaultConfig()
	scoreCfg.SpecificityTarget = cfg.SpecificityTarget
	scoreCfg.ReadinessThreshold = cfg.ReadinessThreshold

	// Embedding provider — external override takes priority over
	// auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = providerAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}
	mem := memory.NewStore(db, embedder, logger)
	embedWorker := memory.NewEmbedWorker(db, embedder, logger, cfg.EmbedPollInterval, cfg.EmbedBatchSize)

	// Qdrant cross-session index (optional, disabled if QDRANT_URL is
	// empty).
	var qdrantIndex *search.QdrantIndex
	var indexWorker *search.IndexWorker
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		mem.AttachSearcher(qdrantIndex)
		indexWorker = search.NewIndexWorker(db, qdrantIndex, logger, cfg.EmbedPollInterval, cfg.EmbedBatchSize)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Contradiction detector, wrapped so a misbehaving backend can
	// never take down a write path. External override takes priority.
	var inner contradiction.Detector
	if o.detector != nil {
		inner = detectorAdapter{d: o.detector}
	} else {
		inner = newDetector(cfg, logger)
	}
	detector := contradiction.SafeDetector{Inner: inner, Logger: logger}

	mgr := sessions.NewManager(db, mem, detector, cl, scoreCfg, logger)

	// Resume context builder.
	budget := resume.DefaultBudget()
	budget.Total = cfg.ResumeTokenBudget
	rb := resume.NewBuilder(db, cl, scoreCfg, resume.NewTokenCounter(), budget)

	// MCP server.
	mcpSrv := kiokumcp.New(mgr, mem, rb, logger, version)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		DB:                  db,
		Sessions:            mgr,
		Memory:              mem,
		Resume:              rb,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		mgr:          mgr,
		embedWorker:  embedWorker,
		indexWorker:  indexWorker,
		qdrantIndex:  qdrantIndex,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the outbox workers, the abandonment sweep, and the HTTP
// server, then blocks until ctx is cancelled or a fatal server error
// occurs. On return, Shutdown is called automatically — callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.embedWorker.Start(ctx)
	if a.indexWorker != nil {
		a.indexWorker.Start(ctx)
	}
	go a.mgr.RunAbandonmentSweep(ctx, a.cfg.AbandonTimeout, a.cfg.SweepInterval)

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

// Shutdown performs a phased graceful shutdown. Each phase gets its own
// timeout so early completion doesn't steal budget from later phases.
// Order: stop accepting HTTP and drain in-flight requests (they may
// still enqueue embeds), wait out async contradiction detection, then
// flush the outbox workers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kioku shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	detectCtx, detectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.mgr.Shutdown(detectCtx); err != nil {
		a.logger.Warn("detection shutdown incomplete", "error", err)
	}
	detectCancel()

	embedCtx, embedCancel := context.WithTimeout(ctx, 10*time.Second)
	a.embedWorker.Drain(embedCtx)
	embedCancel()

	if a.indexWorker != nil {
		indexCtx, indexCancel := context.WithTimeout(ctx, 10*time.Second)
		a.indexWorker.Drain(indexCtx)
		indexCancel()
	}

	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("kioku stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ──────

// providerAdapter wraps a public EmbeddingProvider to satisfy the
// internal embedding.Provider interface.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, err := a.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a providerAdapter) Dimensions() int { return a.p.Dimensions() }

// detectorAdapter wraps a public Detector to satisfy
// contradiction.Detector, converting statement and finding types at the
// boundary.
type detectorAdapter struct {
	d Detector
}

func (a detectorAdapter) Detect(ctx context.Context, topic string, statements []contradiction.Statement) ([]contradiction.Finding, error) {
	in := make([]Statement, len(statements))
	for i, s := range statements {
		in[i] = Statement{Index: s.Index, Text: s.Text}
	}
	findings, err := a.d.Detect(ctx, topic, in)
	if err != nil {
		return nil, err
	}
	out := make([]contradiction.Finding, len(findings))
	for i, f := range findings {
		out[i] = contradiction.Finding{IndexA: f.IndexA, IndexB: f.IndexB, Explanation: f.Explanation}
	}
	return out, nil
}

// ── Helpers ───────────────────────────────────────────────────────────

func loadChecklist(cfg config.Config, logger *slog.Logger) (*checklist.Checklist, error) {
	if cfg.ChecklistPath == "" {
		logger.Info("checklist: built-in")
		return checklist.Default(), nil
	}
	cl, err := checklist.Load(cfg.ChecklistPath)
	if err != nil {
		return nil, fmt.Errorf("checklist %s: %w", cfg.ChecklistPath, err)
	}
	logger.Info("checklist: loaded", "path", cfg.ChecklistPath, "topics", len(cl.Topics))
	return cl, nil
}

// newEmbeddingProvider creates an embedding provider based on
// configuration. Provider selection: "ollama", "openai", "noop", or
// "auto" (default). Auto mode tries Ollama if reachable, then OpenAI if
// a key is present, else noop. Ollama is preferred: embeddings stay
// on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KIOKU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// newDetector mirrors the embedding provider selection for the
// contradiction detector backend.
func newDetector(cfg config.Config, logger *slog.Logger) contradiction.Detector {
	switch cfg.DetectorProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KIOKU_DETECTOR_PROVIDER=openai")
			return contradiction.NoopDetector{}
		}
		logger.Info("contradiction detector: openai", "model", cfg.DetectorModel)
		return contradiction.NewOpenAIDetector(cfg.OpenAIAPIKey, cfg.DetectorModel)

	case "ollama":
		logger.Info("contradiction detector: ollama", "url", cfg.OllamaURL, "model", cfg.DetectorModel)
		return contradiction.NewOllamaDetector(cfg.OllamaURL, detectorModel(cfg))

	case "noop":
		logger.Info("contradiction detector: noop")
		return contradiction.NoopDetector{}

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("contradiction detector: ollama (auto-detected)", "url", cfg.OllamaURL)
			return contradiction.NewOllamaDetector(cfg.OllamaURL, detectorModel(cfg))
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("contradiction detector: openai (auto-detected)")
			return contradiction.NewOpenAIDetector(cfg.OpenAIAPIKey, cfg.DetectorModel)
		}
		logger.Warn("no detector backend available, contradiction detection disabled")
		return contradiction.NoopDetector{}
	}
}

func detectorModel(cfg config.Config) string {
	if cfg.DetectorModel != "" {
		return cfg.DetectorModel
	}
	return "llama3.2"
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
