package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nextvibe/nextvibe/internal/classify"
	"github.com/nextvibe/nextvibe/internal/config"
	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/engine"
	"github.com/nextvibe/nextvibe/internal/llm"
	"github.com/nextvibe/nextvibe/internal/llm/anthropic"
	"github.com/nextvibe/nextvibe/internal/llm/gemini"
	"github.com/nextvibe/nextvibe/internal/llm/openai"
	"github.com/nextvibe/nextvibe/internal/observability"
	"github.com/nextvibe/nextvibe/internal/ratelimit"
	"github.com/nextvibe/nextvibe/internal/router"
	"github.com/nextvibe/nextvibe/internal/sandbox"
	"github.com/nextvibe/nextvibe/internal/secrets"
	"github.com/nextvibe/nextvibe/internal/storage"
	pgstore "github.com/nextvibe/nextvibe/internal/storage/postgres"
	sqlitestore "github.com/nextvibe/nextvibe/internal/storage/sqlite"
	"github.com/nextvibe/nextvibe/internal/transcribe"
	"github.com/nextvibe/nextvibe/internal/workspace"
)

// SharedComponents holds all initialized subsystems the serve command wires
// together. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // Unified store (SQLite or PostgreSQL).

	Obs         *observability.Observability
	Provider    llm.Provider
	Generator   *llm.Generator
	Sandbox     sandbox.Sandbox
	Limiter     *ratelimit.Limiter
	Engine      *engine.Engine
	Transcriber transcribe.Transcriber // nil = voice messages rejected.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared builds the full task pipeline: workspace, observability,
// collaborator providers, storage, sandbox, classifier, and engine.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace. The runtime root is the parent of the data directory, so a
	// custom NEXTVIBE_DATA_DIR relocates sandbox scratch and logs with it.
	ws, err := workspace.New(filepath.Dir(cfg.ResolvedDataDir()))
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace directories: %w", err)
	}
	// Scratch dirs orphaned by a previous crash are garbage by now.
	if err := ws.CleanSandbox(); err != nil {
		logger.Warn("cleaning sandbox scratch dirs", slog.String("error", err.Error()))
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Secrets. Provider API keys and gateway tokens may be plain values or
	// env:// / vault:// references; resolve them once, up front.
	if err := resolveCredentials(cfg, logger); err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Collaborator provider chain: configured default, optional fallbacks,
	// retry-once on transient failures, metrics instrumentation.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing collaborator provider: %w", err)
	}
	logger.Debug("collaborator provider initialized", slog.String("provider", provider.Name()))

	provider = llm.NewRetryProvider(provider, cfg.Engine.RetryBackoff(), logger)
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(
			provider, obs.Metrics, obs.TracerOrNil(), obs.Anomaly,
		)
	}
	sc.Provider = provider
	sc.Generator = llm.NewGenerator(provider, logger)

	// Storage (SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Admission control.
	sc.Limiter = ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.RateLimit.RequestsPerWindow,
		Window: cfg.RateLimit.Window(),
	})

	// Sandbox.
	sbx, err := initSandbox(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}
	logger.Debug("sandbox initialized",
		slog.String("type", cfg.Sandbox.Backend()),
		slog.Int("max_memory_mb", cfg.Sandbox.MaxMemoryMB),
		slog.Duration("max_execution", cfg.Sandbox.ExecutionTimeout()),
	)

	var sbxIface sandbox.Sandbox = sbx
	if obs != nil && obs.Metrics != nil {
		sbxIface = observability.NewInstrumentedSandbox(
			sbx, cfg.Sandbox.Backend(), obs.Metrics, obs.TracerOrNil(), obs.Anomaly,
		)
	}
	sc.Sandbox = sbxIface

	// Classification pipeline: deterministic rules first, collaborator
	// fallback for inputs the rules have no confident opinion on.
	pipeline := classify.NewPipeline(logger,
		classify.NewRuleClassifier(classify.RuleConfig{
			KeywordWeight:    cfg.Classifier.KeywordWeight,
			StackTraceWeight: cfg.Classifier.StackTraceWeight,
			CodeBlockWeight:  cfg.Classifier.CodeBlockWeight,
			MinConfidence:    cfg.Classifier.MinConfidence,
		}),
		classify.NewLLMClassifier(sc.Generator, cfg.Classifier.UncertaintyPenalty),
	)

	// Every category routes to the same generate-and-execute handler; the
	// category shapes the collaborator prompt, not the pipeline.
	handler := engine.NewTaskHandler(sc.Generator, sbxIface, engine.ExecLimits{
		Timeout:        cfg.Sandbox.ExecutionTimeout(),
		MaxMemoryMB:    cfg.Sandbox.MaxMemoryMB,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}, logger)
	dispatcher := router.NewDispatcher(logger)
	for _, cat := range domain.CategoryPriority {
		dispatcher.Register(cat, handler)
	}

	sc.Engine = engine.NewEngine(sc.Limiter, pipeline, dispatcher, store, obs, logger, engine.Config{
		TaskTimeout:   cfg.Engine.TaskTimeout(),
		MaxInputBytes: cfg.Engine.MaxInput(),
	})

	// Voice transcription (optional).
	if cfg.Transcription != nil && cfg.Transcription.Enabled {
		var opts []transcribe.Option
		if cfg.Transcription.BaseURL != "" {
			opts = append(opts, transcribe.WithBaseURL(cfg.Transcription.BaseURL))
		}
		if cfg.Transcription.Model != "" {
			opts = append(opts, transcribe.WithModel(cfg.Transcription.Model))
		}
		var tr transcribe.Transcriber = transcribe.NewClient(cfg.Transcription.APIKey, logger, opts...)
		if obs != nil && obs.Metrics != nil {
			tr = observability.NewInstrumentedTranscriber(tr, obs.Metrics)
		}
		sc.Transcriber = tr
		logger.Debug("transcription enabled", slog.String("model", cfg.Transcription.Model))
	}

	return sc, nil
}

// resolveCredentials resolves env:// and vault:// references in credential
// config fields. Plain values pass through untouched. The Vault backend is
// attached only when VAULT_ADDR is set.
func resolveCredentials(cfg *config.Config, logger *slog.Logger) error {
	providers := []secrets.Provider{secrets.NewEnvProvider()}
	if os.Getenv("VAULT_ADDR") != "" {
		vp, err := secrets.NewVaultProvider(nil)
		if err != nil {
			return fmt.Errorf("configuring vault provider: %w", err)
		}
		providers = append(providers, vp)
		logger.Debug("vault secret provider enabled")
	}
	resolver := secrets.NewCompositeProvider(providers...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields := map[string]*string{
		"providers.anthropic.api_key": &cfg.Providers.Anthropic.APIKey,
		"providers.openai.api_key":    &cfg.Providers.OpenAI.APIKey,
		"providers.gemini.api_key":    &cfg.Providers.Gemini.APIKey,
	}
	if cfg.Gateways.Telegram != nil {
		fields["gateways.telegram.bot_token"] = &cfg.Gateways.Telegram.BotToken
	}
	if cfg.Transcription != nil {
		fields["transcription.api_key"] = &cfg.Transcription.APIKey
	}

	for name, field := range fields {
		resolved, err := secrets.MaybeResolve(ctx, resolver, *field)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
		*field = resolved
	}
	return nil
}

// newLLMProvider builds the configured provider, wrapping it in a fallback
// chain when cfg.Providers.Fallback names alternates.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := providerByName(cfg, cfg.Providers.Default, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.Fallback) == 0 {
		return primary, nil
	}

	chain := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		p, err := providerByName(cfg, name, logger)
		if err != nil {
			return nil, fmt.Errorf("fallback provider %q: %w", name, err)
		}
		chain = append(chain, p)
	}
	return llm.NewFallbackProvider(chain, logger), nil
}

func providerByName(cfg *config.Config, name string, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "", "anthropic":
		return anthropic.NewClient(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model, logger), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model, logger, opts...), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.Model, logger, opts...), nil
	case "ollama":
		// Ollama speaks the OpenAI chat API; no key required.
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", cfg.Providers.Ollama.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, gemini, or ollama)", name)
	}
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case storage.DriverPostgres:
		pc := cfg.Storage.Postgres
		if pc == nil || pc.DSN == "" {
			return nil, fmt.Errorf("storage.driver=postgres requires storage.postgres.dsn")
		}
		return pgstore.Open(pgstore.Config{
			DSN:             pc.DSN,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pc.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		sqliteCfg := sqlitestore.Config{Path: ws.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqliteCfg, logger)
	}
}

// initSandbox builds the process or docker sandbox per config. Scratch dirs
// live under the workspace so CleanSandbox can sweep orphans at startup.
func initSandbox(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (sandbox.Sandbox, error) {
	registry, err := sandbox.NewRegistry(cfg.Sandbox.AllowedLanguages)
	if err != nil {
		return nil, err
	}

	switch cfg.Sandbox.Backend() {
	case "docker":
		return sandbox.NewDockerSandbox(sandbox.DockerConfig{
			DefaultTimeout:     cfg.Sandbox.ExecutionTimeout(),
			DefaultMemoryMB:    cfg.Sandbox.MaxMemoryMB,
			DefaultOutputBytes: cfg.Sandbox.MaxOutputBytes,
			CPUCores:           cfg.Sandbox.Docker.CPUCores,
			PIDsLimit:          cfg.Sandbox.Docker.PIDsLimit,
			ScratchDir:         ws.SandboxDir(),
		}, registry, logger), nil
	default:
		return sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout:     cfg.Sandbox.ExecutionTimeout(),
			DefaultMemoryMB:    cfg.Sandbox.MaxMemoryMB,
			DefaultOutputBytes: cfg.Sandbox.MaxOutputBytes,
			CPUSeconds:         cfg.Sandbox.MaxCPUSeconds,
			ScratchDir:         ws.SandboxDir(),
		}, registry, logger), nil
	}
}
