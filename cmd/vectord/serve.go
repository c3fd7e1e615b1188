package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/completion"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/config"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/embeddings"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/httpapi"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/logging"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/migration"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/retrieval"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/syncer"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/telemetry"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vectord daemon",
	Long: `Start the vectord daemon.

Configuration is loaded from the --config file (if given) and overridden by
VECTORD_* environment variables. See internal/config for the full reference.

Examples:
  # Start with defaults (embedded chromem index, in-memory)
  vectord serve

  # Persistent index and a Qdrant backend
  vectord serve --config /etc/vectord/config.yaml
  VECTORD_INDEX_PROVIDER=qdrant VECTORD_INDEX_QDRANT_HOST=qdrant.internal vectord serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order: config, logger, telemetry, infrastructure (index,
// embedder, completion, chat store, event source), services, HTTP server.
// Shutdown reverses it: the HTTP server drains first, then the event
// subscription, then the index and telemetry.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting vectord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("index_provider", cfg.Index.Provider),
		zap.Int("vector_size", cfg.Index.VectorSize),
	)

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("events_enabled", deps.events != nil),
	)

	sync := syncer.New(deps.index, deps.embedder, deps.store, syncer.Options{
		MaxAttempts:     cfg.Sync.MaxAttempts,
		BaseBackoff:     cfg.Sync.BaseBackoff.Duration(),
		FanOutScanLimit: cfg.Sync.FanOutScanLimit,
	}, logger)

	retriever := retrieval.New(deps.index, deps.embedder, deps.store, retrieval.Options{
		TopK: cfg.Retrieval.TopK,
	}, logger)

	migrations := migration.New(deps.index, deps.embedder, deps.store, deps.completer, migration.Options{
		RatePerSecond:     cfg.Migration.RatePerSecond,
		Burst:             cfg.Migration.Burst,
		AgentHistoryLimit: cfg.Migration.AgentHistoryLimit,
	}, logger)

	srv, err := httpapi.NewServer(httpapi.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		AdminToken: cfg.Admin.Token,
	}, sync, retriever, migrations, deps.completer, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if deps.events != nil {
		go func() {
			if err := sync.Run(ctx, deps.events); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event loop exited", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}

	logger.Info("vectord stopped")
	return nil
}

// dependencies holds the infrastructure behind the services.
type dependencies struct {
	index     vectorstore.Index
	embedder  embeddings.Embedder
	completer completion.Completer
	store     chat.Store
	events    chat.Source
	logger    *zap.Logger
}

// Close releases infrastructure resources in dependency order.
func (d *dependencies) Close() {
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			d.logger.Warn("closing event source", zap.Error(err))
		}
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("closing index", zap.Error(err))
		}
	}
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	index, err := initIndex(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := initEmbedder(cfg)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	completer, err := completion.NewClient(completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		APIKey:      cfg.Completion.APIKey.Value(),
		Timeout:     cfg.Completion.Timeout.Duration(),
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
	}, logger)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("creating completion client: %w", err)
	}

	if cfg.Chat.BaseURL == "" {
		_ = index.Close()
		return nil, errors.New("chat.base_url is required")
	}
	store, err := chat.NewRESTStore(cfg.Chat.BaseURL, cfg.Chat.APIKey.Value())
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("creating chat store: %w", err)
	}

	var events chat.Source
	if cfg.Events.Enabled {
		events, err = chat.NewNATSSource(cfg.Events.URL, logger)
		if err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("connecting event source: %w", err)
		}
	}

	return &dependencies{
		index:     index,
		embedder:  embedder,
		completer: completer,
		store:     store,
		events:    events,
		logger:    logger,
	}, nil
}

func initIndex(cfg *config.Config, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.Index.Provider {
	case "chromem":
		return vectorstore.NewChromemIndex(vectorstore.ChromemOptions{
			Path:       cfg.Index.Chromem.Path,
			Compress:   cfg.Index.Chromem.Compress,
			VectorSize: cfg.Index.VectorSize,
		}, logger)
	case "qdrant":
		return vectorstore.NewQdrantIndex(vectorstore.QdrantOptions{
			Host:       cfg.Index.Qdrant.Host,
			Port:       cfg.Index.Qdrant.Port,
			UseTLS:     cfg.Index.Qdrant.UseTLS,
			APIKey:     cfg.Index.Qdrant.APIKey.Value(),
			VectorSize: cfg.Index.VectorSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Index.Provider)
	}
}

func initEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	// Records with the wrong dimension are rejected at upsert, so a model
	// that disagrees with the index size can never work. Fail here instead.
	if dim := embeddings.Dimensions(cfg.Embedding.Model); dim != 0 && dim != cfg.Index.VectorSize {
		return nil, fmt.Errorf("embedding model %s produces %d dimensions but index.vector_size is %d",
			cfg.Embedding.Model, dim, cfg.Index.VectorSize)
	}

	embCfg := embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey.Value(),
	}

	switch cfg.Embedding.Provider {
	case "langchain":
		return embeddings.NewLangchainEmbedder(embCfg)
	case "openai":
		return embeddings.NewService(embCfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
