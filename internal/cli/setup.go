package cli

import (
	"context"
	"fmt"

	"github.com/arvid/mnemo/internal/config"
	"github.com/arvid/mnemo/internal/logger"
	"github.com/arvid/mnemo/internal/observability"
	"github.com/arvid/mnemo/internal/tracing"
	"github.com/arvid/mnemo/pkg/memory"
)

// providerFactories maps provider names to constructors. The onnx provider
// registers itself from a build-tagged file.
var providerFactories = map[string]func(cfg *config.Config) (memory.EmbeddingProvider, error){
	"openai": func(cfg *config.Config) (memory.EmbeddingProvider, error) {
		return memory.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Store.Dimension), nil
	},
	"mock": func(cfg *config.Config) (memory.EmbeddingProvider, error) {
		return memory.NewMockEmbeddingProvider(cfg.Store.Dimension), nil
	},
}

// runtime bundles everything a command needs to operate on the memory engine
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	model   *memory.Model
	index   *memory.VectorTextStore
	records *memory.RecordStore
	engine  *memory.Engine
}

// newRuntime loads config and wires the full memory stack
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	zl := log.GetZerolog()

	if err := tracing.InitOpenTelemetry("mnemo"); err != nil {
		log.Close()
		return nil, err
	}

	if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	factory, ok := providerFactories[cfg.Embedding.Provider]
	if !ok {
		log.Close()
		return nil, fmt.Errorf("embedding provider %q is not available in this build", cfg.Embedding.Provider)
	}
	provider, err := factory(cfg)
	if err != nil {
		log.Close()
		return nil, err
	}

	model, err := memory.NewModel(memory.ModelConfig{
		Provider:     provider,
		Workers:      cfg.Embedding.Workers,
		CacheEntries: int64(cfg.Embedding.CacheSize),
		Logger:       zl,
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	index, err := memory.OpenVectorTextStore(memory.VectorTextStoreConfig{
		Path:      cfg.Store.IndexPath,
		Dimension: cfg.Store.Dimension,
		Logger:    zl,
	})
	if err != nil {
		model.Close()
		log.Close()
		return nil, err
	}

	records, err := memory.OpenRecordStore(ctx, cfg.Store.RecordsPath, zl)
	if err != nil {
		index.Close()
		model.Close()
		log.Close()
		return nil, err
	}

	engine, err := memory.NewEngine(memory.EngineConfig{
		Model:   model,
		Index:   index,
		Records: records,
		Logger:  zl,
	})
	if err != nil {
		records.Close()
		index.Close()
		model.Close()
		log.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		model:   model,
		index:   index,
		records: records,
		engine:  engine,
	}, nil
}

// Close releases the runtime's resources in reverse construction order
func (r *runtime) Close() {
	r.records.Close()
	r.index.Close()
	r.model.Close()
	r.log.Close()
}
