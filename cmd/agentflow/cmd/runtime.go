package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/config"
	"github.com/sicko7947/agentflow/engine"
	"github.com/sicko7947/agentflow/invoker"
	"github.com/sicko7947/agentflow/store"
)

// runtime is everything a command needs to drive the engine
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    agentflow.Store
	engine   *engine.Engine
	registry *prometheus.Registry
	closers  []func(context.Context) error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newRuntime(ctx context.Context, logOut io.Writer) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   agentflow.NewLogger(logOut, cfg.Logging.Level, cfg.Logging.Format),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, closeStore, err := openStore(ctx, cfg.Store, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.store = st
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}

	opts := []engine.EngineOption{
		engine.WithLogger(rt.logger),
		engine.WithConfig(cfg.EngineSettings()),
		engine.WithMetrics(engine.NewMetrics(rt.registry)),
	}
	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		rt.closers = append(rt.closers, tp.Shutdown)
		opts = append(opts, engine.WithTracer(tp.Tracer(cfg.Tracing.ServiceName)))
	}

	inv := invoker.NewCommandInvoker(
		invoker.Commands{
			Skill: cfg.Invoker.Skill,
			Agent: cfg.Invoker.Agent,
			Team:  cfg.Invoker.Team,
		},
		invoker.WithDir(cfg.Invoker.Dir),
		invoker.WithEnv(cfg.Invoker.Env),
		invoker.WithLogger(rt.logger),
	)

	rt.engine = engine.NewEngine(rt.store, inv, opts...)
	return rt, nil
}

// Close releases the store and flushes traces
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Error().Err(err).Msg("Failed to close resource")
		}
	}
	rt.closers = nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (agentflow.Store, func(context.Context) error, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		logger.Warn().Msg("Using in-memory store, records are lost on exit")
		return store.NewMemoryStore(), nil, nil

	case config.StoreDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		logger.Info().Str("table", cfg.Table).Msg("Using DynamoDB store")
		return store.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil, nil

	case config.StorePostgres:
		pool, err := store.NewPool(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		ps := store.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("Using PostgreSQL store")
		return ps, func(context.Context) error {
			pool.Close()
			return nil
		}, nil
	}

	return nil, nil, errors.New("unknown store driver " + string(cfg.Driver))
}
