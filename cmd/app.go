package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketflow/internal/alert"
	"marketflow/internal/config"
	"marketflow/internal/features"
	"marketflow/internal/observability"
	"marketflow/internal/pipeline"
	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/internal/source"
	"marketflow/internal/ui"
	"marketflow/pkg/models"
)

// warehouse is an open session the command must close
type warehouse interface {
	snowflake.Session
	Close() error
}

// connect opens the warehouse session. Tests replace it.
var connect = func(ctx context.Context, cfg snowflake.Config) (warehouse, error) {
	svc, err := snowflake.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// app holds everything a command needs for one run
type app struct {
	cfg      *models.Config
	log      *zap.Logger
	session  warehouse
	pipeline *pipeline.Pipeline
	pusher   *observability.Pusher
	runID    string
}

type appOptions struct {
	skipPreflight bool
}

// setup loads configuration, opens the session and wires the pipeline. The
// caller must call close when setup succeeds.
func setup(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log, err := observability.NewLogger(observability.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "marketflow",
		Version:     Version,
		Environment: cfg.Logging.Environment,
	})
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", runID))

	var preflight *source.Preflight
	if config.ObjectStoreEnabled(cfg) && !opts.skipPreflight {
		store, err := source.NewStore(ctx, source.StoreConfig{
			Bucket:          cfg.ObjectStore.Bucket,
			Region:          cfg.ObjectStore.Region,
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		preflight = source.NewPreflight(store, log)
		log.Info("source preflight enabled", zap.String("bucket", store.Bucket()))
		ui.ShowInfo(fmt.Sprintf("Checking source files in bucket %s", store.Bucket()))
	}

	session, err := connect(ctx, snowflake.ConfigFromModel(cfg.Snowflake))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	log.Info("connected to Snowflake",
		zap.String("database", cfg.Snowflake.Database),
		zap.String("schema", cfg.Snowflake.Schema))

	p, err := pipeline.New(pipeline.Deps{
		Session: session,
		RunLog:  runlog.New(session, runID, log),
		Sources: pipeline.DefaultSources(cfg.Sources),
		Features: features.Options{
			LookbackDays:    cfg.Features.LookbackDays,
			NoActivityValue: cfg.Features.NoActivityValue,
			BatchSize:       cfg.Features.BatchSize,
		},
		Preflight: preflight,
		Notifier:  alert.NewSlackNotifier(cfg.Alerts.SlackWebhookURL, cfg.Alerts.SlackChannel),
		Logger:    log,
	})
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		session:  session,
		pipeline: p,
		pusher:   observability.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, map[string]string{"environment": cfg.Logging.Environment}),
		runID:    runID,
	}, nil
}

// pushMetrics sends the run's metrics when a Pushgateway is configured.
// Failures are logged only.
func (a *app) pushMetrics(ctx context.Context) {
	if err := a.pusher.Push(ctx, a.pipeline.Metrics().Registry); err != nil {
		a.log.Warn("failed to push metrics", zap.Error(err))
	}
}

func (a *app) close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to close Snowflake session", zap.Error(err))
	}
	_ = a.log.Sync()
}
