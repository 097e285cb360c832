// Package pipeline runs the marketing pipeline end to end: raw loads, data
// quality checks, dimension and fact merges, then feature computation. Steps
// run one at a time on a single session and the first failure ends the run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"marketflow/internal/alert"
	"marketflow/internal/features"
	"marketflow/internal/ingest"
	"marketflow/internal/observability"
	"marketflow/internal/quality"
	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/internal/source"
	"marketflow/internal/transform"
	"marketflow/pkg/models"
)

const (
	StepEnsureLogTables = "ensure_log_tables"
	StepPipeline        = "pipeline"
)

// Source is one raw input: where it is staged, where it lands, and the key
// its quality checks run against.
type Source struct {
	Table     ingest.Table
	Stage     ingest.Stage
	ObjectKey string
	KeyColumn string
}

// DefaultSources returns the demographics and clickstream inputs in load order
func DefaultSources(cfg models.Sources) []Source {
	stage := func(s models.Stage) ingest.Stage {
		return ingest.Stage{Name: s.Name, FileFormat: s.FileFormat, Pattern: s.Pattern, OnError: cfg.OnError}
	}
	return []Source{
		{
			Table:     ingest.CustomerDemographics,
			Stage:     stage(cfg.CSV),
			ObjectKey: cfg.CSV.ObjectKey,
			KeyColumn: "customer_id",
		},
		{
			Table:     ingest.Clickstream,
			Stage:     stage(cfg.JSON),
			ObjectKey: cfg.JSON.ObjectKey,
			KeyColumn: "event_id",
		},
	}
}

// Deps are the collaborators of a run. Preflight, Notifier, Metrics and Clock
// are optional.
type Deps struct {
	Session   snowflake.Session
	RunLog    *runlog.Logger
	Sources   []Source
	Features  features.Options
	Preflight *source.Preflight
	Notifier  alert.Notifier
	Metrics   *observability.PipelineMetrics
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Pipeline is a configured run
type Pipeline struct {
	deps        Deps
	transformer *transform.Transformer
	engineer    *features.Engineer
	log         *zap.Logger
}

func New(deps Deps) (*Pipeline, error) {
	if deps.Session == nil {
		return nil, fmt.Errorf("pipeline requires a session")
	}
	if deps.RunLog == nil {
		return nil, fmt.Errorf("pipeline requires a run logger")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewPipelineMetrics()
	}

	engineer, err := features.NewEngineer(deps.Session, deps.RunLog, deps.Clock, deps.Features, deps.Logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		deps:        deps,
		transformer: transform.NewTransformer(deps.Session, deps.RunLog, deps.Logger),
		engineer:    engineer,
		log:         deps.Logger,
	}, nil
}

// Metrics returns the collectors updated by Run
func (p *Pipeline) Metrics() *observability.PipelineMetrics {
	return p.deps.Metrics
}

type step struct {
	name string
	run  func(ctx context.Context, report *Report) (int64, error)
}

// Steps returns the step names Run executes, in order
func (p *Pipeline) Steps() []string {
	steps := p.plan(time.Time{})
	names := make([]string, 0, len(steps)+1)
	names = append(names, StepEnsureLogTables)
	for _, s := range steps {
		names = append(names, s.name)
	}
	return names
}

func (p *Pipeline) plan(asOf time.Time) []step {
	var steps []step

	if p.deps.Preflight != nil {
		for _, src := range p.deps.Sources {
			if src.ObjectKey == "" {
				continue
			}
			steps = append(steps, step{
				name: "preflight_" + strings.ToLower(src.Table.Name),
				run: func(ctx context.Context, _ *Report) (int64, error) {
					profile, err := p.deps.Preflight.Check(ctx, src.ObjectKey, src.Table)
					if err != nil {
						return 0, err
					}
					return int64(profile.Records), nil
				},
			})
		}
	}

	for _, src := range p.deps.Sources {
		steps = append(steps, step{
			name: src.Table.Step,
			run: func(ctx context.Context, _ *Report) (int64, error) {
				return ingest.NewLoader(p.deps.Session, src.Table, p.deps.RunLog, p.log).Load(ctx, src.Stage)
			},
		})
	}

	for _, src := range p.deps.Sources {
		target := quality.Target{Table: src.Table.Name, KeyColumn: src.KeyColumn}
		steps = append(steps, step{
			name: target.Step(),
			run: func(ctx context.Context, report *Report) (int64, error) {
				checker := quality.NewChecker(p.deps.Session, target, p.deps.RunLog, p.deps.Notifier, p.log)
				results, err := checker.RunChecks(ctx)
				for _, r := range results {
					p.deps.Metrics.CheckResults.WithLabelValues(r.Table, r.CheckName, string(r.Status)).Inc()
				}
				report.Checks = append(report.Checks, results...)
				return int64(len(results)), err
			},
		})
	}

	steps = append(steps,
		step{name: transform.DimCustomerStep, run: func(ctx context.Context, _ *Report) (int64, error) {
			return p.transformer.MergeCustomerDimension(ctx)
		}},
		step{name: transform.FactClickEventsStep, run: func(ctx context.Context, _ *Report) (int64, error) {
			return p.transformer.MergeClickEvents(ctx)
		}},
		step{name: features.CatalogStep, run: func(ctx context.Context, _ *Report) (int64, error) {
			return int64(len(p.engineer.Definitions())), p.engineer.RegisterCatalog(ctx)
		}},
		step{name: features.ComputeStep, run: func(ctx context.Context, _ *Report) (int64, error) {
			n, err := p.engineer.Compute(ctx, asOf)
			return int64(n), err
		}},
	)
	return steps
}

// Run executes every step for asOf. A zero asOf computes features as of
// today. The report covers the steps that ran, including the failed one.
func (p *Pipeline) Run(ctx context.Context, asOf time.Time) (*Report, error) {
	clock := p.deps.Clock
	report := &Report{RunID: p.deps.RunLog.RunID(), AsOf: asOf, StartedAt: clock.Now()}
	log := p.log.With(zap.String("run_id", report.RunID))

	start := clock.Now()
	p.deps.RunLog.EnsureTables(ctx)
	report.add(StepResult{Name: StepEnsureLogTables, Status: StatusSucceeded, Duration: clock.Since(start)})

	p.deps.RunLog.Info(ctx, StepPipeline, "Pipeline run started")

	for _, s := range p.plan(asOf) {
		if err := ctx.Err(); err != nil {
			return report, p.abort(ctx, report, s.name, err)
		}

		log.Info("running step", zap.String("step", s.name))
		start := clock.Now()
		rows, err := s.run(ctx, report)
		elapsed := clock.Since(start)

		p.deps.Metrics.StepDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())
		result := StepResult{Name: s.name, Rows: rows, Duration: elapsed, Status: StatusSucceeded}
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
		}
		report.add(result)
		p.deps.Metrics.StepRuns.WithLabelValues(s.name, string(result.Status)).Inc()

		if err != nil {
			return report, p.abort(ctx, report, s.name, err)
		}
		p.deps.Metrics.RowsWritten.WithLabelValues(s.name).Set(float64(rows))
	}

	report.FinishedAt = clock.Now()
	p.deps.Metrics.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	p.deps.RunLog.Info(ctx, StepPipeline,
		fmt.Sprintf("Pipeline run completed in %s", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))
	return report, nil
}

func (p *Pipeline) abort(ctx context.Context, report *Report, stepName string, err error) error {
	report.FinishedAt = p.deps.Clock.Now()
	// the failure row must outlive a cancelled run
	p.deps.RunLog.Error(context.WithoutCancel(ctx), StepPipeline, fmt.Sprintf("Pipeline run failed at %s", stepName), err)
	return fmt.Errorf("%s: %w", stepName, err)
}

// RegisterFeatures only upserts the feature catalog
func (p *Pipeline) RegisterFeatures(ctx context.Context) error {
	p.deps.RunLog.EnsureTables(ctx)
	return p.engineer.RegisterCatalog(ctx)
}
