package migrate

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dbmigrator/internal/db"
)

const tracerName = "dbmigrator/internal/migrate"

// Provider is what the engine needs from a database session: the
// Transformer handed to migrations plus version tracking and transactions.
type Provider interface {
	db.Transformer

	AppliedVersions(ctx context.Context) ([]int64, error)
	MarkApplied(ctx context.Context, version int64) error
	MarkUnapplied(ctx context.Context, version int64) error

	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
}

// State is the engine's position in a run.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateExecuting State = "executing"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// Result describes one run. Executed lists only the steps that committed
// (or, in a dry run, were logged).
type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Plan     Plan      `json:"plan"`
	Executed []Step    `json:"executed"`
	DryRun   bool      `json:"dry_run"`
	State    State     `json:"state"`
}

type Option func(e *Engine)

// WithSchema selects the schema tag whose history the engine manages.
func WithSchema(schema string) Option {
	return func(e *Engine) { e.schema = schema }
}

// WithDryRun makes runs resolve and log steps without executing them.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine moves a database between versions of a catalog. It is
// single-threaded: one engine drives one provider at a time.
type Engine struct {
	provider Provider
	catalog  Catalog
	schema   string
	dryRun   bool
	logger   *slog.Logger
	tracer   trace.Tracer
	state    State
}

func New(provider Provider, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		catalog:  catalog,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer(tracerName),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State { return e.state }

func (e *Engine) Schema() string { return e.schema }

// Plan resolves the steps needed to reach target without executing them.
// Negative targets are treated as 0.
func (e *Engine) Plan(ctx context.Context, target int64) (Plan, error) {
	target = max(target, 0)
	return e.resolve(ctx, &target)
}

// PlanLatest resolves the steps needed to reach the newest version.
func (e *Engine) PlanLatest(ctx context.Context) (Plan, error) {
	return e.resolve(ctx, nil)
}

// MigrateTo moves the database to target, applying or reverting as needed.
// Negative targets are treated as 0.
func (e *Engine) MigrateTo(ctx context.Context, target int64) (Result, error) {
	target = max(target, 0)
	return e.run(ctx, &target)
}

// MigrateToLatest applies every pending migration.
func (e *Engine) MigrateToLatest(ctx context.Context) (Result, error) {
	return e.run(ctx, nil)
}

func (e *Engine) available() ([]Descriptor, error) {
	descriptors, err := e.catalog.MigrationsFor(e.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	descriptors = slices.Clone(descriptors)
	slices.SortStableFunc(descriptors, func(a, b Descriptor) int {
		return cmp.Compare(a.Version, b.Version)
	})
	for i := 1; i < len(descriptors); i++ {
		if descriptors[i].Version == descriptors[i-1].Version {
			return nil, &DuplicateVersionError{Version: descriptors[i].Version, Schema: e.schema}
		}
	}
	return descriptors, nil
}

// resolve computes the plan. A nil target means the latest version.
func (e *Engine) resolve(ctx context.Context, target *int64) (Plan, error) {
	available, err := e.available()
	if err != nil {
		return Plan{}, err
	}

	applied, err := e.provider.AppliedVersions(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read applied versions: %w", err)
	}
	applied = slices.Clone(applied)
	slices.Sort(applied)

	var current int64
	if len(applied) > 0 {
		current = applied[len(applied)-1]
	}

	var to int64
	switch {
	case target != nil:
		to = *target
	case len(available) > 0:
		to = available[len(available)-1].Version
	}

	plan := Plan{Schema: e.schema, Current: current, Target: to}
	if to >= current {
		plan.Direction = Up
		for _, d := range available {
			if d.Version > current && d.Version <= to {
				plan.Steps = append(plan.Steps, newStep(d, Up))
			}
		}
		return plan, nil
	}

	plan.Direction = Down
	for i := len(applied) - 1; i >= 0; i-- {
		v := applied[i]
		if v <= to {
			break
		}
		d, ok := e.catalog.Resolve(e.schema, v)
		if !ok {
			return Plan{}, &MissingMigrationError{Version: v, Schema: e.schema}
		}
		plan.Steps = append(plan.Steps, newStep(d, Down))
	}
	return plan, nil
}

func (e *Engine) run(ctx context.Context, target *int64) (Result, error) {
	result := Result{RunID: uuid.New(), DryRun: e.dryRun}
	logger := e.logger.With("run_id", result.RunID.String(), "schema", e.schema)

	ctx, span := e.tracer.Start(ctx, "migrate.run", trace.WithAttributes(
		attribute.String("migrate.run_id", result.RunID.String()),
		attribute.String("migrate.schema", e.schema),
		attribute.Bool("migrate.dry_run", e.dryRun),
	))
	defer span.End()

	abort := func(err error) (Result, error) {
		e.state = StateAborted
		result.State = e.state
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("migration run aborted", "error", err, "executed", len(result.Executed))
		return result, err
	}

	e.state = StateResolving
	plan, err := e.resolve(ctx, target)
	if err != nil {
		return abort(err)
	}
	result.Plan = plan
	span.SetAttributes(
		attribute.Int64("migrate.current", plan.Current),
		attribute.Int64("migrate.target", plan.Target),
		attribute.Int("migrate.steps", len(plan.Steps)),
	)

	if e.dryRun {
		logger.Info("dry run, no changes will be applied")
	}
	if plan.Empty() {
		logger.Info("database is up to date", "version", plan.Current)
		e.state = StateCommitted
		result.State = e.state
		return result, nil
	}
	logger.Info("migrating database",
		"direction", plan.Direction, "from", plan.Current, "to", plan.Target, "steps", len(plan.Steps))

	e.state = StateExecuting
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return abort(fmt.Errorf("run cancelled before migration %d: %w", step.Version, err))
		}
		if err := e.execute(ctx, logger, step); err != nil {
			return abort(err)
		}
		result.Executed = append(result.Executed, step)
	}

	e.state = StateCommitted
	result.State = e.state
	logger.Info("migration run complete", "version", plan.Target, "executed", len(result.Executed))
	return result, nil
}

func (e *Engine) execute(ctx context.Context, logger *slog.Logger, step Step) (err error) {
	ctx, span := e.tracer.Start(ctx, "migrate.step", trace.WithAttributes(
		attribute.Int64("migrate.version", step.Version),
		attribute.String("migrate.name", step.Name),
		attribute.String("migrate.direction", string(step.Direction)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger = logger.With("version", step.Version, "name", step.Name)
	if step.Obsolete {
		logger.Debug("running obsolete migration")
	}

	m := step.descriptor.New()
	if e.dryRun {
		if step.Direction == Up {
			logger.Info("would apply migration")
		} else {
			logger.Info("would revert migration")
		}
		return nil
	}

	if err := e.provider.Begin(ctx); err != nil {
		return e.stepError(step, err)
	}
	if err := e.apply(ctx, m, step); err != nil {
		if rbErr := e.provider.Rollback(); rbErr != nil {
			logger.Error("rollback failed", "error", rbErr)
		}
		return e.stepError(step, err)
	}
	if err := e.provider.Commit(); err != nil {
		return e.stepError(step, err)
	}

	if step.Direction == Up {
		logger.Info("migration applied")
	} else {
		logger.Info("migration reverted")
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, m Migration, step Step) error {
	if step.Direction == Up {
		if err := m.Up(ctx, e.provider); err != nil {
			return err
		}
		if err := e.provider.MarkApplied(ctx, step.Version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
		return nil
	}
	if err := m.Down(ctx, e.provider); err != nil {
		return err
	}
	if err := e.provider.MarkUnapplied(ctx, step.Version); err != nil {
		return fmt.Errorf("failed to remove version: %w", err)
	}
	return nil
}

func (e *Engine) stepError(step Step, err error) error {
	return &StepError{Version: step.Version, Name: step.Name, Direction: step.Direction, Err: err}
}
