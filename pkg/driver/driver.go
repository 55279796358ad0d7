package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/stores"
	"github.com/hpcops/allocsync/pkg/telemetry"
)

// Job names, also used as CLI command names and metric labels.
const (
	JobLDAPCheck   = "ldap-check"
	JobQuotasCheck = "quotas-check"
	JobSlurmUsage  = "slurm-usage"
)

// Options are the per-run flags of a job.
type Options struct {
	Mode engine.Mode

	// Username narrows ldap-check to one user.
	Username string

	// Group narrows ldap-check to one group, quotas-check to one storage group
	// and slurm-usage to one account.
	Group string

	// Header writes the column header before the first row.
	Header bool

	// Output receives the report rows. Defaults to os.Stdout.
	Output io.Writer
}

// Driver runs the sync jobs against the configured collaborators.
// Runs are serialized; a job started while another runs waits for it.
type Driver struct {
	config    *config.Config
	records   engine.SystemOfRecord
	history   *stores.HistoryStore
	guard     engine.ActionGuard
	filter    engine.EntityFilter
	adapters  Adapters
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger

	mu sync.Mutex
}

// Option configures a Driver.
type Option func(*Driver)

// WithHistory stores every run and its rows in h.
func WithHistory(h *stores.HistoryStore) Option {
	return func(d *Driver) { d.history = h }
}

// WithGuard vets corrective actions with g.
func WithGuard(g engine.ActionGuard) Option {
	return func(d *Driver) {
		if g != nil {
			d.guard = g
		}
	}
}

// WithFilter narrows every run to the entities f includes.
func WithFilter(f engine.EntityFilter) Option {
	return func(d *Driver) { d.filter = f }
}

// WithAdapters replaces the session openers of the directory, storage host and
// usage tool. Nil fields keep the default.
func WithAdapters(a Adapters) Option {
	return func(d *Driver) {
		if a.Directory != nil {
			d.adapters.Directory = a.Directory
		}
		if a.Storage != nil {
			d.adapters.Storage = a.Storage
		}
		if a.Usage != nil {
			d.adapters.Usage = a.Usage
		}
	}
}

// New creates a driver reading desired state from records.
func New(cfg *config.Config, records engine.SystemOfRecord, tel *telemetry.Telemetry, opts ...Option) *Driver {
	logger := tel.Logger.Component("driver")
	d := &Driver{
		config:    cfg,
		records:   records,
		guard:     engine.AllowAll{},
		adapters:  DefaultAdapters(cfg),
		telemetry: tel,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the named job.
func (d *Driver) Run(ctx context.Context, job string, opts Options) (*engine.RunSummary, error) {
	switch job {
	case JobLDAPCheck:
		return d.LDAPCheck(ctx, opts)
	case JobQuotasCheck:
		return d.QuotasCheck(ctx, opts)
	case JobSlurmUsage:
		return d.SlurmUsage(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown job: %s", job)
	}
}

// emitFunc records one outcome and writes its row. It fails with
// engine.ErrBrokenPipe once the output is gone.
type emitFunc func(engine.Outcome) error

// run wraps body with the bookkeeping shared by all jobs: run id, history,
// metrics, tracing and the report writer.
func (d *Driver) run(ctx context.Context, job string, opts Options, header []string,
	body func(ctx context.Context, log zerolog.Logger, emit emitFunc) error,
) (*engine.RunSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	runID := uuid.NewString()
	runLogger := d.telemetry.Logger.WithRunID(runID)
	ctx = runLogger.WithContext(ctx)
	log := runLogger.Component("driver").With().Str("job", job).Logger()
	started := time.Now()
	timer := telemetry.NewTimer()

	ctx, span := d.telemetry.Tracer.StartRunSpan(ctx, runID, job, opts.Mode)
	defer span.End()

	d.telemetry.Metrics.RecordRunStarted(job)
	d.startHistory(ctx, log, &stores.Run{
		ID:        runID,
		Job:       job,
		Sync:      opts.Mode.Sync,
		Noop:      opts.Mode.Noop,
		Status:    stores.RunStatusRunning,
		StartedAt: started,
	})

	log.Info().
		Bool("sync", opts.Mode.Sync).
		Bool("noop", opts.Mode.Noop).
		Str("trace_id", telemetry.TraceID(ctx)).
		Msg("run started")

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	rows := engine.NewRowWriter(output)
	summary := engine.NewRunSummary()

	emit := func(o engine.Outcome) error {
		summary.Add(o)
		d.telemetry.Metrics.RecordOutcome(job, o)
		if d.history != nil {
			if err := d.history.RecordOutcome(ctx, runID, o); err != nil {
				log.Warn().Err(err).Str("entity", o.Entity).Msg("failed to record outcome")
			}
		}
		return rows.Write(o.Row)
	}

	var runErr error
	if opts.Header {
		runErr = rows.WriteHeader(header)
	}
	if runErr == nil {
		runErr = body(ctx, log, emit)
	}

	status := string(stores.RunStatusCompleted)
	if runErr != nil {
		status = string(stores.RunStatusFailed)
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	d.telemetry.Metrics.RecordRunCompleted(job, status, timer.Duration())

	if d.history != nil {
		if err := d.history.FinishRun(context.WithoutCancel(ctx), runID, summary, runErr); err != nil {
			log.Warn().Err(err).Msg("failed to finish run record")
		}
	}
	if err := d.telemetry.Metrics.WriteTextfile(); err != nil {
		log.Warn().Err(err).Msg("failed to write metrics textfile")
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", timer.Duration()).
		Msg("run finished")

	return summary, runErr
}

// startHistory prunes expired runs and records the new one. History failures
// never fail a run.
func (d *Driver) startHistory(ctx context.Context, log zerolog.Logger, run *stores.Run) {
	if d.history == nil {
		return
	}
	if retention := d.config.History.Retention.Std(); retention > 0 {
		n, err := d.history.DeleteRunsBefore(ctx, run.StartedAt.Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune run history")
		} else if n > 0 {
			log.Debug().Int64("runs", n).Msg("pruned run history")
		}
	}
	if err := d.history.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record run")
	}
}

// include asks the entity filter whether name takes part in the run.
// A failing filter aborts the run.
func (d *Driver) include(ctx context.Context, kind engine.EntityKind, name string) (bool, error) {
	if d.filter == nil {
		return true, nil
	}
	ok, err := d.filter.Include(ctx, kind, name)
	if err != nil {
		return false, engine.NewFatalError("filter", err).WithEntity(name)
	}
	return ok, nil
}

// reconcile runs fn inside an entity span.
func (d *Driver) reconcile(ctx context.Context, kind engine.EntityKind, entity string,
	fn func(ctx context.Context) engine.Outcome,
) engine.Outcome {
	ctx, span := d.telemetry.Tracer.StartEntitySpan(ctx, kind, entity)
	outcome := fn(ctx)
	telemetry.EndEntitySpan(span, outcome)
	return outcome
}

// failed builds the outcome of an entity whose inputs could not be read.
func failed(kind engine.EntityKind, entity string, err error) engine.Outcome {
	return engine.Outcome{Kind: kind, Entity: entity, Result: engine.OutcomeFail, Err: err}
}
