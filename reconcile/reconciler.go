package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/events"
	"github.com/itsneelabh/betpilot/resilience"
)

// State is the position of one collection in its reconciliation pass.
type State int

const (
	StateIdle State = iota
	StateFetchingRemoteMeta
	StateReadingLocal
	StateClassifying
	StatePulling
	StatePushing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingRemoteMeta:
		return "fetching_remote_meta"
	case StateReadingLocal:
		return "reading_local"
	case StateClassifying:
		return "classifying"
	case StatePulling:
		return "pulling"
	case StatePushing:
		return "pushing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CollectionReport is the outcome of one collection's pass. Err is set when
// a stage failed; Reached is the last stage entered before Done.
type CollectionReport struct {
	Collection string
	RunID      string
	Reached    State

	RemoteKeys int
	LocalRows  int

	PlannedPush int
	PlannedPull int
	Unchanged   int

	Pulled int
	Upsert UpsertReport

	Duration time.Duration
	Err      error
}

// Report is the outcome of a whole Reconcile call.
type Report struct {
	RunID       string
	Started     time.Time
	Finished    time.Time
	Collections []CollectionReport
}

// Failed returns the collections that ended with an error other than a
// missing local snapshot.
func (r Report) Failed() []CollectionReport {
	var out []CollectionReport
	for _, c := range r.Collections {
		if c.Err != nil && !core.IsNotFound(c.Err) {
			out = append(out, c)
		}
	}
	return out
}

// Skipped returns the collections that had nothing to reconcile because
// their local snapshot does not exist.
func (r Report) Skipped() []CollectionReport {
	var out []CollectionReport
	for _, c := range r.Collections {
		if core.IsNotFound(c.Err) {
			out = append(out, c)
		}
	}
	return out
}

// Reconciler keeps local and remote copies of record collections converged
// with last-write-wins on the per-row timestamp.
type Reconciler struct {
	local  LocalStore
	remote RemoteStore

	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig

	metadataBatch int
	pullBatch     int
	maxPages      int
	concurrency   int

	logger    core.Logger
	telemetry core.Telemetry
	events    events.Sink
	now       func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBatchSizes sets the metadata page size and the pull batch size.
func WithBatchSizes(metadata, pull int) Option {
	return func(r *Reconciler) {
		if metadata > 0 {
			r.metadataBatch = metadata
		}
		if pull > 0 {
			r.pullBatch = pull
		}
	}
}

// WithMaxPages bounds metadata pagination.
func WithMaxPages(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxPages = n
		}
	}
}

// WithConcurrency sets how many collections run at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithCircuitBreaker guards every remote call with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Reconciler) {
		r.breaker = cb
	}
}

// WithRetry sets the retry policy for remote calls.
func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(r *Reconciler) {
		r.retry = cfg
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Reconciler) {
		r.logger = core.ComponentLogger(logger, "reconcile")
	}
}

func WithTelemetry(tel core.Telemetry) Option {
	return func(r *Reconciler) {
		if tel != nil {
			r.telemetry = tel
		}
	}
}

func WithEvents(sink events.Sink) Option {
	return func(r *Reconciler) {
		if sink != nil {
			r.events = sink
		}
	}
}

// WithClock replaces time.Now, used for reports and gate timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// FromConfig applies the remote, sync and retry sections of cfg.
func FromConfig(cfg *core.Config) Option {
	return func(r *Reconciler) {
		WithBatchSizes(cfg.Remote.MetadataBatchSize, cfg.Remote.PullBatchSize)(r)
		WithMaxPages(cfg.Remote.MaxPages)(r)
		WithConcurrency(cfg.Sync.Concurrency)(r)
		r.retry = resilience.RetryConfigFrom(cfg.Resilience.Retry)
	}
}

// NewReconciler creates a Reconciler over the two stores.
func NewReconciler(local LocalStore, remote RemoteStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		local:         local,
		remote:        remote,
		retry:         resilience.DefaultRetryConfig(),
		metadataBatch: 1000,
		pullBatch:     200,
		maxPages:      10000,
		concurrency:   1,
		logger:        &core.NoOpLogger{},
		telemetry:     &core.NoOpTelemetry{},
		events:        events.Nop{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass over every collection. Collections are isolated:
// a failure is recorded in its CollectionReport and never stops the others.
func (r *Reconciler) Reconcile(ctx context.Context, collections []CollectionConfig) Report {
	report := Report{
		RunID:       uuid.NewString(),
		Started:     r.now(),
		Collections: make([]CollectionReport, len(collections)),
	}

	r.logger.Info("Starting reconciliation", map[string]interface{}{
		"run_id":      report.RunID,
		"collections": len(collections),
		"concurrency": r.concurrency,
	})
	r.emit(ctx, report.RunID, events.TypeSyncStarted, "", nil, map[string]interface{}{"collections": len(collections)})

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, c := range collections {
		g.Go(func() error {
			report.Collections[i] = r.reconcileCollection(ctx, report.RunID, c)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = r.now()
	failed := len(report.Failed())
	r.logger.Info("Reconciliation finished", map[string]interface{}{
		"run_id":      report.RunID,
		"collections": len(collections),
		"failed":      failed,
		"skipped":     len(report.Skipped()),
		"duration_ms": report.Finished.Sub(report.Started).Milliseconds(),
	})
	r.emit(ctx, report.RunID, events.TypeSyncFinished, "", nil, map[string]interface{}{"failed": failed})
	return report
}

// ReconcileCollection runs one pass over a single collection.
func (r *Reconciler) ReconcileCollection(ctx context.Context, c CollectionConfig) CollectionReport {
	return r.reconcileCollection(ctx, uuid.NewString(), c)
}

// collectionRun is the state of one collection's pass.
type collectionRun struct {
	r      *Reconciler
	c      CollectionConfig
	runID  string
	report *CollectionReport
}

func (r *Reconciler) reconcileCollection(ctx context.Context, runID string, c CollectionConfig) CollectionReport {
	c = c.withDefaults()
	started := r.now()
	report := CollectionReport{Collection: c.Name, RunID: runID, Reached: StateIdle}

	ctx, span := r.telemetry.StartSpan(ctx, "reconcile.collection")
	defer span.End()
	span.SetAttribute("reconcile.collection", c.Name)
	span.SetAttribute("reconcile.run_id", runID)

	run := &collectionRun{r: r, c: c, runID: runID, report: &report}
	report.Err = run.execute(ctx)
	report.Duration = r.now().Sub(started)

	labels := map[string]string{"collection": c.Name}
	r.telemetry.RecordMetric("reconcile.duration_ms", float64(report.Duration.Milliseconds()), labels)
	span.SetAttribute("reconcile.pulled", report.Pulled)
	span.SetAttribute("reconcile.pushed", report.Upsert.Submitted)

	fields := map[string]interface{}{
		"run_id":      runID,
		"collection":  c.Name,
		"reached":     report.Reached.String(),
		"remote_keys": report.RemoteKeys,
		"local_rows":  report.LocalRows,
		"push":        report.PlannedPush,
		"pull":        report.PlannedPull,
		"unchanged":   report.Unchanged,
		"pulled":      report.Pulled,
		"pushed":      report.Upsert.Submitted,
		"duration_ms": report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		span.RecordError(report.Err)
		r.telemetry.RecordMetric("reconcile.failures", 1, labels)
		fields["error"] = report.Err
		if core.IsNotFound(report.Err) {
			r.logger.Warn("Collection skipped", fields)
		} else {
			r.logger.Error("Collection reconciliation failed", fields)
		}
	} else {
		r.logger.Info("Collection reconciled", fields)
	}

	run.enter(ctx, StateDone)
	r.emit(ctx, runID, events.TypeCollectionDone, c.Name, report.Err, map[string]interface{}{
		"reached": report.Reached.String(),
		"pulled":  report.Pulled,
		"pushed":  report.Upsert.Submitted,
	})
	return report
}

// execute walks the stages. Errors returned here end the pass; pull write
// and push failures are collected and returned together at the end.
func (run *collectionRun) execute(ctx context.Context) error {
	r, c := run.r, run.c
	if err := c.Validate(); err != nil {
		return err
	}

	run.enter(ctx, StateFetchingRemoteMeta)
	remote, err := r.fetchMetadata(ctx, c)
	if err != nil {
		return &core.FrameworkError{Op: "reconcile.fetchMetadata", Kind: "remote", ID: c.Name, Err: fmt.Errorf("%w: %w", core.ErrRemoteFetch, err)}
	}
	run.report.RemoteKeys = len(remote)

	run.enter(ctx, StateReadingLocal)
	table, err := r.local.ReadAll(ctx, c.Local)
	if err != nil {
		return &core.FrameworkError{Op: "reconcile.readLocal", Kind: "local", ID: c.Name, Err: err}
	}
	run.report.LocalRows = len(table.Rows)
	// the push whitelist is the file's own header, not columns a pull adds
	header := slices.Clone(table.Columns)

	run.enter(ctx, StateClassifying)
	local := make(map[string]string, len(table.Rows))
	localData := make(map[string]Row, len(table.Rows))
	for _, row := range table.Rows {
		k, ok := localKey(c, row)
		if !ok {
			continue
		}
		local[k] = row[c.TimestampField]
		localData[k] = row
	}
	plan := Classify(local, remote)
	run.report.PlannedPush = len(plan.Push)
	run.report.PlannedPull = len(plan.Pull)
	run.report.Unchanged = len(plan.Unchanged)
	r.logger.Debug("Classified keys", map[string]interface{}{
		"run_id":     run.runID,
		"collection": c.Name,
		"total":      plan.Total(),
		"push":       len(plan.Push),
		"pull":       len(plan.Pull),
	})

	var deferred []error

	if len(plan.Pull) > 0 {
		run.enter(ctx, StatePulling)
		pulled, err := r.fetchRows(ctx, c, plan.Pull)
		if err != nil {
			return &core.FrameworkError{Op: "reconcile.pull", Kind: "remote", ID: c.Name, Err: fmt.Errorf("%w: %w", core.ErrRemoteFetch, err)}
		}
		rows := make([]Row, 0, len(pulled))
		for _, rr := range pulled {
			rows = append(rows, normalizeRemote(c, rr))
		}
		merged := mergePulled(c, table, rows)
		run.report.Pulled = merged
		r.telemetry.RecordMetric("reconcile.pulled", float64(merged), map[string]string{"collection": c.Name})

		if merged > 0 {
			if err := r.local.WriteAll(ctx, c.Local, table); err != nil {
				// The next pass re-derives the same deltas.
				deferred = append(deferred, &core.FrameworkError{Op: "reconcile.writeLocal", Kind: "local", ID: c.Name, Err: err})
				r.logger.Error("Failed to write local snapshot", map[string]interface{}{
					"run_id":     run.runID,
					"collection": c.Name,
					"error":      err,
				})
			}
		}
	}

	if len(plan.Push) > 0 {
		run.enter(ctx, StatePushing)
		rows := make([]Row, 0, len(plan.Push))
		for _, k := range plan.Push {
			if row, ok := localData[k]; ok {
				rows = append(rows, row)
			}
		}
		upsert, err := r.upsert(ctx, c, header, rows)
		run.report.Upsert = upsert
		if err != nil {
			deferred = append(deferred, err)
		}
	}

	return errors.Join(deferred...)
}

func (run *collectionRun) enter(ctx context.Context, s State) {
	if s != StateDone {
		run.report.Reached = s
	}
	run.r.emit(ctx, run.runID, events.TypeCollectionState, run.c.Name, nil, map[string]interface{}{"state": s.String()})
}

// Upsert runs rows through the data-quality gate and submits the result as
// one batch. Nothing is sent when the gate leaves no rows. Without
// configured columns the whitelist is the union of the rows' columns.
func (r *Reconciler) Upsert(ctx context.Context, c CollectionConfig, rows []Row) (UpsertReport, error) {
	return r.upsert(ctx, c, headerOf(rows), rows)
}

func (r *Reconciler) upsert(ctx context.Context, c CollectionConfig, header []string, rows []Row) (UpsertReport, error) {
	c = c.withDefaults()
	gate := NewGate(c, header)
	gate.Now = r.now
	batch, report := gate.Apply(rows)

	labels := map[string]string{"collection": c.Name}
	if report.Dropped() > 0 {
		r.telemetry.RecordMetric("reconcile.dropped", float64(report.Dropped()), labels)
		r.logger.Warn("Rows dropped by data-quality gate", map[string]interface{}{
			"collection": c.Name,
			"null_key":   report.DroppedNullKey,
			"duplicate":  report.DroppedDuplicate,
			"received":   report.Received,
			"submitted":  report.Submitted,
		})
	}
	if len(batch) == 0 {
		return report, nil
	}

	err := r.callRemote(ctx, func(ctx context.Context) error {
		return r.remote.Upsert(ctx, c.Table, c.ConflictKey, batch)
	})
	if err != nil {
		report.Submitted = 0
		return report, &core.FrameworkError{Op: "reconcile.Upsert", Kind: "remote", ID: c.Name, Err: fmt.Errorf("%w: %w", core.ErrRemoteWrite, err)}
	}

	r.telemetry.RecordMetric("reconcile.pushed", float64(len(batch)), labels)
	r.logger.Info("Upserted rows", map[string]interface{}{
		"collection": c.Name,
		"table":      c.Table,
		"rows":       len(batch),
	})
	return report, nil
}

// fetchMetadata pages through the remote (key, timestamp) projection. It
// stops on a short or empty page and fails on a repeated page or when
// maxPages full pages have been read.
func (r *Reconciler) fetchMetadata(ctx context.Context, c CollectionConfig) (map[string]string, error) {
	out := make(map[string]string)
	var previous []string

	for page := 0; ; page++ {
		if page >= r.maxPages {
			return nil, fmt.Errorf("%w: still full after %d pages", core.ErrPaginationStalled, r.maxPages)
		}
		offset := page * r.metadataBatch

		var rows []RemoteRow
		err := r.callRemote(ctx, func(ctx context.Context) error {
			var err error
			rows, err = r.remote.FetchMetadata(ctx, c.Table, c.ConflictKey, c.TimestampField, offset, r.metadataBatch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}

		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			k, ok := remoteKey(c, row)
			if !ok {
				continue
			}
			keys = append(keys, k)
			out[k] = stringify(row[c.TimestampField])
		}

		if len(rows) < r.metadataBatch {
			break
		}
		if len(keys) > 0 && slices.Equal(keys, previous) {
			return nil, fmt.Errorf("%w: offset %d repeated the previous page", core.ErrPaginationStalled, offset)
		}
		previous = keys
	}
	return out, nil
}

// fetchRows loads full remote rows for keys in pull-sized batches.
func (r *Reconciler) fetchRows(ctx context.Context, c CollectionConfig, keys []string) ([]RemoteRow, error) {
	var out []RemoteRow
	for start := 0; start < len(keys); start += r.pullBatch {
		end := min(start+r.pullBatch, len(keys))
		batch := make([][]string, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, splitKey(k))
		}

		var rows []RemoteRow
		err := r.callRemote(ctx, func(ctx context.Context) error {
			var err error
			rows, err = r.remote.FetchRows(ctx, c.Table, c.ConflictKey, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (r *Reconciler) callRemote(ctx context.Context, fn func(context.Context) error) error {
	return resilience.RetryWithCircuitBreaker(ctx, r.retry, r.breaker, func() error {
		return fn(ctx)
	})
}

func (r *Reconciler) emit(ctx context.Context, runID, typ, collection string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{}, 2)
	}
	if collection != "" {
		fields["collection"] = collection
	}
	evt := events.Event{
		ID:     runID,
		Type:   typ,
		Source: "reconcile",
		Fields: fields,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	events.Emit(ctx, r.events, r.logger, evt)
}

// headerOf is the sorted union of the columns of rows.
func headerOf(rows []Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			seen[col] = true
		}
	}
	out := make([]string, 0, len(seen))
	for col := range seen {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}
