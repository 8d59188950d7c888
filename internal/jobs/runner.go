// Package jobs runs the backlog jobs under a per-job lock and reports their
// outcome in one envelope shape shared by the CLI and the HTTP surface.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/config"
	"dealer-backlog/internal/enrich"
	"dealer-backlog/internal/inbound"
	"dealer-backlog/internal/logging"
	"dealer-backlog/internal/secondary"
	"dealer-backlog/internal/snapshot"
)

// Job names, also used as lock keys and log field values.
const (
	JobImport         = "import"
	JobImportSupplier = "import-supplier"
	JobReconcile      = "reconcile-inbound"
	JobSyncDueDates   = "sync-due-dates"
	JobSyncAdvisors   = "sync-advisors"
)

const lockPrefix = "backlog:job:"

// Count is one named counter of a report, kept in display order.
type Count struct {
	Name  string
	Value any
}

// Report is the outcome of one job invocation.
type Report struct {
	Job         string
	RunID       string
	ImportRunID uint
	Started     time.Time
	Duration    time.Duration
	Counts      []Count
	Trace       []string
}

// Envelope renders the report as the JSON result body.
func (r Report) Envelope() map[string]any {
	out := map[string]any{
		"status": "ok",
		"job":    r.Job,
		"run_id": r.RunID,
	}
	if r.ImportRunID != 0 {
		out["import_run_id"] = r.ImportRunID
	}
	for _, c := range r.Counts {
		out[c.Name] = c.Value
	}
	return out
}

// Runner owns the stores and settings every job needs.
type Runner struct {
	Store *backlog.Store
	// Lookup and Feed fall back to secondary.Unavailable when nil.
	Lookup   secondary.Source
	Feed     secondary.DeliveryFeed
	Notifier backlog.SweepNotifier
	// Locker is required. NewRunner sets it; jobs fail with ErrNoLocker
	// when it is nil.
	Locker   Locker
	Log      logrus.FieldLogger
	Now      func() time.Time
	Location *time.Location

	ImportDir     string
	SnapshotFile  string
	LockTTL       time.Duration
	ReconcileDays int
	Concerns      []string
	MinOrderType  int
	MaxOrderType  int
	CacheSize     int
}

// NewRunner wires a runner from configuration. sec may be nil when no
// secondary store is configured.
func NewRunner(ctx context.Context, cfg *config.Config, gdb *gorm.DB, sec *sql.DB, log logrus.FieldLogger) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	lo, hi, err := cfg.OrderTypeRange()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		Store:         backlog.NewStore(gdb),
		Notifier:      backlog.NopNotifier{},
		Log:           log,
		Location:      loc,
		ImportDir:     cfg.ImportDir,
		SnapshotFile:  cfg.SnapshotFile,
		LockTTL:       cfg.LockTTL,
		ReconcileDays: cfg.ReconcileDefaultDays,
		Concerns:      cfg.Concerns(),
		MinOrderType:  lo,
		MaxOrderType:  hi,
	}
	if sec != nil {
		store := secondary.New(sec)
		r.Lookup = store
		r.Feed = store
	}
	if cfg.RedisAddress != "" {
		locker, err := DialRedisLocker(ctx, cfg.RedisAddress)
		if err != nil {
			return nil, err
		}
		r.Locker = locker
	} else {
		r.Locker = NewLocalLocker()
	}
	return r, nil
}

func (r *Runner) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// lookup returns a fresh memoising view of the secondary store for one job.
func (r *Runner) lookup() secondary.Source {
	if r.Lookup == nil {
		return secondary.Unavailable{}
	}
	return secondary.NewCached(r.Lookup, r.CacheSize)
}

func (r *Runner) feed() secondary.DeliveryFeed {
	if r.Feed == nil {
		return secondary.Unavailable{}
	}
	return r.Feed
}

type jobFunc func(ctx context.Context, log logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error)

func (r *Runner) run(ctx context.Context, job string, fn jobFunc) (Report, error) {
	rep := Report{Job: job, RunID: uuid.NewString(), Started: r.now()}
	log := r.log().WithFields(logrus.Fields{"job": job, "run_id": rep.RunID})

	if r.Locker == nil {
		log.WithError(ErrNoLocker).Warn("job not started")
		return rep, ErrNoLocker
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	release, err := r.Locker.Obtain(ctx, lockPrefix+job, ttl)
	if err != nil {
		log.WithError(err).Warn("job not started")
		return rep, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to release job lock")
		}
	}()

	trace := newTrace(log)
	start := time.Now()
	importRunID, counts, err := fn(ctx, log, trace.Tracef)
	rep.ImportRunID = importRunID
	rep.Counts = counts
	rep.Trace = trace.Lines()
	rep.Duration = time.Since(start)

	if importRunID != 0 {
		log = log.WithField("import_run_id", importRunID)
	}
	if err != nil {
		logging.LogError(log, "jobs", job, "job failed", countFields(counts), err)
		return rep, err
	}
	log.WithFields(countFields(counts)).WithField("duration", rep.Duration.String()).Info("job finished")
	return rep, nil
}

func countFields(counts []Count) logrus.Fields {
	fields := make(logrus.Fields, len(counts))
	for _, c := range counts {
		if _, ok := c.Value.([]string); ok {
			continue
		}
		fields[c.Name] = c.Value
	}
	return fields
}

// SnapshotPath resolves the file a main import reads. A relative override is
// taken from the import directory.
func (r *Runner) SnapshotPath(override string) string {
	name := strings.TrimSpace(override)
	if name == "" {
		name = r.SnapshotFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.ImportDir, name)
}

// Import loads the main snapshot and sweeps lines it no longer lists.
func (r *Runner) Import(ctx context.Context, file string) (Report, error) {
	return r.run(ctx, JobImport, func(ctx context.Context, log logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error) {
		im := &snapshot.Importer{
			Store:    r.Store,
			Lookup:   r.lookup(),
			Notifier: r.Notifier,
			Location: r.Location,
			Now:      r.Now,
			Log:      log,
			Tracef:   tracef,
		}
		res, err := im.Run(ctx, r.SnapshotPath(file))
		counts := []Count{
			{"file", res.File},
			{"rows_total", res.RowsTotal},
			{"rows_ok", res.RowsOK},
			{"inserted", res.Inserted},
			{"updated", res.Updated},
			{"unchanged", res.Unchanged},
			{"skipped", res.Skipped},
			{"ignored", res.Ignored},
			{"failed", res.Failed},
			{"deleted", res.Deleted},
			{"warnings", nonNil(res.Warnings)},
			{"errors", nonNil(res.Errors)},
		}
		return res.ImportRunID, counts, err
	})
}

// ImportSupplier loads the newest feed file of brand.
func (r *Runner) ImportSupplier(ctx context.Context, brand string) (Report, error) {
	return r.run(ctx, JobImportSupplier, func(ctx context.Context, log logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error) {
		si := &snapshot.SupplierImporter{
			Store:  r.Store,
			Dir:    r.ImportDir,
			Now:    r.Now,
			Log:    log.WithField("brand", brand),
			Tracef: tracef,
		}
		res, err := si.Run(ctx, brand)
		counts := []Count{
			{"brand", res.Brand},
			{"file", res.File},
			{"rows_total", res.RowsTotal},
			{"rows_ok", res.RowsOK},
			{"inserted", res.Inserted},
			{"updated", res.Updated},
			{"unchanged", res.Unchanged},
			{"skipped", res.Skipped},
			{"failed", res.Failed},
			{"warnings", nonNil(res.Warnings)},
			{"errors", nonNil(res.Errors)},
		}
		return res.ImportRunID, counts, err
	})
}

// Reconcile applies the delivery notes of the last days days. A negative
// days uses the configured default.
func (r *Runner) Reconcile(ctx context.Context, days int) (Report, error) {
	if days < 0 {
		days = r.ReconcileDays
	}
	return r.run(ctx, JobReconcile, func(ctx context.Context, log logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error) {
		rec := &inbound.Reconciler{Store: r.Store, Feed: r.feed(), Log: log, Tracef: tracef}
		res, err := rec.Run(ctx, days)
		counts := []Count{
			{"days", res.Days},
			{"events", res.Events},
			{"matched", res.Matched},
			{"deleted", res.Deleted},
			{"updated", res.Updated},
			{"skipped", res.Skipped},
			{"unmatched", res.Unmatched},
			{"actions", nonNil(res.Actions)},
		}
		return 0, counts, err
	})
}

// SyncDueDates recomputes order-date anchored due dates.
func (r *Runner) SyncDueDates(ctx context.Context, allRuns bool) (Report, error) {
	return r.run(ctx, JobSyncDueDates, func(ctx context.Context, _ logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error) {
		s := &enrich.DueDateSync{
			Store:        r.Store,
			Lookup:       r.lookup(),
			Concerns:     r.Concerns,
			MinOrderType: r.MinOrderType,
			MaxOrderType: r.MaxOrderType,
			Tracef:       tracef,
		}
		res, err := s.Run(ctx, allRuns)
		counts := []Count{
			{"all_runs", allRuns},
			{"total", res.Total},
			{"updated", res.Updated},
			{"same_already", res.SameAlready},
			{"not_found", res.NotFound},
		}
		return res.ImportRunID, counts, err
	})
}

// SyncAdvisors assigns service advisors from the referenced orders.
func (r *Runner) SyncAdvisors(ctx context.Context, allRuns, force bool) (Report, error) {
	return r.run(ctx, JobSyncAdvisors, func(ctx context.Context, _ logrus.FieldLogger, tracef func(string, ...any)) (uint, []Count, error) {
		s := &enrich.AdvisorSync{Store: r.Store, Lookup: r.lookup(), Tracef: tracef}
		res, err := s.Run(ctx, allRuns, force)
		counts := []Count{
			{"all_runs", allRuns},
			{"force", force},
			{"total", res.Total},
			{"updated", res.Updated},
			{"skipped_existing", res.SkippedExisting},
			{"not_found", res.NotFound},
		}
		return res.ImportRunID, counts, err
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FormatCount renders a counter value for text output.
func FormatCount(v any) string {
	switch v := v.(type) {
	case []string:
		return fmt.Sprintf("%d", len(v))
	default:
		return fmt.Sprint(v)
	}
}
