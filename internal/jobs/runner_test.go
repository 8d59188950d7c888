package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data/datatest"
	"dealer-backlog/internal/enrich"
	"dealer-backlog/internal/jobs"
	"dealer-backlog/internal/logging"
	"dealer-backlog/internal/secondary"
	"dealer-backlog/internal/secondary/secondarytest"
)

const snapshotCSV = `Typ;Bestellkonzern;Bestelldatum;Bestellnummer;Bestellart;Teile-Nr.;Bezugs-Auftrags-Nr.;Rückstands Menge
;VOLV;10.01.2024;1000;7;VO-1;A1;2
;VOLV;10.01.2024;1001;7;VO-2;A1;1
`

func newRunner(t *testing.T) (*jobs.Runner, *secondarytest.Fake) {
	t.Helper()
	gdb := datatest.Open(t)
	fake := secondarytest.New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot.csv"), []byte(snapshotCSV), 0o644))
	return &jobs.Runner{
		Store:         backlog.NewStore(gdb),
		Lookup:        fake,
		Feed:          fake,
		Locker:        jobs.NewLocalLocker(),
		Log:           logging.Discard(),
		Now:           datatest.FixedClock(time.Date(2024, 2, 1, 18, 10, 0, 0, time.UTC)),
		Location:      time.UTC,
		ImportDir:     dir,
		SnapshotFile:  "snapshot.csv",
		ReconcileDays: 3,
		Concerns:      []string{"VOLV"},
		MinOrderType:  5,
		MaxOrderType:  8,
	}, fake
}

func TestRunner_ImportEnvelope(t *testing.T) {
	r, _ := newRunner(t)

	rep, err := r.Import(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Trace)
	_, err = uuid.Parse(rep.RunID)
	require.NoError(t, err)

	env := rep.Envelope()
	assert.Equal(t, "ok", env["status"])
	assert.Equal(t, jobs.JobImport, env["job"])
	assert.Equal(t, rep.ImportRunID, env["import_run_id"])
	assert.NotZero(t, rep.ImportRunID)
	assert.Equal(t, 2, env["inserted"])
	assert.Equal(t, 2, env["rows_ok"])
	assert.Equal(t, []string{}, env["errors"])
}

func TestRunner_EnrichmentAfterImport(t *testing.T) {
	ctx := context.Background()
	r, fake := newRunner(t)
	fake.Orders["A1"] = secondary.Order{Number: "A1", OrderDate: datatest.Date(2024, 1, 5), CreatedEmployeeNo: "3"}
	fake.Employees["3"] = "Jana Vogt"

	imp, err := r.Import(ctx, "")
	require.NoError(t, err)

	rep, err := r.SyncAdvisors(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, imp.ImportRunID, rep.ImportRunID)
	assert.Equal(t, 2, rep.Envelope()["updated"])

	rep, err = r.SyncDueDates(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Envelope()["total"])
}

func TestRunner_BusyLock(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t)

	release, err := r.Locker.Obtain(ctx, "backlog:job:"+jobs.JobImport, time.Minute)
	require.NoError(t, err)

	_, err = r.Import(ctx, "")
	assert.ErrorIs(t, err, jobs.ErrJobBusy)

	_, err = r.Reconcile(ctx, 1)
	assert.NoError(t, err, "other jobs keep running")

	require.NoError(t, release(ctx))
	_, err = r.Import(ctx, "")
	assert.NoError(t, err)
}

func TestRunner_RequiresLocker(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t)
	r.Locker = nil

	rep, err := r.Import(ctx, "")
	assert.ErrorIs(t, err, jobs.ErrNoLocker)
	assert.Equal(t, jobs.JobImport, rep.Job)
	assert.Zero(t, rep.ImportRunID)
	assert.Nil(t, r.Locker)

	_, err = r.Reconcile(ctx, 1)
	assert.ErrorIs(t, err, jobs.ErrNoLocker)
}

func TestRunner_ReconcileDefaults(t *testing.T) {
	ctx := context.Background()
	r, fake := newRunner(t)

	rep, err := r.Reconcile(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Envelope()["days"])
	assert.Equal(t, []int{3}, fake.FeedDays)

	r.Feed = nil
	rep, err = r.Reconcile(ctx, 0)
	assert.ErrorIs(t, err, secondary.ErrUnavailable)
	assert.Equal(t, jobs.JobReconcile, rep.Job)
}

func TestRunner_SyncWithoutRun(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.SyncDueDates(context.Background(), false)
	assert.ErrorIs(t, err, enrich.ErrNoImportRun)
}

func TestRunner_SnapshotPath(t *testing.T) {
	r := &jobs.Runner{ImportDir: "/mnt/in", SnapshotFile: "Loco.xlsx"}
	assert.Equal(t, filepath.Join("/mnt/in", "Loco.xlsx"), r.SnapshotPath(""))
	assert.Equal(t, filepath.Join("/mnt/in", "other.csv"), r.SnapshotPath(" other.csv "))
	assert.Equal(t, "/tmp/x.csv", r.SnapshotPath("/tmp/x.csv"))
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := jobs.NewLocalLocker()

	release, err := l.Obtain(ctx, "a", time.Minute)
	require.NoError(t, err)
	_, err = l.Obtain(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, jobs.ErrJobBusy)
	_, err = l.Obtain(ctx, "b", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = l.Obtain(ctx, "a", time.Minute)
	assert.NoError(t, err)
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "2", jobs.FormatCount([]string{"a", "b"}))
	assert.Equal(t, "true", jobs.FormatCount(true))
	assert.Equal(t, "7", jobs.FormatCount(7))
	assert.True(t, strings.HasPrefix(jobs.FormatCount("x"), "x"))
}
