package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/data/datatest"
	"dealer-backlog/internal/enrich"
	"dealer-backlog/internal/secondary"
	"dealer-backlog/internal/secondary/secondarytest"
)

type env struct {
	gdb   *gorm.DB
	store *backlog.Store
	fake  *secondarytest.Fake
	runID uint
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := datatest.Open(t)
	run := data.ImportRun{SourceSystem: data.SourceMain, ImportedAt: time.Date(2024, 2, 1, 18, 10, 0, 0, time.UTC), RowsOK: 1}
	require.NoError(t, gdb.Create(&run).Error)
	return &env{gdb: gdb, store: backlog.NewStore(gdb), fake: secondarytest.New(), runID: run.ID}
}

func (e *env) line(t *testing.T, concern, order, orderType, ref string, due *time.Time, note *string) uint {
	t.Helper()
	l := data.BacklogLine{
		ImportRunID:           e.runID,
		Concern:               concern,
		OrderNumber:           order,
		PartNumber:            "P1",
		OrderType:             orderType,
		ReferencedOrderNumber: ref,
		DueDate:               due,
		DueDateNote:           note,
		Relevant:              true,
	}
	require.NoError(t, e.gdb.Create(&l).Error)
	return l.ID
}

func (e *env) get(t *testing.T, id uint) data.BacklogLine {
	t.Helper()
	var l data.BacklogLine
	require.NoError(t, e.gdb.Take(&l, id).Error)
	return l
}

func (e *env) dueSync() *enrich.DueDateSync {
	return &enrich.DueDateSync{
		Store:        e.store,
		Lookup:       e.fake,
		Concerns:     []string{"volv", "POLE"},
		MinOrderType: 5,
		MaxOrderType: 8,
	}
}

func TestDueDateSync(t *testing.T) {
	e := newEnv(t)
	e.fake.Orders["A1"] = secondary.Order{Number: "A1", OrderDate: time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)}
	e.fake.Orders["A2"] = secondary.Order{Number: "A2", OrderDate: datatest.Date(2024, 1, 20)}

	note := "order date unavailable"
	stale := e.line(t, "VOLV", "1", "7", "A1", nil, &note)
	same := e.line(t, "pole", "2", "5", "A2", datatest.DatePtr(2024, 1, 21), nil)
	missing := e.line(t, "VOLV", "3", "6", "A9", nil, &note)
	otherConcern := e.line(t, "KIA", "4", "7", "A1", nil, nil)
	otherType := e.line(t, "VOLV", "5", "2", "A1", nil, nil)

	res, err := e.dueSync().Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, e.runID, res.ImportRunID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.SameAlready)
	assert.Equal(t, 1, res.NotFound)

	got := e.get(t, stale)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2024-01-11", got.DueDate.Format("2006-01-02"))
	assert.Nil(t, got.DueDateNote)

	assert.Equal(t, "2024-01-21", e.get(t, same).DueDate.Format("2006-01-02"))
	assert.NotNil(t, e.get(t, missing).DueDateNote)
	assert.Nil(t, e.get(t, otherConcern).DueDate)
	assert.Nil(t, e.get(t, otherType).DueDate)
}

func TestDueDateSync_ScopesToLatestRun(t *testing.T) {
	e := newEnv(t)
	e.fake.Orders["A1"] = secondary.Order{Number: "A1", OrderDate: datatest.Date(2024, 1, 10)}
	old := e.line(t, "VOLV", "1", "7", "A1", nil, nil)

	newer := data.ImportRun{SourceSystem: data.SourceMain, ImportedAt: time.Date(2024, 2, 2, 18, 10, 0, 0, time.UTC), RowsOK: 1}
	require.NoError(t, e.gdb.Create(&newer).Error)

	res, err := e.dueSync().Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, res.ImportRunID)
	assert.Zero(t, res.Total)
	assert.Nil(t, e.get(t, old).DueDate)

	res, err = e.dueSync().Run(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, res.ImportRunID)
	assert.Equal(t, 1, res.Updated)
	assert.NotNil(t, e.get(t, old).DueDate)
}

func TestDueDateSync_NoRun(t *testing.T) {
	gdb := datatest.Open(t)
	s := &enrich.DueDateSync{Store: backlog.NewStore(gdb), Lookup: secondarytest.New()}
	_, err := s.Run(context.Background(), false)
	assert.ErrorIs(t, err, enrich.ErrNoImportRun)
}

func TestAdvisorSync_OverwritePolicy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fake.Orders["A1"] = secondary.Order{Number: "A1", CreatedEmployeeNo: "17"}
	e.fake.Orders["A2"] = secondary.Order{Number: "A2", CreatedEmployeeNo: "17"}
	e.fake.Orders["A3"] = secondary.Order{Number: "A3", CreatedEmployeeNo: "99"}
	e.fake.Employees["17"] = "Anna Kranz"

	fresh := e.line(t, "VOLV", "1", "7", "A1", nil, nil)
	assigned := e.line(t, "VOLV", "2", "7", "A2", nil, nil)
	unknown := e.line(t, "VOLV", "3", "7", "A3", nil, nil)
	e.line(t, "VOLV", "4", "7", "", nil, nil)
	require.NoError(t, e.store.SetServiceAdvisor(ctx, assigned, "Max Berger", "ui"))

	sync := &enrich.AdvisorSync{Store: e.store, Lookup: e.fake}
	res, err := sync.Run(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.SkippedExisting)
	assert.Equal(t, 1, res.NotFound)

	a, found, err := e.store.Annotation(ctx, fresh)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Anna Kranz", a.ServiceAdvisor)
	assert.Equal(t, enrich.AdvisorUpdatedBy, a.UpdatedBy)

	res, err = sync.Run(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SkippedExisting)
	a, _, err = e.store.Annotation(ctx, assigned)
	require.NoError(t, err)
	assert.Equal(t, "Max Berger", a.ServiceAdvisor)

	res, err = sync.Run(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.SkippedExisting)
	a, _, err = e.store.Annotation(ctx, assigned)
	require.NoError(t, err)
	assert.Equal(t, "Anna Kranz", a.ServiceAdvisor)

	_, found, err = e.store.Annotation(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdvisorSync_LookupErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.line(t, "VOLV", "1", "7", "A1", nil, nil)
	e.fake.Err = errors.New("connection reset")

	_, err := (&enrich.AdvisorSync{Store: e.store, Lookup: e.fake}).Run(ctx, false, false)
	require.Error(t, err)

	var count int64
	require.NoError(t, e.gdb.Model(&data.BacklogAnnotation{}).Count(&count).Error)
	assert.Zero(t, count)
}
