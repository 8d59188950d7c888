package backlog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/data/datatest"
)

func line(concern, order, part string, qty int64) *data.BacklogLine {
	return &data.BacklogLine{
		LineType:        "Offene Bestellung",
		Concern:         concern,
		OrderNumber:     order,
		PartNumber:      part,
		BacklogQuantity: decimal.NewNullDecimal(decimal.NewFromInt(qty)),
		Relevant:        true,
		DueDate:         datatest.DatePtr(2024, 2, 2),
	}
}

type recorder struct {
	got []backlog.SweepCandidate
	err error
}

func (r *recorder) BeforeSweep(_ context.Context, c []backlog.SweepCandidate) error {
	r.got = append(r.got, c...)
	return r.err
}

func applySnapshot(t *testing.T, store *backlog.Store, runID uint, lines []*data.BacklogLine, n backlog.SweepNotifier) (map[backlog.Outcome]int, []backlog.SweepCandidate) {
	t.Helper()
	ctx := context.Background()
	outcomes := map[backlog.Outcome]int{}
	var swept []backlog.SweepCandidate
	err := store.Tx(ctx, func(tx *backlog.Store) error {
		batch, err := tx.NewBatch(ctx, runID)
		if err != nil {
			return err
		}
		for i, l := range lines {
			l.SourceRow = i + 2
			o, err := batch.Upsert(ctx, l)
			if err != nil {
				return err
			}
			outcomes[o]++
		}
		swept, err = batch.Sweep(ctx, n)
		return err
	})
	require.NoError(t, err)
	return outcomes, swept
}

func TestContentHash_TracksValueFields(t *testing.T) {
	a := line("ABC", "1001", "P1", 10)
	b := line("ABC", "1001", "P1", 10)
	b.SourceRow = 99
	b.ImportRunID = 7
	assert.Equal(t, backlog.ContentHash(a), backlog.ContentHash(b))
	assert.Len(t, backlog.ContentHash(a), 32)

	b.BacklogQuantity = decimal.NewNullDecimal(decimal.NewFromInt(9))
	assert.NotEqual(t, backlog.ContentHash(a), backlog.ContentHash(b))

	c := line("ABC", "1001", "P1", 10)
	note := "order missing"
	c.DueDate = nil
	c.DueDateNote = &note
	assert.NotEqual(t, backlog.ContentHash(a), backlog.ContentHash(c))
}

func TestBatch_IdempotentReimport(t *testing.T) {
	store := backlog.NewStore(datatest.Open(t))
	snapshot := func() []*data.BacklogLine {
		return []*data.BacklogLine{line("ABC", "1001", "P1", 10), line("ABC", "1002", "P2", 3)}
	}

	outcomes, swept := applySnapshot(t, store, 1, snapshot(), nil)
	assert.Equal(t, 2, outcomes[backlog.Inserted])
	assert.Empty(t, swept)

	var before []data.BacklogLine
	require.NoError(t, store.DB().Order("id").Find(&before).Error)

	outcomes, swept = applySnapshot(t, store, 2, snapshot(), nil)
	assert.Equal(t, 2, outcomes[backlog.Unchanged])
	assert.Zero(t, outcomes[backlog.Inserted])
	assert.Zero(t, outcomes[backlog.Updated])
	assert.Empty(t, swept)

	var after []data.BacklogLine
	require.NoError(t, store.DB().Order("id").Find(&after).Error)
	require.Len(t, after, 2)
	for i := range after {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].ContentHash, after[i].ContentHash)
		assert.Equal(t, uint(2), after[i].ImportRunID)
	}
}

func TestBatch_UpdatesChangedValues(t *testing.T) {
	store := backlog.NewStore(datatest.Open(t))
	applySnapshot(t, store, 1, []*data.BacklogLine{line("ABC", "1001", "P1", 10)}, nil)

	changed := line("ABC", "1001", "P1", 7)
	changed.Supplier = "Volvo Parts"
	outcomes, _ := applySnapshot(t, store, 2, []*data.BacklogLine{changed}, nil)
	assert.Equal(t, 1, outcomes[backlog.Updated])

	var got data.BacklogLine
	require.NoError(t, store.DB().Where("order_number = ?", "1001").Take(&got).Error)
	assert.True(t, got.BacklogQuantity.Decimal.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, "Volvo Parts", got.Supplier)
	assert.Equal(t, backlog.ContentHash(changed), got.ContentHash)
}

func TestStore_SettersRefreshContentHash(t *testing.T) {
	ctx := context.Background()
	store := backlog.NewStore(datatest.Open(t))
	applySnapshot(t, store, 1, []*data.BacklogLine{line("ABC", "1001", "P1", 10)}, nil)

	var got data.BacklogLine
	require.NoError(t, store.DB().Take(&got).Error)
	require.NoError(t, store.SetBacklogQuantity(ctx, got.ID, decimal.NewFromInt(4)))
	require.NoError(t, store.SetDueDate(ctx, got.ID, datatest.Date(2024, 3, 1)))

	want := line("ABC", "1001", "P1", 4)
	want.DueDate = datatest.DatePtr(2024, 3, 1)
	require.NoError(t, store.DB().Take(&got, got.ID).Error)
	assert.Equal(t, backlog.ContentHash(want), got.ContentHash)
	assert.Nil(t, got.DueDateNote)

	outcomes, _ := applySnapshot(t, store, 2, []*data.BacklogLine{line("ABC", "1001", "P1", 10)}, nil)
	assert.Equal(t, 1, outcomes[backlog.Updated])
}

func TestBatch_SweepsAbsentKeysAndAnnotations(t *testing.T) {
	ctx := context.Background()
	store := backlog.NewStore(datatest.Open(t))
	applySnapshot(t, store, 1, []*data.BacklogLine{
		line("ABC", "1001", "P1", 10),
		line("ABC", "1002", "P2", 3),
		line("XYZ", "2001", "P9", 1),
	}, nil)

	var gone data.BacklogLine
	require.NoError(t, store.DB().Where("order_number = ?", "1002").Take(&gone).Error)
	require.NoError(t, store.SetServiceAdvisor(ctx, gone.ID, "  M. Berger ", "pg-sync"))

	rec := &recorder{}
	_, swept := applySnapshot(t, store, 2, []*data.BacklogLine{
		line("ABC", "1001", "P1", 10),
		line("XYZ", "2001", "P9", 1),
	}, rec)

	require.Len(t, swept, 1)
	assert.Equal(t, backlog.Key{Concern: "ABC", OrderNumber: "1002", PartNumber: "P2"}, swept[0].Key)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "M. Berger", rec.got[0].ServiceAdvisor)

	_, found, err := store.Get(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = store.Annotation(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, found)

	var count int64
	require.NoError(t, store.DB().Model(&data.BacklogLine{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestBatch_NotifierErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	store := backlog.NewStore(datatest.Open(t))
	applySnapshot(t, store, 1, []*data.BacklogLine{line("ABC", "1001", "P1", 10), line("ABC", "1002", "P2", 3)}, nil)

	rec := &recorder{err: errors.New("mail relay down")}
	err := store.Tx(ctx, func(tx *backlog.Store) error {
		batch, err := tx.NewBatch(ctx, 2)
		if err != nil {
			return err
		}
		if _, err := batch.Upsert(ctx, line("ABC", "1001", "P1", 4)); err != nil {
			return err
		}
		_, err = batch.Sweep(ctx, rec)
		return err
	})
	require.Error(t, err)

	var lines []data.BacklogLine
	require.NoError(t, store.DB().Order("id").Find(&lines).Error)
	require.Len(t, lines, 2)
	assert.True(t, lines[0].BacklogQuantity.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestAnnotations_SaveAndAdvisor(t *testing.T) {
	ctx := context.Background()
	store := backlog.NewStore(datatest.Open(t))
	applySnapshot(t, store, 1, []*data.BacklogLine{line("ABC", "1001", "P1", 10)}, nil)
	var l data.BacklogLine
	require.NoError(t, store.DB().Take(&l).Error)

	require.NoError(t, store.SaveAnnotation(ctx, &data.BacklogAnnotation{
		BacklogLineID: l.ID,
		Comment:       "customer waiting",
		DunningSent:   true,
		UpdatedBy:     "ui",
	}))
	require.NoError(t, store.SetServiceAdvisor(ctx, l.ID, "A. Kranz", "pg-sync"))

	a, found, err := store.Annotation(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "customer waiting", a.Comment)
	assert.True(t, a.DunningSent)
	assert.Equal(t, "A. Kranz", a.ServiceAdvisor)
	assert.Equal(t, "pg-sync", a.UpdatedBy)
}

func TestStore_MatchAndOverdue(t *testing.T) {
	ctx := context.Background()
	store := backlog.NewStore(datatest.Open(t))
	a := line("ABC", "1001", "P1", 3)
	a.ReferencedOrderNumber = "A-77"
	b := line("XYZ", "1001", "P1", 5)
	b.DueDate = nil
	c := line("ABC", "1002", "P1", 1)
	c.ReferencedOrderNumber = "A-77"
	c.DueDate = datatest.DatePtr(2024, 3, 1)
	applySnapshot(t, store, 1, []*data.BacklogLine{a, b, c}, nil)

	byOrder, err := store.MatchByOrderNumber(ctx, "1001", "P1")
	require.NoError(t, err)
	require.Len(t, byOrder, 2)
	assert.Less(t, byOrder[0].ID, byOrder[1].ID)

	byRef, err := store.MatchByReferencedOrder(ctx, "A-77", "P1")
	require.NoError(t, err)
	assert.Len(t, byRef, 2)

	overdue, err := store.Overdue(ctx, datatest.Date(2024, 2, 15))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "ABC", overdue[0].Concern)
	assert.Equal(t, "1001", overdue[0].OrderNumber)
}
