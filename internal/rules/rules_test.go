package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer-backlog/internal/data"
	"dealer-backlog/internal/data/datatest"
	"dealer-backlog/internal/rules"
	"dealer-backlog/internal/secondary"
	"dealer-backlog/internal/secondary/secondarytest"
)

var snapshot = datatest.Date(2024, 2, 1)

func TestEvaluate_NoRuleDefaultsToTomorrow(t *testing.T) {
	engine := rules.NewEngine(nil, secondarytest.New())

	d, err := engine.Evaluate(context.Background(), "3", "1001", snapshot)
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, datatest.Date(2024, 2, 2), *d.DueDate)
	assert.Nil(t, d.Note)
}

func TestEvaluate_SnapshotRelativeOffset(t *testing.T) {
	engine := rules.NewEngine([]data.DeliveryTermRule{{OrderType: 2, OffsetDays: 5}}, secondarytest.New())

	d, err := engine.Evaluate(context.Background(), "2", "", snapshot)
	require.NoError(t, err)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, datatest.Date(2024, 2, 6), *d.DueDate)
}

func TestEvaluate_OrderDateAnchor(t *testing.T) {
	fake := secondarytest.New()
	fake.Orders["1001"] = secondary.Order{Number: "1001", OrderDate: time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)}
	engine := rules.NewEngine([]data.DeliveryTermRule{{OrderType: 7, OffsetDays: 1, UseOrderDate: true}}, fake)

	d, err := engine.Evaluate(context.Background(), "7", "1001", snapshot)
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, "2024-01-11", d.DueDate.Format("2006-01-02"))
	assert.Nil(t, d.Note)
}

func TestEvaluate_OrderDateLookupMiss(t *testing.T) {
	engine := rules.NewEngine([]data.DeliveryTermRule{{OrderType: 7, OffsetDays: 1, UseOrderDate: true}}, secondarytest.New())

	d, err := engine.Evaluate(context.Background(), "7", "4711", snapshot)
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	assert.Nil(t, d.DueDate)
	require.NotNil(t, d.Note)
	assert.Contains(t, *d.Note, "4711")

	d, err = engine.Evaluate(context.Background(), "7", " ", snapshot)
	require.NoError(t, err)
	assert.Nil(t, d.DueDate)
	require.NotNil(t, d.Note)
}

func TestEvaluate_LookupErrorStillDecides(t *testing.T) {
	fake := secondarytest.New()
	fake.Err = errors.New("timeout")
	engine := rules.NewEngine([]data.DeliveryTermRule{{OrderType: 5, OffsetDays: 1, UseOrderDate: true}}, fake)

	d, err := engine.Evaluate(context.Background(), "5", "1001", snapshot)
	require.Error(t, err)
	assert.Nil(t, d.DueDate)
	require.NotNil(t, d.Note)
}

func TestParseOrderType(t *testing.T) {
	n, ok := rules.ParseOrderType("BA 07")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = rules.ParseOrderType("Lager")
	assert.False(t, ok)
}

func TestSnapshotDate_UsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	// 23:30 UTC on Jan 31 is already Feb 1 in Berlin.
	now := time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, datatest.Date(2024, 2, 1), rules.SnapshotDate(now, loc))
}

func TestLoadTerms(t *testing.T) {
	gdb := datatest.Open(t)
	require.NoError(t, gdb.Create(&[]data.DeliveryTermRule{
		{OrderType: 7, OffsetDays: 1, UseOrderDate: true},
		{OrderType: 2, OffsetDays: 5},
	}).Error)

	terms, err := rules.LoadTerms(context.Background(), gdb)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, 2, terms[0].OrderType)
	assert.Equal(t, 7, terms[1].OrderType)
}
