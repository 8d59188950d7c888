package data_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer-backlog/internal/data"
	"dealer-backlog/internal/data/datatest"
)

func TestSeedDataset_IsRepeatable(t *testing.T) {
	gdb := datatest.Open(t)
	ctx := context.Background()
	cfg := data.SeedConfig{Lines: 25, BatchSize: 10, Now: datatest.Date(2024, 3, 1)}

	require.NoError(t, data.SeedDataset(ctx, gdb, cfg))
	require.NoError(t, data.SeedDataset(ctx, gdb, cfg))

	var lines, terms, ignores, runs int64
	require.NoError(t, gdb.Model(&data.BacklogLine{}).Count(&lines).Error)
	require.NoError(t, gdb.Model(&data.DeliveryTermRule{}).Count(&terms).Error)
	require.NoError(t, gdb.Model(&data.IgnoredConcern{}).Count(&ignores).Error)
	require.NoError(t, gdb.Model(&data.ImportRun{}).Count(&runs).Error)

	assert.EqualValues(t, 25, lines)
	assert.EqualValues(t, len(data.DefaultDeliveryTerms), terms)
	assert.EqualValues(t, len(data.DefaultIgnoredConcerns), ignores)
	assert.EqualValues(t, 1, runs)

	var run data.ImportRun
	require.NoError(t, gdb.First(&run).Error)
	assert.Equal(t, 25, run.RowsOK)
	assert.Equal(t, data.SourceMain, run.SourceSystem)
}

func TestRunProbes_CollectsPlans(t *testing.T) {
	gdb := datatest.Open(t)
	ctx := context.Background()
	require.NoError(t, data.SeedDataset(ctx, gdb, data.SeedConfig{Lines: 5, Now: datatest.Date(2024, 3, 1)}))

	results := data.RunProbes(ctx, gdb, data.HotQueries())
	require.Len(t, results, len(data.HotQueries()))
	for _, res := range results {
		assert.NoError(t, res.Err, res.Name)
		assert.NotEmpty(t, res.Explain, res.Name)
	}
}
