package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MYSQL_HOST", "db.local")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("POSTGRES_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.local", cfg.MySQLHost)
	assert.Equal(t, "/mnt/Import-Folder", cfg.ImportDir)
	assert.Equal(t, 3, cfg.ReconcileDefaultDays)
	assert.Equal(t, []string{"VOLV", "POLE"}, cfg.Concerns())
	assert.Empty(t, cfg.SecondaryDSN())

	from, to, err := cfg.OrderTypeRange()
	require.NoError(t, err)
	assert.Equal(t, 5, from)
	assert.Equal(t, 8, to)
}

func TestSecondaryDSN_FromParts(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "pg",
		PostgresPort:     "5433",
		PostgresDB:       "loco",
		PostgresUser:     "reader",
		PostgresPassword: "secret",
	}
	assert.Equal(t, "host=pg port=5433 dbname=loco user=reader password=secret sslmode=disable", cfg.SecondaryDSN())

	cfg.PostgresDSN = "postgres://x"
	assert.Equal(t, "postgres://x", cfg.SecondaryDSN())
}

func TestOrderTypeRange(t *testing.T) {
	cases := []struct {
		raw     string
		from    int
		to      int
		wantErr bool
	}{
		{raw: "5-8", from: 5, to: 8},
		{raw: "7", from: 7, to: 7},
		{raw: " 1 - 3 ", from: 1, to: 3},
		{raw: "8-5", wantErr: true},
		{raw: "x", wantErr: true},
	}
	for _, tc := range cases {
		cfg := &Config{DueDateOrderTypes: tc.raw}
		from, to, err := cfg.OrderTypeRange()
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.from, from, tc.raw)
		assert.Equal(t, tc.to, to, tc.raw)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}
