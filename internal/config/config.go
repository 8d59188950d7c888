package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Config holds everything a job invocation needs to reach its stores.
type Config struct {
	MySQLUser     string `env:"MYSQL_USER" envDefault:"rueckstand"`
	MySQLPassword string `env:"MYSQL_PASSWORD"`
	MySQLHost     string `env:"MYSQL_HOST" envDefault:"127.0.0.1"`
	MySQLPort     string `env:"MYSQL_PORT" envDefault:"3306"`
	MySQLDatabase string `env:"MYSQL_DATABASE" envDefault:"rueckstand"`
	MySQLParams   string `env:"MYSQL_PARAMS" envDefault:"charset=utf8mb4&parseTime=True&loc=UTC"`

	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`

	ImportDir    string `env:"IMPORT_DIR" envDefault:"/mnt/Import-Folder"`
	SnapshotFile string `env:"SNAPSHOT_FILE" envDefault:"LocoBestellungen.xlsx"`
	Timezone     string `env:"TIMEZONE" envDefault:"Europe/Berlin"`

	RedisAddress string        `env:"REDIS_ADDRESS"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"30m"`
	HTTPAddress  string        `env:"HTTP_ADDRESS" envDefault:":8080"`

	ReconcileDefaultDays int    `env:"RECONCILE_DEFAULT_DAYS" envDefault:"3"`
	DueDateConcerns      string `env:"DUE_DATE_CONCERNS" envDefault:"VOLV,POLE"`
	DueDateOrderTypes    string `env:"DUE_DATE_ORDER_TYPES" envDefault:"5-8"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

// Load reads optional .env files and then the process environment.
// A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.OrderTypeRange(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the configured timezone used to derive the snapshot date.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SecondaryDSN returns the lib/pq connection string for the read-only store,
// preferring POSTGRES_DSN when set.
func (c *Config) SecondaryDSN() string {
	if strings.TrimSpace(c.PostgresDSN) != "" {
		return c.PostgresDSN
	}
	if c.PostgresHost == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword)
}

// Concerns returns the upper-cased due-date allow-list.
func (c *Config) Concerns() []string {
	var out []string
	for _, part := range strings.Split(c.DueDateConcerns, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// OrderTypeRange parses DUE_DATE_ORDER_TYPES ("5-8" or "7").
func (c *Config) OrderTypeRange() (int, int, error) {
	raw := strings.TrimSpace(c.DueDateOrderTypes)
	lo, hi, found := strings.Cut(raw, "-")
	if !found {
		hi = lo
	}
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DUE_DATE_ORDER_TYPES %q: %w", raw, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DUE_DATE_ORDER_TYPES %q: %w", raw, err)
	}
	if from > to {
		return 0, 0, fmt.Errorf("invalid DUE_DATE_ORDER_TYPES %q: lower bound above upper bound", raw)
	}
	return from, to, nil
}
