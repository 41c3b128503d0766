package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Taxonomy       TaxonomyConfig       `yaml:"taxonomy"`
	LogLevel       string               `yaml:"log_level"`
}

type ServerConfig struct {
	Port         string   `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// KafkaConfig enables the change-event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ReconciliationConfig struct {
	InactivityWindow   time.Duration `yaml:"inactivity_window"`
	ProgressFlushEvery int           `yaml:"progress_flush_every"`
}

// TaxonomyConfig points at the reference-data file. Empty means the built-in table.
type TaxonomyConfig struct {
	Path string `yaml:"path"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			AllowOrigins: []string{"http://localhost:3000"},
		},
		Kafka: KafkaConfig{
			Topic: "claim-changes",
		},
		Reconciliation: ReconciliationConfig{
			InactivityWindow:   5 * time.Minute,
			ProgressFlushEvery: 100,
		},
		LogLevel: "info",
	}
}

// Load reads defaults, then CONFIG_PATH (default config.yaml) if it exists,
// then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("RECON_INACTIVITY_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RECON_INACTIVITY_WINDOW: %w", err)
		}
		cfg.Reconciliation.InactivityWindow = d
	}
	if v := os.Getenv("RECON_PROGRESS_FLUSH_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RECON_PROGRESS_FLUSH_EVERY: %w", err)
		}
		cfg.Reconciliation.ProgressFlushEvery = n
	}
	if v := os.Getenv("TAXONOMY_PATH"); v != "" {
		cfg.Taxonomy.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Reconciliation.ProgressFlushEvery <= 0 {
		return nil, fmt.Errorf("progress_flush_every must be positive, got %d", cfg.Reconciliation.ProgressFlushEvery)
	}
	if cfg.Reconciliation.InactivityWindow <= 0 {
		return nil, fmt.Errorf("inactivity_window must be positive, got %s", cfg.Reconciliation.InactivityWindow)
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Level maps log_level onto gommon levels; unknown values fall back to info.
func (c *Config) Level() log.Lvl {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// InitDB opens the Postgres connection used by the repositories.
func InitDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty: set DATABASE_URL or database.dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	log.Infof("[Server] connected to postgres")
	return db, nil
}
