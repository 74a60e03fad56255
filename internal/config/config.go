// Package config loads and validates the memory subsystem configuration from
// a YAML file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the full configuration tree.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Memory        MemoryConfig        `yaml:"memory"`
	Access        AccessConfig        `yaml:"access"`
	Observability ObservabilityConfig `yaml:"observability"`
	Events        EventsConfig        `yaml:"events"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig configures the DynamoDB backends. InMemory replaces them
// with process-local stores for local development and tests.
type DatabaseConfig struct {
	Region           string `yaml:"region"`
	EpisodicTable    string `yaml:"episodicTable" validate:"required"`
	SemanticTable    string `yaml:"semanticTable" validate:"required"`
	LedgerTable      string `yaml:"ledgerTable" validate:"required"`
	DomainIndex      string `yaml:"domainIndex"`
	PairIndex        string `yaml:"pairIndex"`
	InMemory         bool   `yaml:"inMemory"`
	EndpointOverride string `yaml:"endpointOverride"`
}

// MemoryConfig configures domains, consolidation and retention.
type MemoryConfig struct {
	Domains             []string      `yaml:"domains" validate:"required,min=1"`
	ConsolidateInterval time.Duration `yaml:"consolidateInterval"`
	VolumeThreshold     int           `yaml:"volumeThreshold" validate:"min=1"`
	ImportanceFloor     float64       `yaml:"importanceFloor" validate:"min=0,max=1"`
	GroupingThreshold   float64       `yaml:"groupingThreshold" validate:"min=0,max=1"`
	WorkerTick          time.Duration `yaml:"workerTick"`
	RetentionSweepTick  time.Duration `yaml:"retentionSweepTick"`
	ConsolidatedTTL     time.Duration `yaml:"consolidatedTtl"`
	ImportantTTL        time.Duration `yaml:"importantTtl"`
	SearchCacheTTL      time.Duration `yaml:"searchCacheTtl"`
	CacheMaxItems       int           `yaml:"cacheMaxItems"`
	CacheMaxBytes       int64         `yaml:"cacheMaxBytes"`
}

// AccessConfig configures the domain access controller.
type AccessConfig struct {
	ApproveThreshold    float64       `yaml:"approveThreshold" validate:"min=0,max=1"`
	ReviewThreshold     float64       `yaml:"reviewThreshold" validate:"min=0,max=1"`
	FrequencySaturation float64       `yaml:"frequencySaturation" validate:"min=1"`
	DecayHalfLife       time.Duration `yaml:"decayHalfLife"`
	OutcomeWeight       float64       `yaml:"outcomeWeight" validate:"min=0,max=1"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsNamespace string `yaml:"metricsNamespace"`
	TracingEndpoint  string `yaml:"tracingEndpoint"`
	EnableTracing    bool   `yaml:"enableTracing"`
}

// EventsConfig configures the EventBridge publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BusName string `yaml:"busName"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Region:        "us-east-1",
			EpisodicTable: "mnemo-episodic",
			SemanticTable: "mnemo-semantic",
			LedgerTable:   "mnemo-ledger",
			DomainIndex:   "DomainIndex",
			PairIndex:     "PairIndex",
			InMemory:      true,
		},
		Memory: MemoryConfig{
			Domains:             []string{"personal", "professional", "technical"},
			ConsolidateInterval: 15 * time.Minute,
			VolumeThreshold:     50,
			ImportanceFloor:     0.8,
			GroupingThreshold:   0.25,
			WorkerTick:          30 * time.Second,
			RetentionSweepTick:  time.Hour,
			ConsolidatedTTL:     7 * 24 * time.Hour,
			ImportantTTL:        30 * 24 * time.Hour,
			SearchCacheTTL:      30 * time.Second,
			CacheMaxItems:       1000,
			CacheMaxBytes:       16 << 20,
		},
		Access: AccessConfig{
			ApproveThreshold:    0.8,
			ReviewThreshold:     0.5,
			FrequencySaturation: 5,
			DecayHalfLife:       7 * 24 * time.Hour,
			OutcomeWeight:       0.2,
		},
		Observability: ObservabilityConfig{
			MetricsNamespace: "mnemo",
		},
	}
}

// Load reads configuration from the given YAML file (optional), overlays
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Access.ReviewThreshold > c.Access.ApproveThreshold {
		return fmt.Errorf("access.reviewThreshold %.2f exceeds access.approveThreshold %.2f",
			c.Access.ReviewThreshold, c.Access.ApproveThreshold)
	}
	return nil
}

// applyEnv overlays environment variables. Environment wins over file values.
func (c *Config) applyEnv() {
	if val := os.Getenv("MNEMO_ENV"); val != "" {
		c.Environment = Environment(strings.ToLower(val))
	}
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	if val := os.Getenv("AWS_REGION"); val != "" {
		c.Database.Region = val
	}
	if val := os.Getenv("EPISODIC_TABLE"); val != "" {
		c.Database.EpisodicTable = val
	}
	if val := os.Getenv("SEMANTIC_TABLE"); val != "" {
		c.Database.SemanticTable = val
	}
	if val := os.Getenv("LEDGER_TABLE"); val != "" {
		c.Database.LedgerTable = val
	}
	if val := os.Getenv("USE_IN_MEMORY"); val != "" {
		c.Database.InMemory = val == "true"
	}
	if val := os.Getenv("MEMORY_DOMAINS"); val != "" {
		c.Memory.Domains = strings.Split(val, ",")
	}
	if val := os.Getenv("EVENT_BUS_NAME"); val != "" {
		c.Events.Enabled = true
		c.Events.BusName = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Observability.EnableTracing = true
		c.Observability.TracingEndpoint = val
	}
}
