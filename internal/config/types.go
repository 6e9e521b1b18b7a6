package config

import (
	"time"

	"github.com/quipgate/quipgate/internal/quiplet"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Protection ProtectionConfig `yaml:"protection" mapstructure:"protection"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Resource   ResourceConfig   `yaml:"resource" mapstructure:"resource"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Schema     []SchemaRelation `yaml:"schema" mapstructure:"schema"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig contains the protected database connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig contains Redis cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ProtectionConfig contains rate limiting and blocklist configuration
type ProtectionConfig struct {
	MaxConnectionsPerMinute int           `yaml:"max_connections_per_minute" mapstructure:"max_connections_per_minute"`
	WindowSize              time.Duration `yaml:"window_size" mapstructure:"window_size"`
	BlockDuration           time.Duration `yaml:"block_duration" mapstructure:"block_duration"`
	BurstSize               int           `yaml:"burst_size" mapstructure:"burst_size"`
}

// ClassifierConfig contains behavioral classifier configuration
type ClassifierConfig struct {
	ArtifactPath string `yaml:"artifact_path" mapstructure:"artifact_path"`
	// FailOpen lets traffic through when no artifact can be loaded. The
	// default is fail-closed; enabling this is an operator decision and every
	// bypassed check is logged.
	FailOpen               bool          `yaml:"fail_open" mapstructure:"fail_open"`
	BlockThreshold         int           `yaml:"block_threshold" mapstructure:"block_threshold"`
	PrincipalBlockDuration time.Duration `yaml:"principal_block_duration" mapstructure:"principal_block_duration"`
	Whitelist              []string      `yaml:"whitelist" mapstructure:"whitelist"`
	AdminThreshold         float64       `yaml:"admin_threshold" mapstructure:"admin_threshold"`
	StaffThreshold         float64       `yaml:"staff_threshold" mapstructure:"staff_threshold"`
	AnalystThreshold       float64       `yaml:"analyst_threshold" mapstructure:"analyst_threshold"`
}

// RiskConfig contains cost/pattern risk scoring configuration
type RiskConfig struct {
	HighRiskThreshold float64       `yaml:"high_risk_threshold" mapstructure:"high_risk_threshold"`
	CostFloor         float64       `yaml:"cost_floor" mapstructure:"cost_floor"`
	RollingWindow     time.Duration `yaml:"rolling_window" mapstructure:"rolling_window"`
	CostCacheSize     int           `yaml:"cost_cache_size" mapstructure:"cost_cache_size"`
}

// ResourceConfig contains adaptive timeout and load monitoring configuration
type ResourceConfig struct {
	BaseStatementTimeout time.Duration `yaml:"base_statement_timeout" mapstructure:"base_statement_timeout"`
	MinStatementTimeout  time.Duration `yaml:"min_statement_timeout" mapstructure:"min_statement_timeout"`
	MaxConnections       int           `yaml:"max_connections" mapstructure:"max_connections"`
	TargetQueryTime      time.Duration `yaml:"target_query_time" mapstructure:"target_query_time"`
	QueryVolumeThreshold int           `yaml:"query_volume_threshold" mapstructure:"query_volume_threshold"`
	SampleInterval       time.Duration `yaml:"sample_interval" mapstructure:"sample_interval"`
}

// EventsConfig contains the websocket event hub configuration
type EventsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// SchemaRelation mirrors quiplet.Relation for YAML loading.
type SchemaRelation struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Attributes []string `yaml:"attributes" mapstructure:"attributes"`
}

// BuildSchema converts the configured relation list into an encoder schema.
func (c *Config) BuildSchema() (*quiplet.Schema, error) {
	relations := make([]quiplet.Relation, len(c.Schema))
	for i, rel := range c.Schema {
		relations[i] = quiplet.Relation{Name: rel.Name, Attributes: rel.Attributes}
	}
	return quiplet.NewSchema(relations)
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         5002,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/testdb?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     5 * time.Minute,
			KeyPrefix:      "quipgate",
		},
		Protection: ProtectionConfig{
			MaxConnectionsPerMinute: 10,
			WindowSize:              time.Minute,
			BlockDuration:           5 * time.Minute,
			BurstSize:               5,
		},
		Classifier: ClassifierConfig{
			ArtifactPath:           "models/artifact.json",
			FailOpen:               false,
			BlockThreshold:         3,
			PrincipalBlockDuration: time.Hour,
			Whitelist:              []string{"SELECT * FROM customers"},
			AdminThreshold:         0.9,
			StaffThreshold:         0.7,
			AnalystThreshold:       0.1,
		},
		Risk: RiskConfig{
			HighRiskThreshold: 0.7,
			CostFloor:         100,
			RollingWindow:     5 * time.Minute,
			CostCacheSize:     1024,
		},
		Resource: ResourceConfig{
			BaseStatementTimeout: 5000 * time.Millisecond,
			MinStatementTimeout:  500 * time.Millisecond,
			MaxConnections:       100,
			TargetQueryTime:      100 * time.Millisecond,
			QueryVolumeThreshold: 100,
			SampleInterval:       15 * time.Second,
		},
		Events: EventsConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Schema: []SchemaRelation{
			{Name: "customers", Attributes: []string{"first_name", "last_name", "email", "number"}},
		},
	}
	cfg.Logging.File.Path = "logs/quipgate.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true
	return cfg
}
