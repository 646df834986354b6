// Package config provides configuration management for the placement service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/vmplacer/internal/inventory/vsphere"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/provision"
	"github.com/limiquantix/vmplacer/internal/resources/compute"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "VMPLACER"

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Etcd      EtcdConfig       `mapstructure:"etcd"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	CORS      CORSConfig       `mapstructure:"cors"`
	VSphere   vsphere.Config   `mapstructure:"vsphere"`
	Inventory InventoryConfig  `mapstructure:"inventory"`
	Placement placement.Config `mapstructure:"placement"`
	Compute   compute.Config   `mapstructure:"compute"`
	Provision provision.Config `mapstructure:"provision"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds API authentication configuration. An empty secret disables
// authentication.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	Issuer      string        `mapstructure:"issuer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Inventory sources.
const (
	InventoryFile    = "file"
	InventoryVSphere = "vsphere"
)

// InventoryConfig selects where datacenter snapshots come from.
type InventoryConfig struct {
	// Source is "file" or "vsphere".
	Source string `mapstructure:"source"`

	// Path is the snapshot file of the file source.
	Path string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith loads configuration into v, which may already carry bound flags.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Inventory.Source {
	case InventoryFile:
		if c.Inventory.Path == "" {
			return fmt.Errorf("inventory.path is required for the file inventory")
		}
	case InventoryVSphere:
		if c.VSphere.URL == "" {
			return fmt.Errorf("vsphere.url is required for the vsphere inventory")
		}
	default:
		return fmt.Errorf("unknown inventory source %q", c.Inventory.Source)
	}
	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required when etcd is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "vmplacer")
	v.SetDefault("database.user", "vmplacer")
	v.SetDefault("database.password", "vmplacer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "2m")

	// Auth
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", "24h")
	v.SetDefault("auth.issuer", "vmplacer")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("cors.allow_credentials", false)

	// vSphere
	v.SetDefault("vsphere.url", "")
	v.SetDefault("vsphere.username", "")
	v.SetDefault("vsphere.password", "")
	v.SetDefault("vsphere.insecure", false)
	v.SetDefault("vsphere.datacenter", "")

	// Inventory
	v.SetDefault("inventory.source", InventoryFile)
	v.SetDefault("inventory.path", "./configs/datacenter.yaml")

	// Placement
	pd := placement.DefaultConfig()
	v.SetDefault("placement.cluster_name", pd.ClusterName)
	v.SetDefault("placement.engine", pd.Engine)
	v.SetDefault("placement.services", pd.Services)
	v.SetDefault("placement.strategy", pd.Strategy)
	v.SetDefault("placement.rack_to_hosts", pd.RackToHosts)
	v.SetDefault("placement.system_disk_size_mib", pd.SystemDiskSizeMiB)
	v.SetDefault("placement.debug", pd.Debug)

	// Compute
	cd := compute.DefaultConfig()
	v.SetDefault("compute.overcommit_cpu", cd.OvercommitCPU)
	v.SetDefault("compute.overcommit_memory", cd.OvercommitMemory)
	v.SetDefault("compute.reserved_cpu_cores", cd.ReservedCPUCores)
	v.SetDefault("compute.reserved_memory_mib", cd.ReservedMemoryMiB)

	// Provision
	prd := provision.DefaultConfig()
	v.SetDefault("provision.concurrency", prd.Concurrency)
	v.SetDefault("provision.poll_interval", prd.PollInterval)
	v.SetDefault("provision.timeout", prd.Timeout)
}
