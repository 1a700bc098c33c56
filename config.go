package rwpool

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
)

// Supported values of Config.Driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	defaultRetries               = 3
	defaultHeldConnectionWarning = 60 * time.Second
	defaultSlowThreshold         = 50 * time.Millisecond
	defaultMaxConns              = 10
	defaultMaxConnLifetime       = 30 * time.Minute
	defaultMaxConnIdleTime       = 5 * time.Minute
	defaultConnectTimeout        = 10 * time.Second
)

// Config controls the behavior of the Manager.
type Config struct {
	// Driver is DriverPostgres (default) or DriverMySQL.
	Driver string `mapstructure:"driver"`

	// Primary is the write-capable pool.
	Primary PoolConfig `mapstructure:"primary"`

	// Replica is the read-only pool. When left empty it uses the primary's
	// connection settings.
	Replica PoolConfig `mapstructure:"replica"`

	// Retries is the total number of attempts for a retryable query.
	// Defaults to 3.
	Retries int `mapstructure:"retries"`

	// HeldConnectionWarning defaults to 60s.
	HeldConnectionWarning time.Duration `mapstructure:"held_connection_warning"`

	// SlowThreshold marks a health check round trip as slow. Defaults to 50ms.
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// Logging is used to build a Logger when Logger is nil.
	Logging *LoggingConfig `mapstructure:"logging"`

	// Logger defaults to NopLogger.
	Logger Logger `mapstructure:"-"`

	// FormatDuration defaults to FormatDuration.
	FormatDuration DurationFormatter `mapstructure:"-"`

	// Backoff defaults to RemainingBudgetBackoff.
	Backoff BackoffFunc `mapstructure:"-"`

	// Registerer receives the pool metrics when set.
	Registerer prometheus.Registerer `mapstructure:"-"`

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider `mapstructure:"-"`
}

// PoolConfig holds the connection settings and limits of one pool.
type PoolConfig struct {
	// ConnectionString, when set, takes precedence over the individual
	// connection fields. Postgres accepts URL or keyword/value form, MySQL a
	// go-sql-driver DSN.
	ConnectionString string `mapstructure:"connection_string"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// SSLMode is passed through as the Postgres sslmode. Ignored for MySQL.
	SSLMode string `mapstructure:"ssl_mode"`

	// MaxConns defaults to 10.
	MaxConns int32 `mapstructure:"max_conns"`

	// MinConns defaults to 0.
	MinConns int32 `mapstructure:"min_conns"`

	// MaxConnLifetime defaults to 30m.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`

	// MaxConnIdleTime defaults to 5m.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	// ConnectTimeout defaults to 10s.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func (c PoolConfig) isZero() bool {
	return c.ConnectionString == "" && c.Host == ""
}

// withDefaults returns a copy of c with every unset field defaulted.
func (c Config) withDefaults() (Config, error) {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	if c.HeldConnectionWarning <= 0 {
		c.HeldConnectionWarning = defaultHeldConnectionWarning
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = defaultSlowThreshold
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
		if c.Logging != nil {
			l, err := NewLogger(*c.Logging)
			if err != nil {
				return c, fmt.Errorf("rwpool: build logger: %w", err)
			}
			c.Logger = l
		}
	}
	if c.FormatDuration == nil {
		c.FormatDuration = FormatDuration
	}
	if c.Backoff == nil {
		c.Backoff = RemainingBudgetBackoff
	}
	if c.Replica.isZero() {
		limits := c.Replica
		c.Replica = c.Primary
		if limits.MaxConns > 0 {
			c.Replica.MaxConns = limits.MaxConns
		}
		if limits.MinConns > 0 {
			c.Replica.MinConns = limits.MinConns
		}
	}
	c.Primary = c.Primary.withDefaults()
	c.Replica = c.Replica.withDefaults()
	return c, nil
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = defaultMaxConnLifetime
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// LoadConfig reads a Config from a YAML, JSON or TOML file. Every key can be
// overridden from the environment with the RWPOOL_ prefix, for example
// RWPOOL_PRIMARY_PASSWORD.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("RWPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Logging keys have no default, so bind them explicitly to let the
	// environment enable logging without a file entry.
	for _, key := range []string{"logging.level", "logging.format", "logging.output_path"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("rwpool: read config: %w", err)
	}
	return ConfigFromViper(v)
}

// setDefaults registers every key so that Unmarshal sees values that only
// come from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", DriverPostgres)
	v.SetDefault("retries", defaultRetries)
	v.SetDefault("held_connection_warning", defaultHeldConnectionWarning)
	v.SetDefault("slow_threshold", defaultSlowThreshold)

	for _, role := range []string{"primary", "replica"} {
		for _, key := range []string{"connection_string", "host", "database", "user", "password", "ssl_mode"} {
			v.SetDefault(role+"."+key, "")
		}
		v.SetDefault(role+".port", 0)
		v.SetDefault(role+".max_conns", 0)
		v.SetDefault(role+".min_conns", 0)
		v.SetDefault(role+".max_conn_lifetime", defaultMaxConnLifetime)
		v.SetDefault(role+".max_conn_idle_time", defaultMaxConnIdleTime)
		v.SetDefault(role+".connect_timeout", defaultConnectTimeout)
	}
}

// ConfigFromViper decodes a Config from an already populated viper instance.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("rwpool: decode config: %w", err)
	}
	return cfg, nil
}
