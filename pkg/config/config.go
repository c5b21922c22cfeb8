package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FailMode controls what visitors get when the policy store is down.
type FailMode string

const (
	// FailOpen serves the last known policy, or a 503 page when none is cached.
	FailOpen FailMode = "open"
	// FailClosed answers 403.
	FailClosed FailMode = "closed"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	EdgeIPHeader string   // header set by the CDN edge, read before X-Forwarded-For when TrustProxy is set
	MaxBodyBytes int64    // bytes for POST /go fingerprint payload
	Outputs      []string // enabled sinks: log, kafka, postgres
	LogPath      string   // NDJSON event file, or "stdout"
	TablesFile   string
	FailMode     FailMode
	AllowPreview bool
	VerifySecret string

	Store    StoreConfig
	Reporter ReporterConfig
	Metrics  MetricsConfig
	Logger   LoggerConfig
	Kafka    KafkaConfig
	PGSink   PGSinkConfig
}

// StoreConfig selects and tunes the policy store.
type StoreConfig struct {
	Kind          string // file | postgres
	ResourcesFile string
	PGDSN         string
	RedisURL      string // empty disables the shared cache
	CacheTTL      time.Duration
	LookupTimeout time.Duration
}

type ReporterConfig struct {
	QueueSize int
	Workers   int
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string
	Format      string // json | console
	ServiceName string
	AddSource   bool
	LogFile     string
	MaxSize     int // megabytes
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
}

// KafkaConfig holds configuration for the Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	TLSCAPath     string
	TLSSkipVerify bool
}

// PGSinkConfig holds configuration for the Postgres event sink
type PGSinkConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// SetDefaults registers every key with its default. Keys map to upper-case
// environment variables of the same name.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":19890")
	v.SetDefault("trust_proxy", true)
	v.SetDefault("edge_ip_header", "CF-Connecting-IP")
	v.SetDefault("max_body_bytes", 64<<10)
	v.SetDefault("outputs", "log")
	v.SetDefault("log_path", "events.ndjson")
	v.SetDefault("tables_file", "")
	v.SetDefault("fail_mode", string(FailOpen))
	v.SetDefault("allow_preview", false)
	v.SetDefault("verify_secret", "")

	v.SetDefault("store", "file")
	v.SetDefault("resources_file", "resources.yaml")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("policy_cache_ttl", "30s")
	v.SetDefault("policy_lookup_timeout", "300ms")

	v.SetDefault("reporter_queue", 1024)
	v.SetDefault("reporter_workers", 2)

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_addr", "127.0.0.1:9090")
	v.SetDefault("metrics_tls_cert", "")
	v.SetDefault("metrics_tls_key", "")
	v.SetDefault("metrics_client_ca", "")
	v.SetDefault("metrics_require_tls", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_service_name", "cloakgate")
	v.SetDefault("log_add_source", false)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
	v.SetDefault("log_compress", false)

	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "cloakgate.decisions")
	v.SetDefault("kafka_acks", "all")
	v.SetDefault("kafka_compression", "")
	v.SetDefault("kafka_sasl_mechanism", "")
	v.SetDefault("kafka_sasl_user", "")
	v.SetDefault("kafka_sasl_password", "")
	v.SetDefault("kafka_tls_ca", "")
	v.SetDefault("kafka_tls_skip_verify", false)

	v.SetDefault("pg_table", "cloak_events")
	v.SetDefault("pg_batch_size", 500)
	v.SetDefault("pg_flush_ms", 1000)
	v.SetDefault("pg_copy", true)
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Environment values win.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) Config {
	dsn := v.GetString("pg_dsn")
	return Config{
		ServerAddr:   v.GetString("server_addr"),
		TrustProxy:   getBool(v, "trust_proxy"),
		EdgeIPHeader: v.GetString("edge_ip_header"),
		MaxBodyBytes: v.GetInt64("max_body_bytes"),
		Outputs:      getStringSlice(v, "outputs"),
		LogPath:      v.GetString("log_path"),
		TablesFile:   v.GetString("tables_file"),
		FailMode:     FailMode(strings.ToLower(v.GetString("fail_mode"))),
		AllowPreview: getBool(v, "allow_preview"),
		VerifySecret: v.GetString("verify_secret"),

		Store: StoreConfig{
			Kind:          strings.ToLower(v.GetString("store")),
			ResourcesFile: v.GetString("resources_file"),
			PGDSN:         dsn,
			RedisURL:      v.GetString("redis_url"),
			CacheTTL:      v.GetDuration("policy_cache_ttl"),
			LookupTimeout: v.GetDuration("policy_lookup_timeout"),
		},
		Reporter: ReporterConfig{
			QueueSize: v.GetInt("reporter_queue"),
			Workers:   v.GetInt("reporter_workers"),
		},
		Metrics: MetricsConfig{
			Enabled:    getBool(v, "metrics_enabled"),
			Addr:       v.GetString("metrics_addr"),
			TLSCert:    v.GetString("metrics_tls_cert"),
			TLSKey:     v.GetString("metrics_tls_key"),
			ClientCA:   v.GetString("metrics_client_ca"),
			RequireTLS: getBool(v, "metrics_require_tls"),
		},
		Logger: LoggerConfig{
			Level:       v.GetString("log_level"),
			Format:      v.GetString("log_format"),
			ServiceName: v.GetString("log_service_name"),
			AddSource:   getBool(v, "log_add_source"),
			LogFile:     v.GetString("log_file"),
			MaxSize:     v.GetInt("log_max_size_mb"),
			MaxBackups:  v.GetInt("log_max_backups"),
			MaxAge:      v.GetInt("log_max_age_days"),
			Compress:    getBool(v, "log_compress"),
		},
		Kafka: KafkaConfig{
			Brokers:       getStringSlice(v, "kafka_brokers"),
			Topic:         v.GetString("kafka_topic"),
			Acks:          v.GetString("kafka_acks"),
			Compression:   v.GetString("kafka_compression"),
			SASLMechanism: v.GetString("kafka_sasl_mechanism"),
			SASLUser:      v.GetString("kafka_sasl_user"),
			SASLPassword:  v.GetString("kafka_sasl_password"),
			TLSCAPath:     v.GetString("kafka_tls_ca"),
			TLSSkipVerify: getBool(v, "kafka_tls_skip_verify"),
		},
		PGSink: PGSinkConfig{
			DSN:       dsn,
			Table:     v.GetString("pg_table"),
			BatchSize: v.GetInt("pg_batch_size"),
			FlushMS:   v.GetInt("pg_flush_ms"),
			UseCopy:   getBool(v, "pg_copy"),
		},
	}
}

var knownOutputs = map[string]bool{"log": true, "kafka": true, "postgres": true}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Kind {
	case "file":
		if c.Store.ResourcesFile == "" {
			errs = append(errs, errors.New("RESOURCES_FILE is required for the file store"))
		}
	case "postgres":
		if c.Store.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE %q", c.Store.Kind))
	}
	if c.FailMode != FailOpen && c.FailMode != FailClosed {
		errs = append(errs, fmt.Errorf("unknown FAIL_MODE %q", c.FailMode))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.Reporter.QueueSize <= 0 || c.Reporter.Workers <= 0 {
		errs = append(errs, errors.New("REPORTER_QUEUE and REPORTER_WORKERS must be positive"))
	}
	if c.Store.LookupTimeout <= 0 {
		errs = append(errs, errors.New("POLICY_LOOKUP_TIMEOUT must be positive"))
	}
	for _, out := range c.Outputs {
		if !knownOutputs[out] {
			errs = append(errs, fmt.Errorf("unknown output %q", out))
		}
		if out == "postgres" && c.PGSink.DSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres output"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// HasOutput reports whether name is among the enabled sinks.
func (c Config) HasOutput(name string) bool {
	for _, o := range c.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

func getBool(v *viper.Viper, k string) bool {
	return parseBool(v.GetString(k), false)
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}

// getStringSlice accepts a YAML list or a comma separated string.
func getStringSlice(v *viper.Viper, k string) []string {
	var parts []string
	switch raw := v.Get(k).(type) {
	case []string:
		parts = raw
	case []any:
		for _, p := range raw {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = strings.Split(v.GetString(k), ",")
	}
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
