// Package config loads casegrid settings from CASEGRID_* environment
// variables, optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"casegrid/internal/blob"
	"casegrid/internal/core"
	"casegrid/internal/workbook"
)

// FileEnv names the environment variable holding the YAML overlay path.
const FileEnv = "CASEGRID_CONFIG"

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Tracing backends.
const (
	TracingNone = "none"
	TracingJSON = "json"
	TracingOTel = "otel"
)

// Config is the complete runtime configuration.
type Config struct {
	Owner         string        `yaml:"owner"`
	Development   bool          `yaml:"development"`
	Storage       Storage       `yaml:"storage"`
	Blob          Blob          `yaml:"blob"`
	Session       Session       `yaml:"session"`
	Log           Log           `yaml:"log"`
	Observability Observability `yaml:"observability"`
}

// Storage selects the snapshot store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Redis       Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Blob selects the artifact store for exports.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// Session tunes the editing engine.
type Session struct {
	Debounce              time.Duration `yaml:"debounce"`
	HistoryLimit          int           `yaml:"history_limit"`
	RevalidateChunk       int           `yaml:"revalidate_chunk"`
	RevalidateConcurrency int           `yaml:"revalidate_concurrency"`
	ParseChunk            int           `yaml:"parse_chunk"`
	Workers               bool          `yaml:"workers"`
	OperationTimeout      time.Duration `yaml:"operation_timeout"`
}

type Log struct {
	Mode string `yaml:"mode"`
}

type Observability struct {
	Metrics string `yaml:"metrics"`
	Tracing string `yaml:"tracing"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Owner:   "default",
		Storage: Storage{Driver: string(core.StorageSQLite), SQLitePath: "./casegrid.db"},
		Blob:    Blob{Driver: string(blob.DriverFilesystem), FSRoot: "./artifacts"},
		Session: Session{
			Debounce:              core.DefaultDebounce,
			HistoryLimit:          core.DefaultHistoryLimit,
			RevalidateChunk:       core.DefaultRevalidateChunkSize,
			RevalidateConcurrency: 4,
			ParseChunk:            workbook.DefaultParseChunk,
			Workers:               true,
			OperationTimeout:      core.DefaultOperationTimeout,
		},
		Log:           Log{Mode: "dev"},
		Observability: Observability{Metrics: MetricsExpvar, Tracing: TracingNone},
	}
}

// Load applies the environment over the defaults, then the YAML file named
// by CASEGRID_CONFIG when set.
func Load() (Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay decodes the YAML file at path over cfg. Keys absent from the file
// keep their current values.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	str(&c.Owner, "CASEGRID_OWNER")
	boolean(&c.Development, "CASEGRID_DEVELOPMENT")

	str(&c.Storage.Driver, "CASEGRID_STORAGE_DRIVER")
	str(&c.Storage.SQLitePath, "CASEGRID_SQLITE_PATH")
	str(&c.Storage.PostgresDSN, "CASEGRID_POSTGRES_DSN")
	str(&c.Storage.Redis.Addr, "CASEGRID_REDIS_ADDR")
	str(&c.Storage.Redis.Password, "CASEGRID_REDIS_PASSWORD")
	integer(&c.Storage.Redis.DB, "CASEGRID_REDIS_DB")
	duration(&c.Storage.Redis.TTL, "CASEGRID_REDIS_TTL")

	str(&c.Blob.Driver, "CASEGRID_BLOB_DRIVER")
	str(&c.Blob.FSRoot, "CASEGRID_BLOB_FS_ROOT")
	str(&c.Blob.S3.Bucket, "CASEGRID_BLOB_S3_BUCKET")
	str(&c.Blob.S3.Region, "CASEGRID_BLOB_S3_REGION")
	str(&c.Blob.S3.Endpoint, "CASEGRID_BLOB_S3_ENDPOINT")
	str(&c.Blob.S3.Prefix, "CASEGRID_BLOB_S3_PREFIX")
	boolean(&c.Blob.S3.PathStyle, "CASEGRID_BLOB_S3_PATH_STYLE")

	duration(&c.Session.Debounce, "CASEGRID_DEBOUNCE")
	integer(&c.Session.HistoryLimit, "CASEGRID_HISTORY_LIMIT")
	integer(&c.Session.RevalidateChunk, "CASEGRID_REVALIDATE_CHUNK")
	integer(&c.Session.RevalidateConcurrency, "CASEGRID_REVALIDATE_CONCURRENCY")
	integer(&c.Session.ParseChunk, "CASEGRID_PARSE_CHUNK")
	boolean(&c.Session.Workers, "CASEGRID_WORKERS")
	duration(&c.Session.OperationTimeout, "CASEGRID_OPERATION_TIMEOUT")

	str(&c.Log.Mode, "CASEGRID_LOG_MODE")
	str(&c.Observability.Metrics, "CASEGRID_METRICS")
	str(&c.Observability.Tracing, "CASEGRID_TRACING")
}

// Validate rejects unknown driver names and negative sizes.
func (c Config) Validate() error {
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres, core.StorageRedis:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if core.StorageDriver(c.Storage.Driver) == core.StoragePostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage driver postgres requires a dsn")
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory, blob.DriverS3:
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Observability.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Observability.Metrics)
	}
	switch c.Observability.Tracing {
	case TracingNone, TracingJSON, TracingOTel:
	default:
		return fmt.Errorf("unknown tracing backend %q", c.Observability.Tracing)
	}
	s := c.Session
	if s.Debounce < 0 || s.HistoryLimit < 0 || s.RevalidateChunk < 0 || s.RevalidateConcurrency < 0 || s.ParseChunk < 0 || s.OperationTimeout < 0 {
		return fmt.Errorf("session settings must not be negative: %+v", s)
	}
	return nil
}

// StorageConfig converts the storage section for core.OpenStorage.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:        core.StorageDriver(c.Storage.Driver),
		SQLitePath:    c.Storage.SQLitePath,
		PostgresDSN:   c.Storage.PostgresDSN,
		RedisAddr:     c.Storage.Redis.Addr,
		RedisPassword: c.Storage.Redis.Password,
		RedisDB:       c.Storage.Redis.DB,
		RedisTTL:      c.Storage.Redis.TTL,
	}
}

// BlobConfig converts the blob section for blob.Open.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Endpoint:  c.Blob.S3.Endpoint,
			Prefix:    c.Blob.S3.Prefix,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

// Environment reports the capabilities used for import/export tier
// selection.
func (c Config) Environment() workbook.Environment {
	return workbook.Environment{
		WorkersAvailable: c.Session.Workers,
		LocalFileOrigin:  true,
		Development:      c.Development,
		IdleScheduling:   true,
	}
}

// SessionOptions converts the session section into core options.
func (c Config) SessionOptions() []core.Option {
	return []core.Option{
		core.WithOwner(c.Owner),
		core.WithDebounce(c.Session.Debounce),
		core.WithHistoryLimit(c.Session.HistoryLimit),
		core.WithParseChunkSize(c.Session.ParseChunk),
		core.WithOperationTimeout(c.Session.OperationTimeout),
		core.WithRevalidateOptions(core.RevalidateOptions{
			ChunkSize:   c.Session.RevalidateChunk,
			Concurrency: c.Session.RevalidateConcurrency,
		}),
		core.WithEnvironment(c.Environment()),
	}
}

func str(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func integer(dst *int, name string) {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name))); err == nil {
		*dst = v
	}
}

func boolean(dst *bool, name string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

// duration accepts Go duration strings or a bare number of milliseconds.
func duration(dst *time.Duration, name string) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
