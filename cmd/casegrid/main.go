// Command casegrid imports, validates and exports outbreak case workbooks
// against the persisted grid snapshot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"casegrid/internal/config"
	"casegrid/internal/core"
	"casegrid/internal/platform/logger"
	"casegrid/internal/workbook"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "casegrid:", err)
		exitFunc(1)
	}
}

// globalFlags are the persistent flags that override loaded configuration.
type globalFlags struct {
	configPath string
	storage    string
	sqlitePath string
	owner      string
	logMode    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "casegrid",
		Short:         "Outbreak case grid: import, validate and export line lists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (overrides "+config.FileEnv+")")
	pf.StringVar(&flags.storage, "storage", "", "snapshot storage driver: memory|sqlite|postgres|redis")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "sqlite database file")
	pf.StringVar(&flags.owner, "owner", "", "snapshot owner")
	pf.StringVar(&flags.logMode, "log-mode", "", "log mode: dev|prod|off")

	root.AddCommand(
		newImportCmd(&flags),
		newExportCmd(&flags),
		newValidateCmd(&flags),
	)
	return root
}

// loadConfig resolves configuration: defaults, environment, YAML file, then
// command-line flags.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flags.configPath != "" {
		if err := cfg.Overlay(flags.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if flags.storage != "" {
		cfg.Storage.Driver = flags.storage
	}
	if flags.sqlitePath != "" {
		cfg.Storage.SQLitePath = flags.sqlitePath
	}
	if flags.owner != "" {
		cfg.Owner = flags.owner
	}
	if flags.logMode != "" {
		cfg.Log.Mode = flags.logMode
	}
	return cfg, cfg.Validate()
}

// runtime owns the process-wide resources a command needs.
type runtime struct {
	cfg      config.Config
	log      *logger.Logger
	storage  core.KVStore
	worker   *workbook.Worker
	registry *prometheus.Registry
	tp       *sdktrace.TracerProvider
	session  *core.Session
}

func openRuntime(ctx context.Context, flags *globalFlags, stderr io.Writer) (*runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log.With("owner", cfg.Owner)}

	rt.storage, err = core.OpenStorage(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	opts := append(cfg.SessionOptions(), core.WithStorage(rt.storage), core.WithLogger(rt.log))

	switch cfg.Observability.Metrics {
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetrics(core.NewExpvarMetricsRecorder("")))
	case config.MetricsPrometheus:
		rt.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(rt.registry)
		if err != nil {
			rt.close()
			return nil, err
		}
		opts = append(opts, core.WithMetrics(rec))
	}
	switch cfg.Observability.Tracing {
	case config.TracingJSON:
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	case config.TracingOTel:
		rt.tp = sdktrace.NewTracerProvider()
		opts = append(opts, core.WithTracer(core.NewOTelTracer(rt.tp)))
	}
	if cfg.Session.Workers {
		rt.worker = workbook.NewWorker(0)
		rt.worker.Start()
		opts = append(opts, core.WithWorker(rt.worker))
	}
	rt.session = core.NewSession(opts...)
	rt.log.Debug("runtime ready", "storage", cfg.Storage.Driver, "metrics", cfg.Observability.Metrics, "tracing", cfg.Observability.Tracing)
	return rt, nil
}

// loadSnapshot restores the persisted grid or fails when there is none.
func (rt *runtime) loadSnapshot(ctx context.Context) error {
	found, err := rt.session.Load(ctx)
	if err != nil {
		return err
	}
	if !found {
		return errNoSnapshot
	}
	return nil
}

var errNoSnapshot = errors.New("no saved grid; run import first")

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.session != nil {
		rt.session.Close()
	}
	if rt.worker != nil {
		if err := rt.worker.Stop(ctx); err != nil {
			rt.log.Warn("stop workbook worker", "error", err)
		}
	}
	if rt.registry != nil {
		if families, err := rt.registry.Gather(); err == nil {
			rt.log.Debug("metrics gathered", "families", len(families))
		}
	}
	if rt.tp != nil {
		if err := rt.tp.Shutdown(ctx); err != nil {
			rt.log.Warn("shutdown tracer provider", "error", err)
		}
	}
	if rt.storage != nil {
		if err := rt.storage.Close(); err != nil {
			rt.log.Warn("close storage", "error", err)
		}
	}
	rt.log.Sync()
}
