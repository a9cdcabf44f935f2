// Package cli implements the deepwatch command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/deepwatch/internal/config"
	"github.com/GriffinCanCode/deepwatch/internal/grpcclient"
	"github.com/GriffinCanCode/deepwatch/internal/observe"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/records"
	"github.com/GriffinCanCode/deepwatch/internal/results"
	"github.com/GriffinCanCode/deepwatch/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

// globalFlags override the environment configuration when set.
type globalFlags struct {
	detectionConfig string
	inferenceAddr   string
	postgresDSN     string
	resultsDir      string
	logLevel        string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "deepwatch",
		Short:         "Real-time deepfake detection for screen video and call audio",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.detectionConfig, "config", "", "detection thresholds YAML (default: $DETECTION_CONFIG or built-in defaults)")
	pf.StringVar(&flags.inferenceAddr, "inference", "", "model server address (default: $INFERENCE_ADDR)")
	pf.StringVar(&flags.postgresDSN, "db", "", "PostgreSQL connection string; records stay in memory when empty (default: $POSTGRES_DSN)")
	pf.StringVar(&flags.resultsDir, "results", "", "directory for session artifacts (default: $RESULTS_DIR)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (default: $LOG_LEVEL)")

	root.AddCommand(
		newServeCommand(&flags),
		newVideoCommand(&flags),
		newVoiceCommand(&flags),
		newCleanupCommand(&flags),
	)
	return root
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.detectionConfig != "" {
		det, err := config.LoadDetection(flags.detectionConfig)
		if err != nil {
			return nil, err
		}
		cfg.DetectionConfigPath = flags.detectionConfig
		cfg.Detection = *det
	}
	if flags.inferenceAddr != "" {
		cfg.InferenceAddr = flags.inferenceAddr
	}
	if flags.postgresDSN != "" {
		cfg.PostgresDSN = flags.postgresDSN
	}
	if flags.resultsDir != "" {
		cfg.ResultsDir = flags.resultsDir
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

// openStore connects to Postgres when a DSN is configured.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("no database configured, records are kept in memory")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pg, nil
}

// runtime holds everything a detection command needs.
type runtime struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *observe.Metrics
	store     store.Store
	inference *grpcclient.Client
	manager   *orchestrator.Manager

	shutdownMetrics func(context.Context) error
}

func openRuntime(ctx context.Context, flags *globalFlags) (*runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: newLogger(cfg)}

	mp, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	rt.shutdownMetrics = shutdown
	if rt.metrics, err = observe.NewMetrics(mp); err != nil {
		rt.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if rt.store, err = openStore(ctx, cfg, rt.log); err != nil {
		rt.Close()
		return nil, err
	}

	rt.inference, err = grpcclient.Dial(cfg.InferenceAddr, grpcclient.Options{
		Logger:         rt.log,
		Metrics:        rt.metrics,
		ModelDirectory: cfg.Detection.App.ModelDirectory,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to connect to inference server %s: %w", cfg.InferenceAddr, err)
	}

	rt.manager = orchestrator.New(orchestrator.Options{
		Vision:          rt.inference.Vision(),
		Voice:           rt.inference.Voice(),
		Detection:       cfg.Detection,
		Records:         records.NewBatcher(rt.store, 0, 0, rt.log),
		Results:         results.NewWriter(cfg.ResultsDir, cfg.Detection.App.OptOutOfScreenCapture, rt.metrics, rt.log),
		Metrics:         rt.metrics,
		Logger:          rt.log,
		CaptureInterval: captureInterval(cfg.ScreenCaptureRate),
		AudioQueueSize:  cfg.QueueCapacity,
	})
	return rt, nil
}

// Close releases the runtime. It uses a fresh context because the command
// context is usually cancelled by now.
func (rt *runtime) Close() {
	if rt.inference != nil {
		_ = rt.inference.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.shutdownMetrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.shutdownMetrics(ctx)
	}
}

// captureInterval converts a capture rate in Hz; non-positive rates fall back
// to the orchestrator default.
func captureInterval(rateHz float64) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rateHz)
}
