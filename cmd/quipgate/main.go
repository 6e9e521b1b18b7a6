package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/admission"
	"github.com/quipgate/quipgate/internal/analysis"
	"github.com/quipgate/quipgate/internal/cache"
	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/config"
	"github.com/quipgate/quipgate/internal/events"
	"github.com/quipgate/quipgate/internal/gateway"
	"github.com/quipgate/quipgate/internal/logger"
	"github.com/quipgate/quipgate/internal/monitor"
	"github.com/quipgate/quipgate/internal/ratelimit"
	"github.com/quipgate/quipgate/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("quipgate %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}
	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting quipgate",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port))

	schema, err := cfg.BuildSchema()
	if err != nil {
		log.Fatal("Invalid schema configuration", zap.Error(err))
	}

	st, err := store.New(&store.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer st.Close()

	var assessments *cache.AssessmentCache
	if cfg.Cache.Enabled {
		assessments, err = cache.NewAssessmentCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer assessments.Close()
	}

	// The gateway can start without a trained artifact; the classifier then
	// applies the configured fail-open/fail-closed policy per request.
	var artifact *classifier.Artifact
	if a, err := classifier.LoadArtifact(cfg.Classifier.ArtifactPath); err != nil {
		log.Warn("No classifier artifact loaded",
			zap.String("path", cfg.Classifier.ArtifactPath),
			zap.Bool("fail_open", cfg.Classifier.FailOpen),
			zap.Error(err))
	} else {
		artifact = a
	}

	behavior, err := classifier.New(artifact, schema, st, classifier.Config{
		FailOpen:               cfg.Classifier.FailOpen,
		BlockThreshold:         cfg.Classifier.BlockThreshold,
		PrincipalBlockDuration: cfg.Classifier.PrincipalBlockDuration,
		Whitelist:              cfg.Classifier.Whitelist,
		AdminThreshold:         cfg.Classifier.AdminThreshold,
		StaffThreshold:         cfg.Classifier.StaffThreshold,
		AnalystThreshold:       cfg.Classifier.AnalystThreshold,
	}, log.WithComponent("classifier").Logger)
	if err != nil {
		log.Fatal("Failed to build classifier", zap.Error(err))
	}

	scorer, err := analysis.NewScorer(st, assessments, analysis.Config{
		HighRiskThreshold: cfg.Risk.HighRiskThreshold,
		CostFloor:         cfg.Risk.CostFloor,
		RollingWindow:     cfg.Risk.RollingWindow,
		CostCacheSize:     cfg.Risk.CostCacheSize,
	}, log.WithComponent("analysis").Logger)
	if err != nil {
		log.Fatal("Failed to build risk scorer", zap.Error(err))
	}

	hub := events.NewHub(events.Config{
		MaxConnections:  cfg.Events.MaxConnections,
		ReadBufferSize:  cfg.Events.ReadBufferSize,
		WriteBufferSize: cfg.Events.WriteBufferSize,
		AllowedOrigins:  cfg.Events.AllowedOrigins,
	}, log.WithComponent("events").Logger)

	limiter := ratelimit.New(st, hub, ratelimit.Config{
		MaxConnectionsPerMinute: cfg.Protection.MaxConnectionsPerMinute,
		WindowSize:              cfg.Protection.WindowSize,
		BlockDuration:           cfg.Protection.BlockDuration,
		BurstSize:               cfg.Protection.BurstSize,
	}, log.WithComponent("ratelimit").Logger)

	mon := monitor.New(st, hub, monitor.Config{
		BaseStatementTimeout: cfg.Resource.BaseStatementTimeout,
		MinStatementTimeout:  cfg.Resource.MinStatementTimeout,
		MaxConnections:       cfg.Resource.MaxConnections,
		TargetQueryTime:      cfg.Resource.TargetQueryTime,
		QueryVolumeThreshold: cfg.Resource.QueryVolumeThreshold,
		SampleInterval:       cfg.Resource.SampleInterval,
		HighRiskThreshold:    cfg.Risk.HighRiskThreshold,
	}, log.WithComponent("monitor").Logger)

	controller := admission.New(limiter, behavior, scorer, mon, st, admission.Config{
		RollingWindow: cfg.Risk.RollingWindow,
	}, log.WithComponent("admission").Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go mon.Run(ctx)
	limiter.StartCleanupRoutine(ctx)
	go watchArtifact(ctx, cfg.Classifier.ArtifactPath, behavior, log)

	server := gateway.New(cfg, log, st, controller, mon, hub)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}
		log.Info("Server shutdown complete")
	}
}

// watchArtifact hot-swaps the behavioral model when the trainer writes a new
// artifact file. The directory is watched rather than the file itself so
// atomic rename-into-place updates are seen.
func watchArtifact(ctx context.Context, path string, behavior *classifier.Classifier, log *logger.Logger) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("Artifact watch unavailable", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Warn("Failed to watch artifact directory",
			zap.String("path", path), zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) ||
				!event.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			artifact, err := classifier.LoadArtifact(path)
			if err != nil {
				log.Warn("Ignoring unreadable artifact update",
					zap.String("path", path), zap.Error(err))
				continue
			}
			if err := behavior.ReplaceArtifact(artifact); err != nil {
				log.Warn("Rejected artifact update",
					zap.String("path", path), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("Artifact watch error", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return logger.New(loggerConfig)
}

func performHealthCheck() {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:5002/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
