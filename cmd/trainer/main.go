package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/config"
	"github.com/quipgate/quipgate/internal/corpus"
	"github.com/quipgate/quipgate/internal/logger"
	"github.com/quipgate/quipgate/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile  = flag.String("input", "", "Corpus dataset file (CSV, Parquet, or JSON)")
		fromStore  = flag.Bool("from-store", false, "Build the corpus from the audit log instead of a file")
		limit      = flag.Int("limit", 100000, "Maximum audit rows to read with --from-store")
		output     = flag.String("output", "", "Artifact output path (defaults to classifier.artifact_path)")
		eps        = flag.Float64("eps", 0, "DBSCAN neighborhood radius (0 = default)")
		minSamples = flag.Int("min-samples", 0, "DBSCAN core point threshold (0 = default)")
		epochs     = flag.Int("epochs", 0, "Perceptron training epochs (0 = default)")
		tolerance  = flag.Float64("tolerance", 0, "Misclassification tolerance for allowed sets (0 = default)")
		seed       = flag.Int64("seed", 0, "Training RNG seed (0 = default)")
	)
	flag.Parse()

	if *inputFile == "" && !*fromStore {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input corpus.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input corpus.parquet --epochs 50\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --from-store --limit 50000\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Quipgate trainer",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling training...")
		cancel()
	}()

	schema, err := cfg.BuildSchema()
	if err != nil {
		log.Fatal("Failed to build encoder schema", zap.Error(err))
	}

	// Gather the corpus
	var samples []classifier.Sample
	if *fromStore {
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

		samples, err = corpus.FromStore(ctx, st, *limit, log.WithComponent("corpus").Logger)
		if err != nil {
			log.Fatal("Failed to load corpus from audit log", zap.Error(err))
		}
	} else {
		if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
			log.Fatal("Input file does not exist", zap.String("file", *inputFile))
		}
		samples, err = corpus.FromFile(*inputFile, log.WithComponent("corpus").Logger)
		if err != nil {
			log.Fatal("Failed to load corpus file", zap.Error(err))
		}
	}

	if len(samples) == 0 {
		log.Fatal("Corpus is empty, nothing to train on")
	}

	// Train
	opts := classifier.DefaultTrainOptions()
	if *eps > 0 {
		opts.Eps = *eps
	}
	if *minSamples > 0 {
		opts.MinSamples = *minSamples
	}
	if *epochs > 0 {
		opts.Epochs = *epochs
	}
	if *tolerance > 0 {
		opts.Tolerance = *tolerance
	}
	if *seed != 0 {
		opts.Seed = *seed
	}

	trainLog := log.WithComponent("trainer").Logger

	// Holdout evaluation on a 20% split when the corpus is big enough; the
	// saved artifact always trains on the full corpus.
	if len(samples) >= 50 {
		rng := rand.New(rand.NewSource(opts.Seed))
		shuffled := make([]classifier.Sample, len(samples))
		copy(shuffled, samples)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		cut := len(shuffled) * 4 / 5
		trial, err := classifier.Train(shuffled[:cut], schema, opts, zap.NewNop())
		if err != nil {
			log.Fatal("Holdout training failed", zap.Error(err))
		}
		correct, total := classifier.Evaluate(trial, shuffled[cut:], schema)
		if total > 0 {
			trainLog.Info("Holdout evaluation",
				zap.Int("holdout_samples", total),
				zap.Int("within_tolerance", correct),
				zap.Float64("agreement", float64(correct)/float64(total)))
		}
	}

	artifact, err := classifier.Train(samples, schema, opts, trainLog)
	if err != nil {
		log.Fatal("Training failed", zap.Error(err))
	}

	// Persist the artifact
	outPath := *output
	if outPath == "" {
		outPath = cfg.Classifier.ArtifactPath
	}
	if err := classifier.SaveArtifact(outPath, artifact); err != nil {
		log.Fatal("Failed to save artifact", zap.Error(err))
	}

	log.Info("Training completed",
		zap.String("artifact", outPath),
		zap.Int("samples", len(samples)),
		zap.Int("classes", len(artifact.Classes)),
		zap.Int("principals", len(artifact.PrincipalClusters)),
		zap.Int("dimension", artifact.Dimension))
}
