package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/roshanlam/iFetch/internal/archive"
	"github.com/roshanlam/iFetch/internal/checkpoint"
	"github.com/roshanlam/iFetch/internal/config"
	"github.com/roshanlam/iFetch/internal/event"
	"github.com/roshanlam/iFetch/internal/logging"
	"github.com/roshanlam/iFetch/internal/observers"
	"github.com/roshanlam/iFetch/internal/profile"
	"github.com/roshanlam/iFetch/internal/progress"
	"github.com/roshanlam/iFetch/internal/remote"
	"github.com/roshanlam/iFetch/internal/transfer"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	baseURL := fs.String("url", "", "Remote server base URL")
	username := fs.String("username", "", "Login username")
	source := fs.String("source", "", "Remote path to fetch")
	dest := fs.String("dest", "", "Local destination directory")
	workers := fs.Int("workers", 0, "Number of concurrent chunk workers")
	chunkSize := fs.String("chunk-size", "", "Chunk size (e.g. 1MB)")
	retries := fs.Int("retries", 0, "Retry attempts per chunk")
	showProgress := fs.Bool("progress", false, "Show progress output")
	force := fs.Bool("force", false, "Discard checkpoints and refetch everything")
	noArchive := fs.Bool("no-archive", false, "Disable version archiving of overwritten files")
	profileName := fs.String("profile", "", "Active profile name")
	profilesPath := fs.String("profiles", "", "Path to profiles YAML file")
	stateURL := fs.String("state-url", "", "Checkpoint bucket URL (default: file:// under dest)")
	indexFile := fs.String("index", "", "Append completed files to this index file")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ifetch fetch [options]

Transfer a remote file or directory tree to a local destination with
resumable, checkpointed chunk downloads. Interrupted runs resume where
they left off; changed remote files are re-planned from scratch and the
prior local copy is archived first.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, code := loadConfig(*configPath, config.Config{
		BaseURL:   *baseURL,
		Username:  *username,
		Source:    *source,
		Dest:      *dest,
		Workers:   *workers,
		Progress:  *showProgress,
		Retry:     config.RetryConfig{Attempts: *retries},
		Profiles:  *profilesPath,
		Profile:   *profileName,
		StateURL:  *stateURL,
		IndexFile: *indexFile,
		Logging:   logging.Config{Level: *logLevel},
	}, *chunkSize)
	if code != ExitSuccess {
		return code
	}
	if *noArchive {
		cfg.Archive = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[ifetch] Received interrupt, shutting down...")
		cancel()
	}()

	return fetch(ctx, cfg, *metricsAddr, *force, logger)
}

func fetch(ctx context.Context, cfg config.Config, metricsAddr string, force bool, logger *zap.Logger) int {
	if err := os.MkdirAll(cfg.Dest, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating destination: %v\n", err)
		return ExitStorageError
	}

	session := remote.NewClient(remote.Options{
		BaseURL:   cfg.BaseURL,
		Username:  cfg.Username,
		Password:  os.Getenv("IFETCH_PASSWORD"),
		TwoFactor: promptTwoFactor,
	})

	bucket, err := openStateBucket(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening checkpoint bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()
	store := checkpoint.New(bucket, "")

	var archiver *archive.Archiver
	if cfg.Archive {
		archiver, err = archive.New(cfg.Dest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
			return ExitStorageError
		}
	}

	filter, code := loadFilter(cfg)
	if code != ExitSuccess {
		return code
	}

	bus := event.NewBus(logger)
	if cfg.IndexFile != "" {
		bus.Register(observers.NewIndexer(cfg.IndexFile))
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		bus.Register(observers.NewMetrics(reg))
		go serveMetrics(metricsAddr, reg, logger)
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Source:  cfg.Source,
			Workers: cfg.Workers,
		})
		bus.Register(reporter)
		reporter.Start()
		defer reporter.Stop()
	}

	coord := transfer.NewCoordinator(transfer.Options{
		Session:    session,
		Store:      store,
		Archiver:   archiver,
		Bus:        bus,
		Filter:     filter,
		Logger:     logger,
		Workers:    cfg.Workers,
		ChunkSize:  cfg.ChunkSize,
		Force:      force,
		Retries:    cfg.Retry.Attempts,
		Backoff:    cfg.Retry.Backoff,
		MaxBackoff: cfg.Retry.MaxBackoff,
		Totals: func(files int, bytes int64) {
			if reporter != nil {
				reporter.AddTotals(files, bytes)
			}
		},
	})

	report, err := coord.Run(ctx, cfg.Source, cfg.Dest)
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrTwoFactorDenied):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitAuthFailed
		case errors.Is(err, transfer.ErrPartial):
			fmt.Fprintf(os.Stderr, "[ifetch] %d of %d files failed, see %s\n",
				report.Failed, len(report.Files), transfer.ReportFileName)
			return ExitPartialFailure
		case isStorageError(err):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
	}

	fmt.Fprintf(os.Stderr, "[ifetch] Done: %d fetched, %d skipped, %s transferred\n",
		report.Succeeded, report.SkippedN, progress.FormatBytes(report.Bytes))
	return ExitSuccess
}

// loadConfig layers file, environment and flag overrides over defaults.
func loadConfig(path string, flags config.Config, chunkSize string) (config.Config, int) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cfg, ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, ExitInvalidArgs
	}
	if chunkSize != "" {
		size, err := progress.ParseBytes(chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -chunk-size: %v\n", err)
			return cfg, ExitInvalidArgs
		}
		flags.ChunkSize = size
	}
	return cfg.Merge(flags), ExitSuccess
}

// openStateBucket opens the checkpoint bucket. Without an explicit URL the
// checkpoints live in a fileblob directory under the destination root.
func openStateBucket(ctx context.Context, cfg config.Config) (*blob.Bucket, error) {
	stateURL := cfg.StateURL
	if stateURL == "" {
		dir, err := filepath.Abs(filepath.Join(cfg.Dest, ".ifetch-state"))
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		stateURL = "file://" + filepath.ToSlash(dir)
	}
	return blob.OpenBucket(ctx, stateURL)
}

// loadFilter resolves the active profile into a filter, if one is set.
func loadFilter(cfg config.Config) (*profile.Filter, int) {
	if cfg.Profiles == "" {
		return nil, ExitSuccess
	}
	f, err := profile.Load(cfg.Profiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, ExitInvalidArgs
	}
	name := cfg.Profile
	if name == "" {
		name = "default"
	}
	p, err := f.Get(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, ExitInvalidArgs
	}
	return profile.NewFilter(p), ExitSuccess
}

// promptTwoFactor reads a verification code from the terminal.
func promptTwoFactor() (string, error) {
	fmt.Fprint(os.Stderr, "[ifetch] Two-factor code: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func isStorageError(err error) bool {
	var storageErr *transfer.StorageError
	return errors.As(err, &storageErr)
}
