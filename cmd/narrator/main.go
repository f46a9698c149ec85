// main package for the narrator service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/narravox/narrator/internal/audio"
	"github.com/narravox/narrator/internal/blob"
	"github.com/narravox/narrator/internal/cache"
	"github.com/narravox/narrator/internal/config"
	"github.com/narravox/narrator/internal/engine"
	"github.com/narravox/narrator/internal/objectstore"
	"github.com/narravox/narrator/internal/power"
	"github.com/narravox/narrator/internal/session"
	"github.com/narravox/narrator/internal/synthesis"
	"github.com/narravox/narrator/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narrator.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// A temporary logger carries the bootstrap until the configured log
	// directory is known.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the collaborators together and runs the worker until the
// context is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to create text object store: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to create audio object store: %w", err)
	}

	engineTimeout := time.Duration(cfg.Engine.TimeoutSeconds) * time.Second
	blobs := blob.NewTelegramStore(cfg.Telegram.Token, cfg.Telegram.ChatID, engineTimeout, log)

	index, err := cache.Open(ctx, cfg.Cache.DatabasePath, blobs, log)
	if err != nil {
		return fmt.Errorf("failed to open chapter cache: %w", err)
	}

	defer func() {
		closeErr := index.Close()
		if closeErr != nil {
			log.Error("Failed to close chapter cache: %v", closeErr)
		}
	}()

	pipeline := synthesis.New(synthesis.Deps{
		Engine:  engine.NewHTTPEngine(cfg.Engine.ServiceURL, engineTimeout, log),
		Index:   index,
		Blobs:   blobs,
		Probe:   power.NewSystemProbe(log),
		Encoder: audio.NewEncoder(cfg.Audio.BitrateKbps, log),
		Log:     log,
	}, cfg.Synthesis.MaxTemperatureC)

	sessionTTL := time.Duration(cfg.Session.TTLMinutes) * time.Minute

	natsWorker := worker.NewNatsWorker(worker.Deps{
		Conn: natsConnection,
		Subjects: worker.Subjects{
			ChapterJob:   cfg.NATS.ChapterJobSubject,
			Stream:       cfg.NATS.ChapterStreamSubject,
			BookRegister: cfg.NATS.BookRegisterSubject,
			RangeJob:     cfg.NATS.RangeJobSubject,
		},
		TextStore:  textStore,
		AudioStore: audioStore,
		Sessions:   session.NewCache(cfg.Session.MaxEntries, sessionTTL, log),
		Pipeline:   pipeline,
		Log:        log,
	})

	log.System("Narrator initialized. Listening for jobs on subject: %s", cfg.NATS.ChapterJobSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
