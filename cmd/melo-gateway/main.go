// main package for the melo-gateway
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/cache"
	"github.com/book-expert/melo-gateway/internal/config"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/book-expert/melo-gateway/internal/engine"
	"github.com/book-expert/melo-gateway/internal/objectstore"
	"github.com/book-expert/melo-gateway/internal/registry"
	"github.com/book-expert/melo-gateway/internal/server"
	"github.com/book-expert/melo-gateway/internal/text"
	"github.com/book-expert/melo-gateway/internal/worker"
	"github.com/nats-io/nats.go"
)

const logFileName = "melo-gateway.log"

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// buildEngine selects the synthesis backend from the configuration.
func buildEngine(cfg *config.Config, log *logger.Logger) core.SpeechEngine {
	if cfg.Melo.Engine == config.EngineHTTP {
		timeout := time.Duration(cfg.Melo.TimeoutSeconds) * time.Second

		return engine.NewRuntimeClient(cfg.Melo.RuntimeURL, timeout)
	}

	return engine.NewExecEngine(cfg.Melo.BinaryPath, cfg.Melo.Device, cfg.SpeakerCatalog(), log)
}

// buildCache connects to Redis when an address is configured and falls back
// to the no-op cache otherwise.
func buildCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.AudioCache, func()) {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewNoop(), func() {}
	}

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second

	redisCache, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, ttl)
	if err != nil {
		log.Warn("Redis cache unavailable at %s, continuing without caching: %v", cfg.Cache.RedisAddr, err)

		return cache.NewNoop(), func() {}
	}

	log.Info("Connected to Redis cache at %s", cfg.Cache.RedisAddr)

	return redisCache, func() {
		closeErr := redisCache.Close()
		if closeErr != nil {
			log.Warn("Failed to close Redis client: %v", closeErr)
		}
	}
}

// startWorker connects to NATS and runs the synthesis job worker until the
// context is cancelled. It is skipped entirely when no NATS URL is configured.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	log *logger.Logger,
) (func(), error) {
	if cfg.NATS.URL == "" {
		return func() {}, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open audio object store: %w", err)
	}

	jobTimeout := time.Duration(cfg.Melo.TimeoutSeconds) * time.Second

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.SynthesisSubject, store, reg, jobTimeout, log,
	)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create NATS worker: %w", err)
	}

	go func() {
		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	log.System("Listening for synthesis jobs on subject: %s", cfg.NATS.SynthesisSubject)

	return natsConnection.Close, nil
}

func run() error {
	// A temporary logger covers the window before the configuration names
	// the real log directory.
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	speechEngine := buildEngine(cfg, finalLog)

	var normalizer registry.Normalizer
	if cfg.Melo.NormalizeText {
		normalizer = text.NewNormalizer()
	}

	reg := registry.New(speechEngine, registry.Defaults{
		Language: cfg.Melo.DefaultLanguage,
		Speaker:  cfg.Melo.DefaultSpeaker,
		Speed:    cfg.Melo.DefaultSpeed,
	}, normalizer, finalLog)

	reg.Warmup(ctx, cfg.Melo.PreloadLanguages)

	audioCache, closeCache := buildCache(ctx, cfg, finalLog)
	defer closeCache()

	closeWorker, err := startWorker(ctx, cfg, reg, finalLog)
	if err != nil {
		finalLog.Error("Failed to start NATS worker: %v", err)

		return err
	}
	defer closeWorker()

	handler := server.NewHandler(reg, audioCache, cfg, finalLog)
	srv := server.New(cfg, handler, finalLog)

	serveErrChan := make(chan error, 1)

	go func() {
		serveErrChan <- srv.ListenAndServe()
	}()

	finalLog.System("MeloTTS gateway listening on port %d", cfg.Server.Port)

	select {
	case serveErr := <-serveErrChan:
		if serveErr != nil {
			return fmt.Errorf("server failed: %w", serveErr)
		}

		return nil
	case <-ctx.Done():
	}

	grace := time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	finalLog.System("Gateway shut down cleanly.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
