// Command forwarder is the process entry point: it loads configuration,
// opens the persistent store and entity-resolution cache, starts the
// per-account supervisor, starts the admin bot, and blocks until a signal
// asks it to shut down.
//
// Grounded on cmd/userbot/main.go's bootstrap sequence (flag parse → config
// load → logger init → signal.NotifyContext → app Init/Run → stop()),
// generalised from a single-account app to the multi-account supervisor +
// admin bot pair this spec requires.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telegram-forwarder/internal/adminbot"
	"telegram-forwarder/internal/domain/classify"
	"telegram-forwarder/internal/domain/resolve"
	"telegram-forwarder/internal/domain/supervisor"
	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/pr"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))

	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	env := config.Env()

	logger.Init(env.LogLevel)
	if err := logger.InitSinks(env.LogDir, env.LogLevel); err != nil {
		log.Fatalf("failed to init log sinks: %v", err)
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	if !env.Headless {
		// The console login fallback reads its prompts through pr's readline.
		if err := pr.Init(); err != nil {
			log.Fatalf("failed to init console input: %v", err)
		}
	}

	st, err := store.Open(env.CredentialsFile, env.TargetsFile, env.OperatorsFile, env.GlobalPolicyFile, env.PrimaryOperatorID)
	if err != nil {
		log.Fatalf("failed to open persistent store: %v", err)
	}

	resolveCache, err := resolve.Open(env.EntityCacheFile)
	if err != nil {
		log.Fatalf("failed to open entity resolution cache: %v", err)
	}
	defer resolveCache.Close()

	statsRecorder := stats.New()

	retry := classify.DefaultRetryPolicy()
	if env.RetryBaseSeconds > 0 {
		retry.Base = time.Duration(env.RetryBaseSeconds) * time.Second
	}
	if env.RetryMaxAttempts > 0 {
		retry.MaxRetries = env.RetryMaxAttempts
	}

	watchDebounce := time.Duration(env.WatchDebounceMS) * time.Millisecond
	if watchDebounce <= 0 {
		watchDebounce = 2 * time.Second
	}

	sup := supervisor.New(supervisor.Options{
		Store:         st,
		ResolveCache:  resolveCache,
		Retry:         retry,
		Stats:         statsRecorder,
		SessionsDir:   env.SessionsDir,
		WatchDebounce: watchDebounce,
		WatchPaths:    []string{env.CredentialsFile, env.TargetsFile, env.OperatorsFile, env.GlobalPolicyFile},
		Headless:      env.Headless,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(env.SessionsDir, 0o700); err != nil {
		log.Fatalf("failed to create sessions dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(env.EntityCacheFile), 0o700); err != nil {
		log.Fatalf("failed to create cache dir: %v", err)
	}

	if err := sup.Start(ctx); err != nil {
		log.Fatalf("supervisor start failed: %v", err)
	}

	bot, err := adminbot.New(adminbot.Options{
		Token:       env.BotToken,
		Store:       st,
		Supervisor:  sup,
		Stats:       statsRecorder,
		SessionsDir: env.SessionsDir,
		ThrottleRPS: env.ThrottleRPS,
	})
	if err != nil {
		log.Fatalf("admin bot init failed: %v", err)
	}

	var botDone sync.WaitGroup
	botDone.Add(1)
	go func() {
		defer botDone.Done()
		if err := bot.Start(ctx); err != nil {
			logger.Sink(logger.SinkError).Error("admin bot stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sup.Stop()
	botDone.Wait()
	statsRecorder.FlushAll()
	log.Println("graceful shutdown complete")
}
