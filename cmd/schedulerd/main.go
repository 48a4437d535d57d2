// Command schedulerd runs the task scheduler daemon: it loads config,
// opens the task store, and serves the HTTP surface described in the
// scheduler's API until it receives a termination signal.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ehlowr0ld/taskscheduler/internal/config"
	"github.com/ehlowr0ld/taskscheduler/internal/httpapi"
	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "scheduler/config.yaml", "path to the scheduler config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("schedulerd: failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *configPath); err != nil {
		slog.Error("schedulerd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	clock := scheduler.NewSystemClock(cfg.DefaultTimezone)

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}

	ctxStore, err := buildContextStore(cfg.ContextStore)
	if err != nil {
		return err
	}

	cron := scheduler.NewCronEvaluator()

	sched := scheduler.New(scheduler.Config{
		Clock:          clock,
		Store:          repo,
		Cron:           cron,
		ContextStore:   ctxStore,
		Agent:          scheduler.AgentRunnerFunc(runAgentUnconfigured),
		MaxParallelism: cfg.MaxParallelism,
		CancelGrace:    cfg.CancelGrace(),
	})
	if err := sched.Start(); err != nil {
		return err
	}

	if cfg.Backup.Enabled && cfg.StoreBackend != "postgres" {
		mirror, err := scheduler.NewBackupMirror(context.Background(), cfg.Backup.Bucket, cfg.Backup.Key, cfg.Backup.Region, cfg.StorePath, 5*time.Minute)
		if err != nil {
			slog.Warn("schedulerd: backup mirror disabled", "error", err)
		} else {
			mirrorCtx, cancelMirror := context.WithCancel(context.Background())
			mirror.Start(mirrorCtx)
			if fileStore, ok := repo.(*scheduler.TaskStore); ok {
				fileStore.OnWrite(mirror.Trigger)
			}
			defer cancelMirror()
			defer mirror.Stop()
		}
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		slog.Warn("schedulerd: could not build config watcher", "error", err)
	} else {
		watcher.OnChange(func(newCfg *config.Config) {
			slog.Info("schedulerd: config changed, rate limits and timeouts apply on next restart")
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("schedulerd: could not start config watcher", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	server := httpapi.NewServer(httpapi.Options{
		Scheduler:          sched,
		Store:              repo,
		ContextStore:       ctxStore,
		Cron:               cron,
		AuthToken:          cfg.HTTP.AuthToken,
		RateLimitPerSecond: cfg.HTTP.RateLimitPerSecond,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		MaxPromptTokens:    cfg.HTTP.MaxPromptTokens,
	})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("schedulerd: listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("schedulerd: received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		slog.Error("schedulerd: http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("schedulerd: http shutdown error", "error", err)
	}
	return sched.Shutdown(shutdownCtx)
}

// buildRepository selects the TaskRepository backend per config. The
// file backend additionally starts an fsnotify watcher so out-of-band
// edits to the JSON document are picked up without a restart; the
// postgres backend has no equivalent since every read already hits the
// database.
func buildRepository(cfg *config.Config) (scheduler.TaskRepository, error) {
	if cfg.StoreBackend == "postgres" {
		return scheduler.NewPostgresTaskStore(cfg.StorePostgresDSN)
	}

	store, err := scheduler.NewTaskStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	if err := store.Watch(func() { slog.Info("schedulerd: task store reloaded out-of-band") }); err != nil {
		slog.Warn("schedulerd: could not start task store watcher", "error", err)
	}
	return store, nil
}

func buildContextStore(cfg config.ContextStoreConfig) (scheduler.ContextStore, error) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ttl := time.Duration(cfg.TTLSeconds) * time.Second
		return scheduler.NewRedisContextStore(client, "scheduler:ctx:", ttl), nil
	}
	return scheduler.NewMemoryContextStore(cfg.MaxEntries)
}

// runAgentUnconfigured is the default AgentRunner until the host process
// wires a real conversational agent backend; it fails fast rather than
// silently no-opping so misconfiguration surfaces as on_error immediately.
func runAgentUnconfigured(ctx context.Context, bundle scheduler.PromptBundle) (string, error) {
	return "", scheduler.ErrAgentNotConfigured
}
