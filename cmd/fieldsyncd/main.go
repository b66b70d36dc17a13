// Package main runs fieldsyncd, the on-device sync daemon: it owns the
// local store, the sync engine and scheduler, and serves the control
// API the app shell talks to on localhost.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fieldhq/fieldsync/cmd/fieldsyncd/handlers"
	"github.com/fieldhq/fieldsync/internal/api"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/network"
	"github.com/fieldhq/fieldsync/internal/service"
	"github.com/fieldhq/fieldsync/internal/store"
	syncpkg "github.com/fieldhq/fieldsync/internal/sync"
	"github.com/fieldhq/fieldsync/internal/sync/queue"
	"github.com/fieldhq/fieldsync/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

// Config is read from the environment at startup.
type Config struct {
	DataDir    string        `env:"FIELDSYNC_DATA_DIR" envDefault:"./data"`
	APIBaseURL string        `env:"FIELDSYNC_API_URL,required"`
	APIToken   string        `env:"FIELDSYNC_API_TOKEN"`
	APITimeout time.Duration `env:"FIELDSYNC_API_TIMEOUT" envDefault:"15s"`
	ListenAddr string        `env:"FIELDSYNC_LISTEN_ADDR" envDefault:"127.0.0.1:8787"`
	LogFile    string        `env:"FIELDSYNC_LOG_FILE"`
	LogLevel   string        `env:"FIELDSYNC_LOG_LEVEL" envDefault:"INFO"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fieldsyncd: bad configuration: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	logging.Info("fieldsyncd starting", map[string]interface{}{
		"version":  Version,
		"data_dir": cfg.DataDir,
		"api_url":  cfg.APIBaseURL,
		"listen":   cfg.ListenAddr,
	})

	if err := run(cfg); err != nil {
		logging.Error("fieldsyncd exited with error", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("migrate store: %w", err)
	}

	repo := store.NewRepository(db.DB)
	q := queue.New(repo)
	tasks := service.NewTaskService(db, repo, q)

	client := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.APITimeout,
	})
	monitor := network.NewMonitor(client)
	engine := syncpkg.NewEngine(repo, client, monitor, q)
	sched := scheduler.New(engine, repo)
	monitor.OnChange(sched.SetOnline)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	mux := handlers.NewMux(handlers.Deps{
		Engine:  engine,
		Sched:   sched,
		Service: tasks,
		Repo:    repo,
		Monitor: monitor,
	})
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("control api listening", map[string]interface{}{"addr": cfg.ListenAddr})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutdown signal received")
	case err := <-serveErr:
		sched.Stop()
		db.Close()
		return fmt.Errorf("control api: %w", err)
	}

	// Drain in order: stop accepting control requests, let the running
	// pass finish, then close the store so WAL checkpoints cleanly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("control api shutdown failed", err)
	}
	sched.Stop()
	if err := db.Close(); err != nil {
		logging.Error("store close failed", err)
	}

	logging.Info("fieldsyncd stopped")
	return nil
}

// initLogging points the logging facade at the configured destination:
// a size-rotated file when one is set, stdout otherwise.
func initLogging(cfg Config) {
	out := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	logging.Init(out, logging.LogLevel(strings.ToUpper(cfg.LogLevel)))
}
