package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzbgetd/nzbgetd/internal/api"
	"github.com/nzbgetd/nzbgetd/internal/coordinator"
	"github.com/nzbgetd/nzbgetd/internal/diskstate"
	"github.com/nzbgetd/nzbgetd/internal/events"
	"github.com/nzbgetd/nzbgetd/internal/infra/config"
	"github.com/nzbgetd/nzbgetd/internal/infra/logger"
	"github.com/nzbgetd/nzbgetd/internal/queue"
	"github.com/nzbgetd/nzbgetd/internal/scheduler"
	"github.com/nzbgetd/nzbgetd/internal/serverpool"
	"github.com/nzbgetd/nzbgetd/internal/statmeter"
	"github.com/nzbgetd/nzbgetd/internal/writer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nzbgetd",
	Short: "nzbgetd is a headless Usenet download daemon",
	Long:  `A concurrent NNTP download engine: queue, scheduler, server pool, and writer tied together by the Queue Coordinator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer log.Sync()

	store, err := diskstate.New(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("disk state error: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := serverpool.New(log, cfg.Download.ConnectionTimeout)
	for _, s := range cfg.Servers {
		pool.AddServer(&serverpool.NewsServer{
			ID: s.ID, Host: s.Host, Port: s.Port, TLS: s.Encryption,
			Username: s.Username, Password: s.Password,
			MaxConnection: s.Connections, Level: s.Level, Group: s.Group,
			Retention: s.RetentionDays, Active: s.Active,
		})
	}
	pool.InitConnections()

	wr := writer.New(cfg.Download.TempDir, cfg.Download.OutDir, cfg.Download.DirectWrite)

	manifestFallback := func(f *queue.FileInfo) error {
		return fmt.Errorf("article state for %s was never persisted and no manifest is cached for re-parse", f.ID)
	}
	sched := scheduler.New(cfg.Download.PropagationDelay, store.ArticleLoaderWithFallback(manifestFallback))

	q, err := store.LoadDownloadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	history, err := store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	q.RestoreHistory(history)

	if err := diskstate.CleanupTempDir(cfg.Download.TempDir, q); err != nil {
		log.Warn("temp dir cleanup failed", zap.Error(err))
	}

	stats, err := store.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	meter := statmeter.New(2)
	throttle := statmeter.NewThrottle(cfg.Download.DownloadRate)
	bus := events.NewBus()

	healthPolicy := parseHealthCheck(cfg.Download.HealthCheck)
	coordCfg := coordinator.Config{
		TickInterval:     time.Second,
		ArticleTimeout:   cfg.Download.ArticleTimeout,
		TerminateTimeout: cfg.Download.TerminateTimeout,
		HealthCheck:      healthPolicy,
		SaveInterval:     10 * time.Second,
	}
	downCfg := scheduler.DownloaderConfig{
		Retries:          cfg.Download.Retries,
		RetryInterval:    cfg.Download.RetryInterval,
		CRCCheckEnabled:  cfg.Download.CRCCheck,
		UseBody:          false,
		BlockOnConnError: cfg.Download.ConnectionTimeout,
	}

	coord := coordinator.New(q, pool, sched, wr, store, bus, stats, meter, throttle, coordCfg, downCfg, log)

	e := echo.New()
	api.RegisterRoutes(e, q, log)
	go func() {
		addr := ":" + cfg.Port
		if err := e.Start(addr); err != nil {
			log.Info("http server stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	var queuedSize int64
	nzbs := q.All()
	for _, n := range nzbs {
		queuedSize += n.RemainingSize
	}
	log.Info("nzbgetd started",
		zap.Int("servers", len(cfg.Servers)), zap.Int("queued", len(nzbs)),
		zap.String("remaining", humanize.Bytes(uint64(queuedSize))))
	coord.Run(ctx)
	log.Info("nzbgetd stopped")
	return nil
}

func parseHealthCheck(v string) queue.HealthCheckPolicy {
	switch v {
	case "delete":
		return queue.HealthCheckDelete
	case "pause":
		return queue.HealthCheckPause
	default:
		return queue.HealthCheckNone
	}
}
