// fleetsyncd is the local sync agent for the fleet maintenance app. It
// owns the durable mutation queue, watches connectivity to the central
// fleet service, and replays queued work when the camp's link comes back.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timberline/fleetsync/internal/api"
	"github.com/timberline/fleetsync/internal/attach"
	"github.com/timberline/fleetsync/internal/config"
	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/fleet"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
	"github.com/timberline/fleetsync/internal/queue"
	"github.com/timberline/fleetsync/internal/remote"
	"github.com/timberline/fleetsync/internal/store"
	syncpkg "github.com/timberline/fleetsync/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	logging.Info("Starting fleetsync agent", map[string]interface{}{"data_dir": cfg.DataDir})

	s, err := store.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open local store", err)
		os.Exit(1)
	}
	defer s.Close()

	bus := events.NewBus()
	hub := events.NewHub()
	detach := hub.AttachBus(bus)
	defer detach()

	q := queue.New(s, bus, cfg.Sync.MaxQueueItems, cfg.Sync.MaxRetries)
	stager := attach.NewStager(s, cfg.Attachments.MaxBytes)
	notifier := notify.NewNotifier(bus)
	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.GetTimeout())

	kinds := []models.Kind{models.KindRecord, models.KindMessage, models.KindMachine}
	uploader := syncpkg.NewUploader(q, client, stager, notifier, bus, kinds)
	monitor := syncpkg.NewMonitor(client, uploader, notifier, bus, cfg.Sync.GetProbeInterval())
	service := fleet.NewService(q, client, syncpkg.NewDuplicateFilter(client), monitor, notifier, uploader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()

	scheduler := syncpkg.NewScheduler(uploader, monitor, cfg.Sync.Schedule)
	if err := scheduler.Start(ctx); err != nil {
		logging.Error("Failed to start scheduler", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	handler := api.NewHandler(q, uploader, monitor, hub, service, stager)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler.Routes(),
	}

	go func() {
		logging.Info("Server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server failed", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	logging.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", err)
	}
}
