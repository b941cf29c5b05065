package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/openbdc/broadbandsync/pkg/export"
	"github.com/openbdc/broadbandsync/pkg/server"
	"github.com/openbdc/broadbandsync/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the trigger server",
		Long: `Serve starts the HTTP server that triggers pipeline runs on demand
(POST /v1/run), reports status and health, and streams run progress over
WebSocket. Set BDSYNC_RUN_INTERVAL to also run on a schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	log.Println("Starting broadbandsync server...")

	opts := server.LoadOptions()
	if configPath != "" {
		opts.ConfigPath = configPath
	}

	cfg, err := server.LoadPipelineConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	features, checkpoints, err := server.InitializeStores(cfg.DataDir)
	if err != nil {
		return err
	}
	defer features.Close()
	defer checkpoints.Close()

	hub := server.NewRunHub()
	orch := server.InitializeOrchestrator(cfg, features, checkpoints, hub)

	runMonitor := &monitor.RunMonitor{}
	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, opts.MaxStorageGB*1024*1024*1024)
	srv := server.NewServer(cfg, orch, runMonitor, hub, storageMonitor)
	srv.SetBackupHandler(export.NewHandler(features, features))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for run progress streaming")

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunStoreGC(features, stopGC, &wg)

	stopScheduler := make(chan bool)
	if opts.RunInterval > 0 {
		wg.Add(1)
		go server.RunScheduled(srv, opts.RunInterval, stopScheduler, &wg)
	}

	router := mux.NewRouter()
	srv.SetupRoutes(router, opts.Port)

	httpServer := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server listening on :%s (%d layers configured)", opts.Port, len(cfg.Layers))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Stop background goroutines before waiting on them.
	cancel()
	close(stopGC)
	if opts.RunInterval > 0 {
		close(stopScheduler)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("broadbandsync server exited cleanly")
	return nil
}
