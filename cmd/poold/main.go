// Command poold runs the preallocation executor pool controller: it
// loads the preallocate configuration, provisions (or reconnects) every
// configured pool, serves the status WebSocket feed and a small admin
// HTTP surface, and keeps heartbeat files fresh until it receives a
// shutdown signal.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/config"
	"github.com/bpipe-run/preallocpool/internal/heartbeat"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/registry"
	"github.com/bpipe-run/preallocpool/internal/status"
)

// poolListEntry is one row of the GET /pools response, the information
// poolctl's "list" command needs without opening the status websocket.
type poolListEntry struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
	Idle  int    `json:"idle"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("poold exiting", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	if err := config.EnsureDirs(); err != nil {
		return err
	}

	cfgs, err := config.Load()
	if err != nil {
		return err
	}
	logger.Info("loaded preallocate configuration", zap.Int("pools", len(cfgs)))

	renderer := pipeline.NewTemplateRenderer()
	factory := backend.DefaultFactory{Renderer: renderer}

	reg := registry.New(config.BaseDir(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := heartbeat.NewTicker(0, logger)
	ticker.Start(ctx)
	defer ticker.Stop()

	if err := reg.InitPools(ctx, factory, renderer, ticker, cfgs); err != nil {
		return err
	}

	hub := status.NewHub(reg, logger)
	go hub.Run()
	defer hub.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.ServeWS)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /pools", func(w http.ResponseWriter, r *http.Request) {
		names := reg.PoolNames()
		entries := make([]poolListEntry, 0, len(names))
		for _, name := range names {
			ep, ok := reg.Pool(name)
			if !ok {
				continue
			}
			total, idle := ep.Size()
			entries = append(entries, poolListEntry{Name: name, Total: total, Idle: idle})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})
	mux.HandleFunc("POST /pools/{name}/stop", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := reg.ShutdownPool(r.Context(), name); err != nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	})

	srv := &http.Server{
		Addr:         "127.0.0.1:8099",
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disabled for the long-lived status websocket
	}

	go func() {
		logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return reg.ShutdownAll(shutdownCtx)
}
