package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/moralespanitz/compass-project/pkg/api"
	"github.com/moralespanitz/compass-project/pkg/config"
	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	defer logging.Close()
	logger := logging.WithComponent("server")

	ctx := context.Background()
	logger.Info("opening database", "driver", cfg.DBDriver, "dsn", cfg.DBDSN)
	db, err := storage.Open(ctx, cfg.Dialect(), cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	store, err := storage.NewStore(db, cfg.Dialect(), cfg.CacheSize)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	if err := store.EnsureMetaTables(ctx); err != nil {
		log.Fatalf("failed to ensure meta tables: %v", err)
	}

	r := mux.NewRouter()
	api.RegisterRoutes(r, store, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("compass server listening", "addr", "http://localhost:"+cfg.Port,
		"policy", cfg.Policy, "depth", cfg.Sketch.Depth, "width", cfg.Sketch.Width)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	fmt.Println("server stopped")
}
