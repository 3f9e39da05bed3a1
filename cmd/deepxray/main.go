package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/MGASALUCAS/deepxray/config"
	"github.com/MGASALUCAS/deepxray/internal/analysis"
	"github.com/MGASALUCAS/deepxray/internal/model"
	"github.com/MGASALUCAS/deepxray/internal/server"
	"github.com/MGASALUCAS/deepxray/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	if cfg.OnnxLibPath != "" {
		model.SetLibraryPath(cfg.OnnxLibPath)
	}
	// A missing runtime is not fatal: the analysis service degrades to
	// "System unavailable" results instead of refusing to start.
	if err := model.EnsureRuntime(); err != nil {
		log.Printf("[AI][WARN] %v", err)
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		log.Printf("[AI][WARN] Model file not found: %s", cfg.ModelPath)
	}

	analyzer := analysis.NewService(cfg.ModelPath, model.NewLoader())
	srv := server.New(st, analyzer, cfg.UploadDir)

	httpServer := &http.Server{
		Handler:      srv.Router(),
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	log.Printf("Starting server on %s", httpServer.Addr)
	log.Fatal(httpServer.ListenAndServe())
}
