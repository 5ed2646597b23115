package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"attic/internal/api"
	"attic/internal/backfill"
	"attic/internal/blob"
	"attic/internal/branch"
	"attic/internal/capability"
	"attic/internal/commit"
	"attic/internal/config"
	"attic/internal/fork"
	"attic/internal/logging"
	"attic/internal/middleware"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Initialize BadgerDB
	db, err := badger.Open(badger.DefaultOptions(cfg.Database.Path))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	// Initialize blob store
	blobs, err := blob.New(db, blob.Options{
		Root: filepath.Join(cfg.Database.Path, "objects"),
	})
	if err != nil {
		logger.Fatal("failed to initialize blob store", zap.Error(err))
	}

	// Initialize capability issuer with rotatable signing key
	keys, err := capability.NewFileKey(cfg.Capability.KeyPath, logger.Logger)
	if err != nil {
		logger.Fatal("failed to load signing key", zap.Error(err))
	}
	defer keys.Close()
	caps := capability.NewIssuer(keys, cfg.TokenTTL())

	// Initialize stores
	branches := branch.NewStore(db)
	commits := commit.NewStore(db, branches)
	forker := fork.NewEngine(branches)

	// Start depth backfill job
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Backfill.IntervalSeconds > 0 {
		job := backfill.NewJob(commits, logger.Logger)
		go job.Run(ctx, time.Duration(cfg.Backfill.IntervalSeconds)*time.Second)
	}

	// Permission evaluation is owned by the surrounding platform; this
	// service trusts the boundary and wires a pass-through oracle.
	oracle := api.AllowAll{}

	// Initialize handlers
	blobHandler := api.NewBlobHandler(blobs, caps, oracle)
	commitHandler := api.NewCommitHandler(commits, caps, oracle)
	branchHandler := api.NewBranchHandler(branches, oracle)
	forkHandler := api.NewForkHandler(forker, oracle)

	// Set up router
	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("/health", healthCheck)

	// Blob endpoints
	mux.HandleFunc("POST /api/blobs", blobHandler.Put)
	mux.HandleFunc("GET /api/blobs/{hash}", blobHandler.Get)

	// Commit endpoints
	mux.HandleFunc("POST /api/projects/{id}/commits", commitHandler.Create)
	mux.HandleFunc("GET /api/projects/{id}/commits/{commit_id}", commitHandler.Get)
	mux.HandleFunc("GET /api/projects/{id}/history", commitHandler.History)

	// Branch endpoints
	mux.HandleFunc("GET /api/projects/{id}/branches", branchHandler.List)
	mux.HandleFunc("GET /api/projects/{id}/branches/{name}", branchHandler.Get)

	// Fork endpoint
	mux.HandleFunc("POST /api/projects/{id}/fork", forkHandler.Fork)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recover(logger),
	)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}
