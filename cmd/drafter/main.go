package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/drafter/internal/api"
	"github.com/seantiz/drafter/internal/artifact"
	"github.com/seantiz/drafter/internal/config"
	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/engine"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	// Platform detection happens once; the primitive is fixed for the process.
	prim, err := deadline.Detect(cfg.Strategy, logger.With("component", "deadline"))
	if err != nil {
		log.Fatalf("select deadline strategy: %v", err)
	}

	logger.Info("drafter: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workspace_dir", cfg.WorkspaceDir,
		"strategy", prim.Strategy(),
	)

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		log.Fatalf("create workspace: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	procCfg, err := cfg.ProcessConfig()
	if err != nil {
		log.Fatalf("runtime table: %v", err)
	}

	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationProcess, sandbox.NewProcessRunner(procCfg, logger.With("component", "process-runner")))
	// Goroutine workers cannot be killed, so they are only offered when the
	// deadline interrupts in-band.
	if prim.Strategy() == deadline.StrategyInterrupt {
		reg.Register(model.IsolationThread, sandbox.NewThreadRunner(cfg.ThreadConfig(), logger.With("component", "thread-runner")))
	}

	var sink artifact.Sink
	if cfg.S3.Enabled() {
		ms, err := artifact.NewMinIOSink(cfg.S3)
		if err != nil {
			log.Fatalf("artifact sink: %v", err)
		}
		if err := ms.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("artifact bucket: %v", err)
		}
		sink = ms
		logger.Info("publishing artifacts to object storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	}

	eng := engine.NewEngine(db, reg, prim, sink, logger.With("component", "engine"))
	srv := api.NewServer(api.Options{
		Addr:            cfg.ListenAddr,
		WorkspaceDir:    cfg.WorkspaceDir,
		DefaultTimeoutS: cfg.DefaultTimeoutS,
		MaxTimeoutS:     cfg.MaxTimeoutS,
		CORSOrigins:     cfg.CORSOrigins,
	}, db, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
