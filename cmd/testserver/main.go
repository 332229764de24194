// testserver starts a drafter API server with an in-memory store and a
// throwaway workspace, for exercising the API from external clients.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/drafter/internal/api"
	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/engine"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("DRAFTER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	workspace, err := os.MkdirTemp("", "drafter-testserver-")
	if err != nil {
		log.Fatalf("create workspace: %v", err)
	}
	defer os.RemoveAll(workspace)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	prim, err := deadline.Detect(os.Getenv("DRAFTER_DEADLINE_STRATEGY"), logger)
	if err != nil {
		log.Fatalf("select deadline strategy: %v", err)
	}

	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationProcess, sandbox.NewProcessRunner(sandbox.ProcessConfig{
		Runtimes: sandbox.DefaultRuntimes("drafter-worker"),
	}, logger))
	if prim.Strategy() == deadline.StrategyInterrupt {
		reg.Register(model.IsolationThread, sandbox.NewThreadRunner(sandbox.ThreadConfig{}, logger))
	}

	eng := engine.NewEngine(db, reg, prim, nil, logger)
	srv := api.NewServer(api.Options{
		Addr:            addr,
		WorkspaceDir:    workspace,
		DefaultTimeoutS: 10,
		MaxTimeoutS:     60,
	}, db, eng, logger)

	logger.Info("testserver: starting", "addr", addr, "workspace", workspace, "strategy", prim.Strategy())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
