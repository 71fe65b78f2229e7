// Command agent runs a single worker process against a coordinator: it
// registers, holds a session, and loops claim/start/complete|fail until
// terminated. Grounded on the teacher's cmd/main.go worker-only branch
// (RUN_WORKER with "keep process alive"), generalized from an in-process
// queue consumer to the agent.Agent event loop talking to a remote
// coordinator over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobmesh/platform/internal/agent"
	"github.com/jobmesh/platform/internal/platform/logger"
)

func main() {
	cfg := agent.ConfigFromEnv()
	cfg.CoordinatorBaseURL = envOr("COORDINATOR_URL", "http://localhost:8080")
	cfg.BotKey = os.Getenv("BOT_KEY")
	cfg.BootstrapSecret = os.Getenv("BOOTSTRAP_SECRET")
	cfg.ClientVersion = envOr("AGENT_CLIENT_VERSION", "1.0.0")
	cfg.Platform = envOr("AGENT_PLATFORM", "linux/amd64")
	cfg.ProcessingMode = envOr("AGENT_PROCESSING_MODE", "simulated")
	cfg.Capabilities = []string{"sum", "subtract", "multiply", "divide"}

	log, err := logger.New(envOr("LOG_MODE", "dev"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.BotKey == "" || cfg.BootstrapSecret == "" {
		log.Fatal("BOT_KEY and BOOTSTRAP_SECRET must both be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("agent received shutdown signal", "signal", sig.String())
		cancel()
	}()

	a := agent.NewAgent(cfg, log)
	if err := a.Run(ctx); err != nil {
		log.Fatal("agent exited with error", "error", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
