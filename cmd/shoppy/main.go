package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/germanamz/shoppy/pkg/engine"
	"github.com/germanamz/shoppy/pkg/httpapi"
)

const defaultAddr = ":8000"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shoppy [flags]\n\nStarts the HTTP API by default. Use -task for a single run or -mcp to\nserve the shopping tools over MCP stdio.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr in config)")
	task := flag.String("task", "", "run a single task and exit")
	agentName := flag.String("agent", "", "agent to run with (default: default_agent from config)")
	mcpMode := flag.Bool("mcp", false, "serve the shopping toolbox over MCP stdio")
	verbose := flag.Bool("verbose", false, "debug logging and tool arguments in task output")
	flag.Parse()

	setupLogging(*verbose, *task != "" || *mcpMode)

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *addr, *task, *agentName, *mcpMode, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide logger. Logs go to stderr so MCP
// stdio and task output own stdout.
func setupLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(configPath, addr, task, agentName string, mcpMode, verbose bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if mcpMode {
		return runMCP(ctx, configPath)
	}

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if task != "" {
		return runTask(ctx, eng, agentName, task, verbose)
	}

	return serve(ctx, eng)
}

// serve runs the HTTP facade until the context is cancelled, then shuts it
// down gracefully.
func serve(ctx context.Context, eng *engine.Engine) error {
	srv := httpapi.New(eng, eng.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return <-errCh
}

// loadDotEnv loads environment variables from path. Missing files are
// ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
