// Command memkeep runs the agent runtime and its HTTP facade.
//
// Usage:
//
//	memkeep serve
//	memkeep version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/memkeep/memkeep/pkg/agent"
	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/embedder"
	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/logger"
	"github.com/memkeep/memkeep/pkg/server"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the agent runtime and HTTP API."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("memkeep version %s\n", version)
	return nil
}

// ServeCmd starts the runtime.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides SERVER_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	st, err := store.NewSQLStoreFromConfig(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	emb, err := embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey,
		Model:     cfg.Embedder.Model,
		Dimension: cfg.Embedder.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to build embedder: %w", err)
	}

	vectors, err := vector.NewProvider(&cfg.Vector, emb)
	if err != nil {
		return fmt.Errorf("failed to build vector provider: %w", err)
	}
	defer vectors.Close()

	counter, err := tokenizer.NewTiktokenCounter(cfg.Memory.TokenizerModel)
	if err != nil {
		return fmt.Errorf("failed to build tokenizer: %w", err)
	}

	chain, err := llms.NewChain(cfg.LLM.Backends)
	if err != nil {
		return fmt.Errorf("failed to build llm chain: %w", err)
	}
	defer chain.Close()

	service := agent.NewService(st, vectors, counter, chain, cfg)
	srv := server.New(service, chain, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return runHeartbeats(gctx, service, st, cfg)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runHeartbeats wakes agents that have been without a user for a full
// heartbeat interval, one offline run each.
func runHeartbeats(ctx context.Context, service *agent.Service, st store.Store, cfg *config.Config) error {
	interval := time.Duration(cfg.Memory.HeartbeatIntervalMin) * time.Minute
	if interval <= 0 {
		slog.Info("timed heartbeats disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		agents, err := st.ListAgents(ctx)
		if err != nil {
			slog.Warn("failed to list agents for heartbeat", "error", err)
			continue
		}

		for _, a := range agents {
			if a.LastUserExitAt.IsZero() || time.Since(a.LastUserExitAt) < interval {
				continue
			}
			slog.Info("running timed heartbeat", "agent", a.ID)
			if err := service.RunHeartbeat(ctx, a.ID); err != nil && !errors.Is(err, agent.ErrAgentBusy) {
				slog.Warn("timed heartbeat failed", "agent", a.ID, "error", err)
			}
		}
	}
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("memkeep"),
		kong.Description("Long-lived conversational agents with hierarchical memory."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
