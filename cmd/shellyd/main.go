// Command shellyd runs the agent daemon: a UDP transport in front of a
// model/tool loop with a persistent journal.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/XuanLee-HEALER/shelly"
	"github.com/XuanLee-HEALER/shelly/comm"
	"github.com/XuanLee-HEALER/shelly/internal/config"
	"github.com/XuanLee-HEALER/shelly/observer"
	"github.com/XuanLee-HEALER/shelly/provider/anthropic"
	"github.com/XuanLee-HEALER/shelly/store/postgres"
	"github.com/XuanLee-HEALER/shelly/store/sqlite"
	"github.com/XuanLee-HEALER/shelly/tools/bash"
)

func main() {
	// 1. Load config (.env first, then file + env overrides)
	_ = godotenv.Load()
	cfg := config.Load("")

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Observer (opt-in via config)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			logger.Error("observer init failed", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		logger.Info("OTEL observability enabled")
	}

	// 3. Inference provider: anthropic -> observer -> retry
	var llm shelly.Provider = anthropic.New(cfg.Inference.Endpoint, cfg.Inference.APIKey,
		anthropic.WithTimeout(time.Duration(cfg.Inference.TimeoutSecs)*time.Second))
	if inst != nil {
		llm = observer.WrapProvider(llm, cfg.Inference.Model, inst)
	}
	llm = shelly.WithRetry(llm,
		shelly.RetryMax(cfg.Inference.MaxRetries),
		shelly.RetryBaseDelay(time.Duration(cfg.Inference.RetryDelayMS)*time.Millisecond),
		shelly.RetryLogger(logger))

	// 4. Tools
	registry := shelly.NewRegistry(buildBashTool(cfg, inst, logger))

	// 5. Journal, with an archive when storage is configured
	journalOpts := []shelly.JournalOption{
		shelly.JournalIdentity(shelly.DefaultIdentity),
		shelly.JournalLogger(logger),
	}
	switch {
	case cfg.Journal.DBDSN != "":
		pool, err := pgxpool.New(ctx, cfg.Journal.DBDSN)
		if err != nil {
			logger.Error("postgres pool failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		archive := postgres.New(pool)
		if err := archive.Init(ctx); err != nil {
			logger.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		journalOpts = append(journalOpts, shelly.JournalArchive(archive))
		logger.Info("journal archive on postgres")
	case cfg.Journal.DBPath != "":
		st := sqlite.New(cfg.Journal.DBPath, sqlite.WithLogger(logger))
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			logger.Error("sqlite init failed", "path", cfg.Journal.DBPath, "error", err)
			os.Exit(1)
		}
		journalOpts = append(journalOpts, shelly.JournalArchive(st))
		logger.Info("journal archive on sqlite", "path", cfg.Journal.DBPath)
	}
	journal := shelly.NewJournal(journalOpts...)

	// 6. Agent
	agent := shelly.NewAgent(llm, registry, journal, agentConfig(cfg), shelly.AgentLogger(logger))

	// 7. Transport
	handleTimeout := time.Duration(cfg.Agent.HandleTimeoutSecs) * time.Second
	server, err := comm.NewServer(cfg.Comm.ListenAddr,
		comm.ServerLogger(logger),
		comm.ServerMaxPayload(cfg.Comm.MaxPayload),
		comm.ServerDedupCapacity(cfg.Comm.DedupCap),
		comm.ServerDedupTTL(time.Duration(cfg.Comm.DedupTTLSecs)*time.Second),
		comm.ServerQueueSize(cfg.Comm.QueueSize),
		comm.ServerReplyTimeout(handleTimeout))
	if err != nil {
		logger.Error("transport bind failed", "addr", cfg.Comm.ListenAddr, "error", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	// 8. Init phase: the agent explores before serving
	if err := agent.RunInit(ctx); err != nil {
		logger.Error("init phase failed", "error", err)
		server.Close()
		os.Exit(1)
	}

	// 9. Serve until a signal arrives
	logger.Info("daemon ready", "addr", server.Addr())
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case req := <-server.Requests():
			go func(req *comm.Request) {
				start := time.Now()
				reply := agent.HandleRequest(ctx, req.Content)
				if inst != nil {
					inst.RecordRequest(context.WithoutCancel(ctx), reply.IsError,
						float64(time.Since(start).Milliseconds()))
				}
				req.Reply <- comm.ResponsePayload{Content: reply.Content, IsError: reply.IsError}
			}(req)
		}
	}

	// 10. Shutdown: one final model turn, then stop the transport
	logger.Info("shutting down")
	agent.Shutdown(context.Background())
	server.Close()
	if err := <-serverErr; err != nil {
		logger.Error("transport stopped with error", "error", err)
	}
	logger.Info("daemon stopped")
}

// buildBashTool applies description overrides from the tools file and
// observer wrapping when enabled.
func buildBashTool(cfg config.Config, inst *observer.Instruments, logger *slog.Logger) shelly.Tool {
	opts := []bash.Option{bash.WithLogger(logger)}
	if cfg.Agent.ToolsFile != "" {
		overrides, err := shelly.LoadDescriptions(cfg.Agent.ToolsFile)
		if err != nil {
			logger.Warn("tool description overrides not loaded",
				"path", cfg.Agent.ToolsFile, "error", err)
		}
		if d, ok := overrides[bash.Name]; ok {
			opts = append(opts, bash.WithDescription(d))
		}
	}
	var t shelly.Tool = bash.New(opts...)
	if inst != nil {
		t = observer.WrapTool(t, inst)
	}
	return t
}

// agentConfig maps the loaded configuration onto the agent's knobs.
func agentConfig(cfg config.Config) shelly.Config {
	c := shelly.DefaultConfig()
	c.Model = cfg.Inference.Model
	c.MaxTokens = cfg.Inference.MaxTokens
	c.Temperature = cfg.Inference.Temperature
	c.TopP = cfg.Inference.TopP
	c.TopK = cfg.Inference.TopK
	c.MaxToolRounds = cfg.Agent.MaxToolRounds
	c.StrictRounds = cfg.Agent.StrictRounds
	c.InitTimeout = time.Duration(cfg.Agent.InitTimeoutSecs) * time.Second
	c.ShutdownTimeout = time.Duration(cfg.Agent.ShutdownTimeoutSecs) * time.Second
	c.HandleTimeout = time.Duration(cfg.Agent.HandleTimeoutSecs) * time.Second
	return c
}

// newLogger builds the daemon logger: text or JSON at the configured
// level, rotated via lumberjack when a file is set.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
