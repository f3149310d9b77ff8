package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"octopus-controlplane/pkg/logger"
	"octopus-controlplane/services/agent"

	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "octopus-agent",
		Usage:   "Poll the coordinator for tasks and run them with local plugins",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server",
				Usage:    "coordinator base URL",
				EnvVars:  []string{"OCTOPUS_SERVER"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "client-id",
				Usage:   "identity reported to the coordinator (defaults to the hostname)",
				EnvVars: []string{"OCTOPUS_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "hostname",
				EnvVars: []string{"OCTOPUS_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "platform",
				Value:   runtime.GOOS + "/" + runtime.GOARCH,
				EnvVars: []string{"OCTOPUS_PLATFORM"},
			},
			&cli.StringSliceFlag{
				Name:    "capabilities",
				Usage:   "capability labels matched by task selectors",
				EnvVars: []string{"OCTOPUS_CAPABILITIES"},
			},
			&cli.StringFlag{
				Name:    "plugins-dir",
				Value:   "plugins",
				EnvVars: []string{"OCTOPUS_PLUGINS_DIR"},
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				Value:   30 * time.Second,
				EnvVars: []string{"OCTOPUS_HEARTBEAT_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Value:   15 * time.Second,
				EnvVars: []string{"OCTOPUS_POLL_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "exec-timeout",
				Value:   5 * time.Minute,
				EnvVars: []string{"OCTOPUS_EXEC_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Value:   10 * time.Second,
				EnvVars: []string{"OCTOPUS_REQUEST_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Value:   2,
				EnvVars: []string{"OCTOPUS_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "env",
				Value:   "production",
				EnvVars: []string{"APP_ENV"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	log := logger.Build(cctx.String("env"), cctx.String("log-level"))
	zap.ReplaceGlobals(log)
	defer func() { _ = log.Sync() }()

	host := cctx.String("hostname")
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		host = h
	}
	clientID := cctx.String("client-id")
	if clientID == "" {
		clientID = host
	}

	cfg := agent.Config{
		Server:            cctx.String("server"),
		ClientID:          clientID,
		Hostname:          host,
		Platform:          cctx.String("platform"),
		Version:           version,
		Capabilities:      cctx.StringSlice("capabilities"),
		PluginDir:         cctx.String("plugins-dir"),
		HeartbeatInterval: cctx.Duration("heartbeat-interval"),
		PollInterval:      cctx.Duration("poll-interval"),
		ExecTimeout:       cctx.Duration("exec-timeout"),
		RequestTimeout:    cctx.Duration("request-timeout"),
		Concurrency:       cctx.Int("concurrency"),
	}

	client := agent.NewClient(cfg.Server, cfg.ClientID, cfg.RequestTimeout)
	cache, err := agent.NewPluginCache(cfg.PluginDir, client)
	if err != nil {
		return fmt.Errorf("open plugin cache: %w", err)
	}
	runner := agent.ExecRunner{Timeout: cfg.ExecTimeout}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("[Agent] starting",
		zap.String("client_id", cfg.ClientID),
		zap.String("server", cfg.Server),
		zap.Strings("capabilities", cfg.Capabilities),
	)
	return agent.New(cfg, client, cache, runner, clock.New()).Run(ctx)
}
