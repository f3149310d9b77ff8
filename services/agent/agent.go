// Package agent is the polling side of the coordinator protocol: it sends
// heartbeats, pulls assigned tasks, syncs plugins by content hash and reports
// execution results.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/services/gate"

	"github.com/raulk/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Server            string
	ClientID          string
	Hostname          string
	Platform          string
	Version           string
	Capabilities      []string
	PluginDir         string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ExecTimeout       time.Duration
	RequestTimeout    time.Duration
	Concurrency       int
}

// Coordinator is the coordinator API as seen by the agent.
type Coordinator interface {
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) (*api.HeartbeatResponse, error)
	AssignedTasks(ctx context.Context) ([]api.AssignedTask, error)
	Claim(ctx context.Context, taskID string) (bool, error)
	Report(ctx context.Context, req api.ReportRequest) error
	Manifest(ctx context.Context) (*api.PluginManifest, error)
}

type Agent struct {
	cfg    Config
	coord  Coordinator
	cache  *PluginCache
	runner Runner
	clock  clock.Clock
	// local second check; the coordinator's gate is authoritative
	fired *gate.MemoryGate
}

func New(cfg Config, coord Coordinator, cache *PluginCache, runner Runner, clk clock.Clock) *Agent {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Agent{
		cfg:    cfg,
		coord:  coord,
		cache:  cache,
		runner: runner,
		clock:  clk,
		fired:  gate.NewMemoryGate(),
	}
}

// Run sends heartbeats and polls for tasks until ctx is done. The two loops
// are independent so slow plugin downloads never delay heartbeats.
func (a *Agent) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)
	g.Go(func() error {
		return a.loop(ctx, a.cfg.HeartbeatInterval, a.heartbeat)
	})
	g.Go(func() error {
		return a.loop(ctx, a.cfg.PollInterval, a.Poll)
	})

	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

func (a *Agent) loop(ctx context.Context, every time.Duration, fn func(context.Context) error) error {
	ticker := a.clock.Ticker(every)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			zap.L().Warn("[Agent] cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) error {
	now := a.clock.Now().UTC()
	resp, err := a.coord.Heartbeat(ctx, api.HeartbeatRequest{
		ClientID:     a.cfg.ClientID,
		Hostname:     a.cfg.Hostname,
		Platform:     a.cfg.Platform,
		Version:      a.cfg.Version,
		Capabilities: a.cfg.Capabilities,
		Timestamp:    &now,
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	zap.L().Debug("[Agent] heartbeat", zap.String("liveness", resp.Liveness))
	return nil
}

// Poll runs one task cycle: list assigned tasks, then claim, sync and run
// each one.
func (a *Agent) Poll(ctx context.Context) error {
	tasks, err := a.coord.AssignedTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	manifest, err := a.coord.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("plugin manifest: %w", err)
	}
	entries := make(map[string]api.PluginEntry, len(manifest.Plugins))
	for _, p := range manifest.Plugins {
		entries[p.Name] = p
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			if err := a.execute(gctx, t, entries); err != nil {
				zap.L().Warn("[Agent] task failed to run",
					zap.String("task_id", t.ID), zap.String("plugin", t.Plugin), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Agent) execute(ctx context.Context, t api.AssignedTask, entries map[string]api.PluginEntry) error {
	now := a.clock.Now().UTC()
	interval, _ := time.ParseDuration(t.Interval)
	if t.Kind == "Recurring" && interval > 0 {
		due, _ := a.fired.ShouldFire(ctx, t.ID, a.cfg.ClientID, interval, now)
		if !due {
			return nil
		}
	}

	granted, err := a.coord.Claim(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !granted {
		zap.L().Debug("[Agent] claim refused", zap.String("task_id", t.ID))
		return nil
	}
	if interval > 0 {
		_ = a.fired.RecordFire(ctx, t.ID, a.cfg.ClientID, interval, now)
	}

	attempt := now.UnixMilli()
	entry, ok := entries[t.Plugin]
	if !ok {
		return a.report(ctx, t, attempt, failure(fmt.Sprintf("plugin %s is not published", t.Plugin)))
	}

	path, err := a.cache.Ensure(ctx, entry)
	if err != nil {
		var ie *api.IntegrityError
		if errors.As(err, &ie) {
			zap.L().Error("[Agent] plugin integrity check failed", zap.String("plugin", t.Plugin), zap.Error(err))
		}
		return a.report(ctx, t, attempt, failure(err.Error()))
	}

	if err := a.report(ctx, t, attempt, Outcome{Status: "running"}); err != nil {
		return err
	}
	out := a.runner.Run(ctx, path, t)
	zap.L().Info("[Agent] task finished",
		zap.String("task_id", t.ID),
		zap.String("plugin", t.Plugin),
		zap.String("status", out.Status),
	)
	return a.report(ctx, t, attempt, out)
}

func (a *Agent) report(ctx context.Context, t api.AssignedTask, attempt int64, out Outcome) error {
	result := out.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	return a.coord.Report(ctx, api.ReportRequest{
		TaskID:   t.ID,
		ClientID: a.cfg.ClientID,
		Status:   out.Status,
		Result:   result,
		Attempt:  attempt,
		Cycle:    &t.Cycle,
	})
}
