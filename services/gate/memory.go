package gate

import (
	"context"
	"sync"
	"time"
)

type pair struct {
	taskID   string
	clientID string
}

// MemoryGate keeps firings in process memory. Agents use it as a local
// second check; the coordinator uses it only in tests and single-node dev.
type MemoryGate struct {
	mu    sync.Mutex
	fired map[pair]time.Time
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{fired: make(map[pair]time.Time)}
}

func (g *MemoryGate) ShouldFire(_ context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.fired[pair{taskID, clientID}]
	return !ok || due(last, now, interval), nil
}

func (g *MemoryGate) RecordFire(_ context.Context, taskID, clientID string, _ time.Duration, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.fired[pair{taskID, clientID}] = now
	return nil
}

func (g *MemoryGate) Acquire(_ context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pair{taskID, clientID}
	if last, ok := g.fired[key]; ok && !due(last, now, interval) {
		return false, nil
	}
	g.fired[key] = now
	return true, nil
}

// Forget drops every firing recorded for taskID.
func (g *MemoryGate) Forget(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k := range g.fired {
		if k.taskID == taskID {
			delete(g.fired, k)
		}
	}
}
