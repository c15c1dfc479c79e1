// Package helpers provides shared fixtures for engine tests: a fast
// in-memory state store, a fully wired test engine, and a miniredis-backed
// state transition log matching the production stack.
package helpers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stagehand/internal/config"
	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/engine"
	"github.com/kode4food/stagehand/pkg/statelog"
)

type (
	// TestEnv bundles a started engine with its state store
	TestEnv struct {
		Engine *engine.Engine
		States *MemoryState
		Config *config.Config
	}

	// MemoryState is an in-memory StateStore for tests that do not need
	// transition history
	MemoryState struct {
		mu   sync.RWMutex
		data api.State
	}
)

// NewMemoryState creates an empty in-memory state store
func NewMemoryState() *MemoryState {
	return &MemoryState{data: api.State{}}
}

// Set stores a key
func (m *MemoryState) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete removes a key
func (m *MemoryState) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Snapshot returns a detached copy of the state
func (m *MemoryState) Snapshot(_ context.Context) (api.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Clone(), nil
}

// NewTestConfig returns a configuration tuned for fast tests
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.DefaultStepTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Retry.InitBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 10 * time.Millisecond
	cfg.Retry.BackoffType = config.BackoffTypeFixed
	cfg.Environment = "test"
	cfg.LogLevel = slog.LevelWarn
	return cfg
}

// NewTestEngine creates a started engine over an in-memory state store. The
// engine is stopped when the test finishes
func NewTestEngine(t *testing.T) *TestEnv {
	t.Helper()
	return NewTestEngineWith(t, NewTestConfig())
}

// NewTestEngineWith creates a started engine from the provided configuration
func NewTestEngineWith(t *testing.T, cfg *config.Config) *TestEnv {
	t.Helper()

	states := NewMemoryState()

	eng, err := engine.New(cfg, states)
	require.NoError(t, err)

	eng.Start()
	t.Cleanup(func() {
		_ = eng.Stop()
	})

	return &TestEnv{
		Engine: eng,
		States: states,
		Config: cfg,
	}
}

// NewStateLog creates a state transition log over a miniredis backend,
// matching the production timebox wiring
func NewStateLog(t *testing.T, name string) (*statelog.Log, *timebox.Timebox) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tb.Close()
	})

	storeConfig := config.NewDefaultConfig().StateStore
	storeConfig.Addr = server.Addr()
	storeConfig.Prefix = "test-state"

	store, err := tb.NewStore(storeConfig)
	require.NoError(t, err)

	return statelog.NewLog(store, name), tb
}
