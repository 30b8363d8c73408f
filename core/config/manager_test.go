package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/storage"
)

func testDirs(t *testing.T) *storage.Dirs {
	t.Helper()
	return &storage.Dirs{
		Config: t.TempDir(),
		Data:   t.TempDir(),
	}
}

func clearShelfEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SHELF_ROOT", "SHELF_LOG_LEVEL",
		"SHELF_RANKER_W_LEX", "SHELF_RANKER_W_GRAPH", "SHELF_RANKER_W_RECENCY", "SHELF_RANKER_W_IMPORTANCE",
		"SHELF_SEARCH_K1", "SHELF_SEARCH_B",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Graph.Damping != 0.85 {
		t.Errorf("Graph.Damping: got %v, want 0.85", cfg.Graph.Damping)
	}
	if cfg.Search.K1 != 1.5 || cfg.Search.B != 0.75 {
		t.Errorf("Search: got k1=%v b=%v, want 1.5/0.75", cfg.Search.K1, cfg.Search.B)
	}
	if cfg.Ranker.HalfLife != 30*24*time.Hour {
		t.Errorf("Ranker.HalfLife: got %v, want 720h", cfg.Ranker.HalfLife)
	}

	w := cfg.Ranker.Weights
	if sum := w.Lexical + w.Graph + w.Recency + w.Importance; sum < 1-1e-9 || sum > 1+1e-9 {
		t.Errorf("default weights should sum to 1, got %v", sum)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager(testDirs(t), "", nil)

	cfg := m.Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level should be info, got %s", cfg.Log.Level)
	}
}

func TestManagerLoadFromFile(t *testing.T) {
	clearShelfEnv(t)
	dirs := testDirs(t)

	configContent := `
search:
  k1: 1.2
ranker:
  half_life: 168h
  weights:
    lexical: 0.5
    graph: 0.4
`
	if err := os.WriteFile(filepath.Join(dirs.Config, "config.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dirs, "", nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Search.K1 != 1.2 {
		t.Errorf("Search.K1: got %v, want 1.2", cfg.Search.K1)
	}
	if cfg.Search.B != 0.75 {
		t.Errorf("Search.B should keep default: got %v", cfg.Search.B)
	}
	if cfg.Ranker.HalfLife != 7*24*time.Hour {
		t.Errorf("Ranker.HalfLife: got %v, want 168h", cfg.Ranker.HalfLife)
	}
	if cfg.Ranker.Weights.Graph != 0.4 || cfg.Ranker.Weights.Recency != 0.05 {
		t.Errorf("weights not layered: %+v", cfg.Ranker.Weights)
	}
}

func TestManagerExplicitConfigOverridesUser(t *testing.T) {
	clearShelfEnv(t)
	dirs := testDirs(t)

	if err := os.WriteFile(filepath.Join(dirs.Config, "config.yaml"), []byte("log:\n  level: warn\nstore:\n  shard_prefix: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(t.TempDir(), "shelf.yaml")
	if err := os.WriteFile(explicit, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dirs, explicit, nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s, want debug", cfg.Log.Level)
	}
	if cfg.Store.ShardPrefix != 3 {
		t.Errorf("Store.ShardPrefix: got %d, want 3 from user config", cfg.Store.ShardPrefix)
	}
}

func TestManagerExplicitConfigMissing(t *testing.T) {
	clearShelfEnv(t)

	m := NewManager(testDirs(t), filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err := m.Load(); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestManagerEnvironment(t *testing.T) {
	clearShelfEnv(t)
	t.Setenv("SHELF_ROOT", "/tmp/shelf-env")
	t.Setenv("SHELF_LOG_LEVEL", "DEBUG")
	t.Setenv("SHELF_RANKER_W_LEX", "0.7")
	t.Setenv("SHELF_RANKER_W_GRAPH", "0.2")
	t.Setenv("SHELF_SEARCH_B", "0.5")

	m := NewManager(testDirs(t), "", nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Store.Root != "/tmp/shelf-env" {
		t.Errorf("Store.Root: got %s", cfg.Store.Root)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s, want debug", cfg.Log.Level)
	}
	if cfg.Ranker.Weights.Lexical != 0.7 || cfg.Ranker.Weights.Graph != 0.2 {
		t.Errorf("weights: got %+v", cfg.Ranker.Weights)
	}
	if cfg.Search.B != 0.5 {
		t.Errorf("Search.B: got %v, want 0.5", cfg.Search.B)
	}
}

func TestManagerEnvironmentMalformed(t *testing.T) {
	clearShelfEnv(t)
	t.Setenv("SHELF_SEARCH_K1", "fast")

	m := NewManager(testDirs(t), "", nil)
	err := m.Load()
	if !errors.Is(err, liberrors.ErrInvalidConfiguration) {
		t.Fatalf("expected InvalidConfiguration, got %v", err)
	}
	if m.Get().Search.K1 != 1.5 {
		t.Error("failed load must keep the previous config")
	}
}

func TestManagerInvalidConfigRejected(t *testing.T) {
	clearShelfEnv(t)
	dirs := testDirs(t)

	if err := os.WriteFile(filepath.Join(dirs.Config, "config.yaml"), []byte("graph:\n  damping: 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dirs, "", nil)
	if err := m.Load(); !errors.Is(err, liberrors.ErrInvalidConfiguration) {
		t.Errorf("expected InvalidConfiguration, got %v", err)
	}
}

func TestManagerOverride(t *testing.T) {
	clearShelfEnv(t)
	t.Setenv("SHELF_ROOT", "/from/env")

	m := NewManager(testDirs(t), "", nil)
	if err := m.Override(&Config{Store: StoreConfig{Root: "/from/flag"}}); err != nil {
		t.Fatalf("Override failed: %v", err)
	}

	if got := m.Get().Store.Root; got != "/from/flag" {
		t.Errorf("Store.Root: got %s, want /from/flag", got)
	}

	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := m.Get().Store.Root; got != "/from/flag" {
		t.Errorf("override should survive reload, got %s", got)
	}
}

func TestManagerOnChange(t *testing.T) {
	clearShelfEnv(t)
	m := NewManager(testDirs(t), "", nil)

	called := false
	m.OnChange(func(cfg *Config) {
		called = true
	})

	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}

	if !called {
		t.Error("OnChange callback was not called")
	}
}

func TestManagerWatch(t *testing.T) {
	clearShelfEnv(t)
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(testDirs(t), path, nil)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 8)
	m.OnChange(func(cfg *Config) { changed <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Log.Level == "error" {
				return
			}
		case <-deadline:
			t.Fatal("config was not reloaded after file change")
		}
	}
}
