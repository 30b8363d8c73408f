// Package config loads shelf configuration from layered YAML files and
// SHELF_* environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/storage"
)

const configFileName = "config.yaml"

type Manager struct {
	current      atomic.Pointer[Config]
	dirs         *storage.Dirs
	explicitPath string
	logger       *slog.Logger
	overrides    *Config
	watchers     []func(*Config)
	watcherMu    sync.RWMutex
}

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Catalog CatalogConfig `yaml:"catalog"`
	Graph   GraphConfig   `yaml:"graph"`
	Search  SearchConfig  `yaml:"search"`
	Ranker  RankerConfig  `yaml:"ranker"`
	Log     LogConfig     `yaml:"log"`
}

type StoreConfig struct {
	// Root is the library directory. Empty means the XDG data dir.
	Root          string `yaml:"root"`
	ShardPrefix   int    `yaml:"shard_prefix"`
	CacheMaxBytes int64  `yaml:"cache_max_bytes"`
}

type CatalogConfig struct {
	CacheEntries int `yaml:"cache_entries"`
}

type GraphConfig struct {
	Damping        float64 `yaml:"damping"`
	MaxIterations  int     `yaml:"max_iterations"`
	Epsilon        float64 `yaml:"epsilon"`
	HITSIterations int     `yaml:"hits_iterations"`
}

type SearchConfig struct {
	K1            float64 `yaml:"k1"`
	B             float64 `yaml:"b"`
	TitleWeight   float64 `yaml:"title_weight"`
	SummaryWeight float64 `yaml:"summary_weight"`
	BodyWeight    float64 `yaml:"body_weight"`
}

type RankerConfig struct {
	Weights             WeightsConfig `yaml:"weights"`
	HalfLife            time.Duration `yaml:"half_life"`
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
}

type WeightsConfig struct {
	Lexical    float64 `yaml:"lexical"`
	Graph      float64 `yaml:"graph"`
	Recency    float64 `yaml:"recency"`
	Importance float64 `yaml:"importance"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// NewManager returns a manager holding DefaultConfig. explicitPath, when set,
// is layered over the user config and must exist at Load time.
func NewManager(dirs *storage.Dirs, explicitPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dirs:         dirs,
		explicitPath: explicitPath,
		logger:       logger,
	}
	m.current.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			ShardPrefix:   2,
			CacheMaxBytes: 64 << 20,
		},
		Catalog: CatalogConfig{
			CacheEntries: 4096,
		},
		Graph: GraphConfig{
			Damping:        0.85,
			MaxIterations:  100,
			Epsilon:        1e-9,
			HITSIterations: 50,
		},
		Search: SearchConfig{
			K1:            1.5,
			B:             0.75,
			TitleWeight:   2.0,
			SummaryWeight: 1.5,
			BodyWeight:    1.0,
		},
		Ranker: RankerConfig{
			Weights: WeightsConfig{
				Lexical:    0.6,
				Graph:      0.3,
				Recency:    0.05,
				Importance: 0.05,
			},
			HalfLife:            30 * 24 * time.Hour,
			CandidateMultiplier: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks ranges that the components cannot recover from. Ranker
// weight sums are checked by the ranker itself.
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch {
	case c.Store.ShardPrefix < 1 || c.Store.ShardPrefix > 8:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "store.shard_prefix must be in [1, 8], got %d", c.Store.ShardPrefix)
	case c.Graph.Damping <= 0 || c.Graph.Damping >= 1:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "graph.damping must be in (0, 1), got %v", c.Graph.Damping)
	case c.Graph.MaxIterations < 1:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "graph.max_iterations must be positive, got %d", c.Graph.MaxIterations)
	case c.Graph.Epsilon <= 0:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "graph.epsilon must be positive, got %v", c.Graph.Epsilon)
	case c.Search.K1 < 0:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "search.k1 must be non-negative, got %v", c.Search.K1)
	case c.Search.B < 0 || c.Search.B > 1:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "search.b must be in [0, 1], got %v", c.Search.B)
	case c.Ranker.HalfLife <= 0:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "ranker.half_life must be positive, got %v", c.Ranker.HalfLife)
	case c.Ranker.CandidateMultiplier < 1:
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "ranker.candidate_multiplier must be at least 1, got %d", c.Ranker.CandidateMultiplier)
	}
	return nil
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load rebuilds the configuration from defaults, the user config file, the
// explicit config file and the environment, in that order. On failure the
// previous configuration stays in effect.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadExplicitConfig(cfg); err != nil {
		return fmt.Errorf("config %s: %w", m.explicitPath, err)
	}

	if err := applyEnvironment(cfg); err != nil {
		return err
	}

	if m.overrides != nil {
		Overlay(cfg, m.overrides)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

// Override layers the non-zero fields of partial over every subsequent Load.
// Used for command-line flags, which outrank files and the environment.
func (m *Manager) Override(partial *Config) error {
	m.overrides = partial
	return m.Load()
}

func (m *Manager) userConfigPath() string {
	if m.dirs == nil {
		return ""
	}
	return m.dirs.ConfigDir(configFileName)
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	path := m.userConfigPath()
	if path == "" {
		return nil
	}
	return loadYAMLFile(path, cfg, false)
}

func (m *Manager) loadExplicitConfig(cfg *Config) error {
	if m.explicitPath == "" {
		return nil
	}
	return loadYAMLFile(m.explicitPath, cfg, true)
}

func loadYAMLFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return liberrors.Wrap(liberrors.KindInvalidConfiguration, "config.Load", "parse yaml", err)
	}
	return nil
}

func applyEnvironment(cfg *Config) error {
	if v := os.Getenv("SHELF_ROOT"); v != "" {
		cfg.Store.Root = v
	}
	if v := os.Getenv("SHELF_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"SHELF_RANKER_W_LEX", &cfg.Ranker.Weights.Lexical},
		{"SHELF_RANKER_W_GRAPH", &cfg.Ranker.Weights.Graph},
		{"SHELF_RANKER_W_RECENCY", &cfg.Ranker.Weights.Recency},
		{"SHELF_RANKER_W_IMPORTANCE", &cfg.Ranker.Weights.Importance},
		{"SHELF_SEARCH_K1", &cfg.Search.K1},
		{"SHELF_SEARCH_B", &cfg.Search.B},
	}
	for _, f := range floats {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return liberrors.Newf(liberrors.KindInvalidConfiguration, "config.Load", "%s: %q is not a number", f.name, v)
		}
		*f.dst = parsed
	}

	return nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

// Watch reloads the configuration whenever the explicit (or, failing that,
// the user) config file changes, until ctx is cancelled. A reload that fails
// is logged and the previous configuration is kept.
func (m *Manager) Watch(ctx context.Context) error {
	path := m.explicitPath
	if path == "" {
		path = m.userConfigPath()
	}
	if path == "" {
		return liberrors.New(liberrors.KindInvalidConfiguration, "config.Watch", "no config file to watch")
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors replace files by rename, which drops a
	// watch held on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					m.logger.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				m.logger.Info("config reloaded", "path", path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watch error", "error", err)
			}
		}
	}()

	return nil
}
