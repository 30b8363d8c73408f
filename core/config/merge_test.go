package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverlayKeepsDefaults(t *testing.T) {
	dst := DefaultConfig()
	Overlay(dst, &Config{
		Store: StoreConfig{Root: "/srv/library"},
		Log:   LogConfig{Level: "debug"},
	})

	assert.Equal(t, "/srv/library", dst.Store.Root)
	assert.Equal(t, "debug", dst.Log.Level)
	assert.Equal(t, 2, dst.Store.ShardPrefix)
	assert.Equal(t, 0.6, dst.Ranker.Weights.Lexical)
	assert.Equal(t, DefaultConfig().Graph, dst.Graph)
}

func TestOverlayNestedFields(t *testing.T) {
	dst := DefaultConfig()
	Overlay(dst, &Config{
		Ranker: RankerConfig{
			Weights:  WeightsConfig{Graph: 0.25},
			HalfLife: 48 * time.Hour,
		},
	})

	assert.Equal(t, 0.25, dst.Ranker.Weights.Graph)
	assert.Equal(t, 0.6, dst.Ranker.Weights.Lexical)
	assert.Equal(t, 48*time.Hour, dst.Ranker.HalfLife)
	assert.Equal(t, DefaultConfig().Ranker.CandidateMultiplier, dst.Ranker.CandidateMultiplier)
}

func TestOverlayZeroDoesNotClear(t *testing.T) {
	dst := DefaultConfig()
	dst.Store.Root = "/keep"
	Overlay(dst, &Config{})
	assert.Equal(t, "/keep", dst.Store.Root)
	assert.Equal(t, 1.5, dst.Search.K1)
}

func TestOverlayNil(t *testing.T) {
	dst := DefaultConfig()
	Overlay(dst, nil)
	Overlay(nil, dst)
	assert.Equal(t, DefaultConfig(), dst)
}
