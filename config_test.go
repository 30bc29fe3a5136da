package ruleflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigGetters(t *testing.T) {
	cfg := Config{
		"name":     "arena",
		"players":  4,
		"fromText": "12",
		"ratio":    "0.5",
		"ranked":   "true",
		"timeout":  "250ms",
		"raw":      int64(time.Second),
		"nothing":  nil,
	}

	assert.True(t, cfg.Has("name"))
	assert.False(t, cfg.Has("missing"))

	assert.Equal(t, "arena", cfg.String("name", ""))
	assert.Equal(t, "4", cfg.String("players", ""))
	assert.Equal(t, "def", cfg.String("nothing", "def"))

	assert.Equal(t, 4, cfg.Int("players", 0))
	assert.Equal(t, 12, cfg.Int("fromText", 0))
	assert.Equal(t, 7, cfg.Int("name", 7), "unconvertible values fall back")

	assert.InDelta(t, 0.5, cfg.Float("ratio", 0), 1e-9)
	assert.True(t, cfg.Bool("ranked", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 250*time.Millisecond, cfg.Duration("timeout", 0))
	assert.Equal(t, time.Second, cfg.Duration("raw", 0))
	assert.Equal(t, time.Minute, cfg.Duration("name", time.Minute))
}

func TestConfigClone(t *testing.T) {
	var nilCfg Config
	assert.Nil(t, nilCfg.Clone())

	cfg := Config{"a": 1}
	clone := cfg.Clone()
	clone["a"] = 2
	assert.Equal(t, 1, cfg["a"])
}
