package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("relay=debug, mdns=warn,error", "json", "true")

	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)

	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("relay"))
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("relay.client"), "父子系统级别应向下继承")
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("mdns"))
	assert.Equal(t, slog.LevelError, cfg.LevelFor("gossipsub"))
}

func TestParseConfig_IgnoresUnknownLevels(t *testing.T) {
	cfg := ParseConfig("relay=verbose,loud", "", "")

	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Empty(t, cfg.SubsystemLevels)
	assert.Equal(t, FormatText, cfg.Format)
	assert.False(t, cfg.AddSource)
}

func TestLogger_SameInstance(t *testing.T) {
	assert.Same(t, Logger("same"), Logger("same"))
}

func TestSetOutput_AffectsExistingLogger(t *testing.T) {
	log := Logger("output.test")

	buf := &bytes.Buffer{}
	SetOutput(buf)

	log.Info("after switch", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "after switch")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "subsystem=output.test")
	assert.Contains(t, out, "level=info")
}

func TestSetLevel_Hierarchical(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)

	parent := Logger("lvl")
	child := Logger("lvl.child")
	other := Logger("lvlother")

	SetLevel("lvl", slog.LevelError)
	SetLevel("lvlother", slog.LevelInfo)

	parent.Warn("parent hidden")
	child.Warn("child hidden")
	other.Warn("other shown")

	out := buf.String()
	assert.NotContains(t, out, "parent hidden")
	assert.NotContains(t, out, "child hidden")
	assert.Contains(t, out, "other shown")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "gossipsub=debug")
	resetConfig()
	t.Cleanup(resetConfig)

	cfg := ConfigFromEnv()
	require.NotNil(t, cfg)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("gossipsub"))
	assert.Same(t, cfg, ConfigFromEnv())
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
