package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ryhazerus/throttle"
	"github.com/ryhazerus/throttle/internal/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestSeedListReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "throttle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"store:\n  driver: sqlite\n  path: "+filepath.Join(dir, "state.db")+"\n"), 0o600))

	out := run(t, "--config", path, "seed")
	assert.Contains(t, out, "seeded 7 entries into the sqlite store")

	out = run(t, "--config", path, "limits", "list")
	assert.Contains(t, out, "stripe")
	assert.Contains(t, out, "github")
	assert.Contains(t, out, "search")

	out = run(t, "--config", path, "limits", "list", "--prefix", "openai:")
	assert.Contains(t, out, "openai:")
	assert.NotContains(t, out, "stripe")

	out = run(t, "--config", path, "limits", "reset", "--scope", "stripe", "--yes")
	assert.Contains(t, out, "reset stripe")

	out = run(t, "--config", path, "limits", "list", "--prefix", "stripe")
	assert.Contains(t, out, "no stored bucket state")
}

func TestSimulate(t *testing.T) {
	prev := logger
	logger = newTestLogger(t)
	t.Cleanup(func() { logger = prev })

	ctrl := throttle.DefaultControllerConfig()
	ctrl.InitialRate = 200
	ctrl.Cooldown = 50 * time.Millisecond
	ctrl.MaxWait = time.Second

	samples, err := simulate(context.Background(), simulation{
		trueRate: 10,
		workers:  4,
		duration: 500 * time.Millisecond,
		interval: 100 * time.Millisecond,
		ctrl:     ctrl,
		guard:    []throttle.GuardOption{throttle.WithMaxRetries(3)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	last := samples[len(samples)-1]
	assert.Positive(t, last.accepted)
	assert.Less(t, last.rate, 200.0, "429s lower the learned rate")

	var buf bytes.Buffer
	renderSamples(&buf, samples)
	assert.Contains(t, buf.String(), "Rate (req/s)")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	l, err = newLogger(config.LoggingConfig{Level: "warn", Development: true}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, false)
	require.Error(t, err)
}

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
}
