package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sleepywoodpecker/rp-goes-power/internal/config"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags(t *testing.T) {
	cfg := config.Default()
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, &cfg)

	require.NoError(t, cmd.ParseFlags([]string{
		"--threshold", "22.5",
		"--window", "500",
		"--average", "100",
		"--power", "derived",
		"--dashboard=false",
		"--replay", "bench.csv",
	}))

	assert.Equal(t, 22.5, cfg.Threshold)
	assert.Equal(t, 500, cfg.WindowSize)
	assert.Equal(t, 100, cfg.AverageSamples)
	assert.Equal(t, "derived", cfg.PowerMode)
	assert.False(t, cfg.Dashboard)
	assert.Equal(t, "bench.csv", cfg.ReplayFile)
	assert.NoError(t, cfg.Validate())
}

func TestRunReplaysCapture(t *testing.T) {
	dir := t.TempDir()
	replay := filepath.Join(dir, "replay.csv")
	capture := filepath.Join(dir, "capture.csv")

	input := strings.Join([]string{
		"5.00,10.00,50.00",
		"5.00,20.00,100.00",
		"not a sample",
		"5.00,20.00,100.00",
		"5.00,5.00,25.00",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(replay, []byte(input), 0644))

	cfg := config.Default()
	cfg.ReplayFile = replay
	cfg.CaptureFile = capture
	cfg.LogFile = filepath.Join(dir, "run.logs")
	cfg.Dashboard = false
	cfg.SampleRate = 1000
	cfg.WindowSize = 10
	cfg.AverageSamples = 5

	require.NoError(t, run(context.Background(), cfg))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "\n"))

	logs, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(logs), "[processor] event closed")
	assert.Contains(t, string(logs), "[processor] dropping malformed line")
	assert.Contains(t, string(logs), "input exhausted")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WindowSize = 0

	assert.ErrorContains(t, run(context.Background(), cfg), "invalid configuration")
}

func TestRunMissingReplayFile(t *testing.T) {
	cfg := config.Default()
	cfg.ReplayFile = filepath.Join(t.TempDir(), "nope.csv")
	cfg.LogFile = filepath.Join(t.TempDir(), "run.logs")
	cfg.Dashboard = false

	assert.ErrorContains(t, run(context.Background(), cfg), "opening replay file")
}
