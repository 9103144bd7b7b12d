package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"aide/pkg/config"
	"aide/pkg/protocol"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_MissingFileIsDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Equal(t, config.DefaultListen, cfg.Listen)
	require.Equal(t, 300, cfg.Approval.TimeoutSeconds)
	require.Equal(t, 100, cfg.Activity.QueueCapacity)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, `
listen: 0.0.0.0:9000
classifier: model
llm:
  provider: gemini
  model: gemini-2.5-pro
trust:
  escalate_from_new: 3
  success_ratio_min: 0.9
  violation_window: 48h
  violation_limit: 0
  required_delete: 2
approval:
  timeout_seconds: 60
  sweep_interval: 5s
activity:
  ping_interval: 10s
tracing:
  endpoint: otel.local:4318
  insecure: true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Equal(t, "model", cfg.Classifier)
	require.Equal(t, "gemini", cfg.LLM.Provider)
	require.Equal(t, "GEMINI_API_KEY", cfg.LLM.APIKeyEnv)
	require.Equal(t, 60, cfg.Approval.TimeoutSeconds)
	require.Equal(t, 5*time.Second, cfg.Approval.SweepInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.Activity.PingInterval.Duration)
	require.Equal(t, config.Tracing{Endpoint: "otel.local:4318", Insecure: true}, cfg.Tracing)

	p := cfg.Policy()
	require.Equal(t, 3, p.EscalationThresholds[protocol.LevelNew])
	require.Equal(t, 20, p.EscalationThresholds[protocol.LevelTrusted])
	require.InDelta(t, 0.9, p.SuccessRatioMin, 1e-9)
	require.Equal(t, 48*time.Hour, p.ViolationWindow)
	require.Zero(t, p.ViolationLimit)
	require.Equal(t, protocol.LevelTrusted, p.RequiredLevels[protocol.RiskDelete])
	require.Equal(t, protocol.LevelTrusted, p.RequiredLevels[protocol.RiskSend])
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	write(t, path, `
listen = "127.0.0.1:8000"

[log]
level = "debug"
json = true

[trust]
escalate_from_trusted = 10
required_send = 3

[approval]
sweep_interval = "1m"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8000", cfg.Listen)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.JSON)
	require.Equal(t, time.Minute, cfg.Approval.SweepInterval.Duration)

	p := cfg.Policy()
	require.Equal(t, 10, p.EscalationThresholds[protocol.LevelTrusted])
	require.Equal(t, protocol.LevelAutonomous, p.RequiredLevels[protocol.RiskSend])
	require.Equal(t, 2, p.ViolationLimit, "unset limit keeps the default")
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad ratio", "trust:\n  success_ratio_min: 1.5\n"},
		{"bad level", "trust:\n  required_write: 4\n"},
		{"negative threshold", "trust:\n  escalate_from_new: -1\n"},
		{"bad duration", "approval:\n  sweep_interval: soon\n"},
		{"bad classifier", "classifier: magic\n"},
		{"bad provider", "llm:\n  provider: oracle\n"},
		{"not yaml", "listen: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			write(t, path, tt.body)
			_, err := config.Load(path)
			require.Error(t, err)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	t.Run("defaults under AIDE_HOME", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("AIDE_HOME", home)
		t.Setenv("AIDE_DB_PATH", "")
		t.Setenv("AIDE_CONFIG", "")

		p, err := config.ResolvePaths()
		require.NoError(t, err)
		require.Equal(t, home, p.Home)
		require.Equal(t, filepath.Join(home, "state.db"), p.StateDB)
		require.Equal(t, filepath.Join(home, "config.yaml"), p.ConfigFile)
		require.Equal(t, filepath.Join(home, ".env"), p.EnvFile)
	})

	t.Run("toml used when it is the only config", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("AIDE_HOME", home)
		t.Setenv("AIDE_CONFIG", "")
		write(t, filepath.Join(home, "config.toml"), "")

		p, err := config.ResolvePaths()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(home, "config.toml"), p.ConfigFile)
	})

	t.Run("specific overrides win", func(t *testing.T) {
		t.Setenv("AIDE_HOME", t.TempDir())
		t.Setenv("AIDE_DB_PATH", "/tmp/other.db")
		t.Setenv("AIDE_CONFIG", "/etc/aide.toml")

		p, err := config.ResolvePaths()
		require.NoError(t, err)
		require.Equal(t, "/tmp/other.db", p.StateDB)
		require.Equal(t, "/etc/aide.toml", p.ConfigFile)
	})
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, "approval:\n  timeout_seconds: 60\n")

	var (
		mu   sync.Mutex
		seen []config.Config
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, nil, func(c config.Config) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		})
	}()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	latest := func() (config.Config, int) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return config.Config{}, 0
		}
		return seen[len(seen)-1], len(seen)
	}

	write(t, path, "approval:\n  timeout_seconds: 90\n")
	require.Eventually(t, func() bool {
		c, n := latest()
		return n > 0 && c.Approval.TimeoutSeconds == 90
	}, 3*time.Second, 20*time.Millisecond)

	// An invalid edit is skipped; the callback never sees it.
	_, before := latest()
	write(t, path, "trust:\n  success_ratio_min: 7\n")
	time.Sleep(500 * time.Millisecond)
	c, after := latest()
	require.Equal(t, before, after)
	require.Equal(t, 90, c.Approval.TimeoutSeconds)

	cancel()
	require.NoError(t, <-done)
}
