package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/dtable/internal/api"
	"github.com/dreamware/dtable/internal/cluster"
	"github.com/dreamware/dtable/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// TestGetenv tests environment variable lookup with defaults
func TestGetenv(t *testing.T) {
	t.Setenv("DTABLE_TEST_VAR", "set")
	if got := getenv("DTABLE_TEST_VAR", "def"); got != "set" {
		t.Errorf("Expected 'set', got %q", got)
	}
	if got := getenv("DTABLE_TEST_UNSET", "def"); got != "def" {
		t.Errorf("Expected 'def', got %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults with env overrides", func(t *testing.T) {
		t.Setenv("DTABLE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
		t.Setenv("DTABLE_LISTEN", ":9191")
		t.Setenv("DTABLE_JOB_ID", "from-env")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, ":9191", cfg.Server.Listen)
		assert.Equal(t, "from-env", cfg.JobID)
		assert.Equal(t, config.ModeEngine, cfg.Mode)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dtable.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mode: standalone\nserver:\n  listen: :7000\n"), 0o600))
		t.Setenv("DTABLE_CONFIG", path)

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, config.ModeStandalone, cfg.Mode)
		assert.Equal(t, ":7000", cfg.Server.Listen)
	})
}

func TestInitLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, jsonOut := range []bool{false, true} {
		cfg := config.Default()
		cfg.Logger.JSON = jsonOut
		cfg.Logger.Level = "debug"
		logger, err := initLogger(&cfg)
		require.NoError(t, err)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	}

	cfg := config.Default()
	cfg.Logger.Level = "chatty"
	_, err := initLogger(&cfg)
	assert.Error(t, err)
}

// TestMainInvalidConfig tests that a broken config file is fatal
func TestMainInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [unclosed"), 0o600))
	t.Setenv("DTABLE_CONFIG", path)

	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	fatalCalled := false
	logFatal = func(format string, v ...interface{}) {
		fatalCalled = true
	}

	main()

	if !fatalCalled {
		t.Error("Expected log.Fatal to be called but it wasn't")
	}
}

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Listen = freeAddr(t)
	cfg.JobID = "run-test"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, slog.Default()) }()

	client := cluster.NewClient(cluster.NodeInfo{ID: "local", Addr: "http://" + cfg.Server.Listen}, nil)
	require.Eventually(t, func() bool {
		return client.Health(context.Background()) == nil
	}, 3*time.Second, 20*time.Millisecond)

	_, err := client.Open(context.Background(), "app", "t", api.OpenRequest{})
	require.NoError(t, err)
	_, _, err = client.Put(context.Background(), "app", "t", "k", []byte("v"))
	require.NoError(t, err)
	v, ok, err := client.Get(context.Background(), "app", "t", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultPartitions = 0
	err := run(context.Background(), cfg, slog.Default())
	assert.ErrorContains(t, err, "start session")
}
