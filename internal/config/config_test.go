package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: \":9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "./data/pointage.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.StoreTimeout)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
	assert.Equal(t, 24*time.Hour, cfg.Alerts.WarnAfter)
	assert.Equal(t, 72*time.Hour, cfg.Alerts.InactiveAfter)
	assert.Equal(t, "/metrics", cfg.Prometheus.MetricsPath)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad port":            "server:\n  port: \"8000\"\n",
		"inverted thresholds": "alerts:\n  warn_after: 96h\n  inactive_after: 72h\n",
		"bad log format":      "logging:\n  format: xml\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
