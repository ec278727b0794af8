package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminus-io/warden/pkg/audit"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{
		"containers_directory": "/srv/volumes",
		"panel_url": "panel.example.com/",
		"admin_api_key": "ptla_x",
		"client_api_key": "ptlc_y",
		"check_interval_in_seconds": 30,
		"check_interval_threshold_in_gb": 5,
		"cumulative_change_threshold_in_gb": "20Gi",
		"cumulative_cache_time_in_seconds": 3600,
		"servers_list_cache_time_in_seconds": 120,
		"discord_webhook_url": "https://discord.test/hook",
		"audit": {"type": "localfs", "localfs": {"base_path": "/var/log/warden"}}
	}`)

	c, err := Load(NewViper(), p, true)
	require.NoError(t, err)
	assert.Equal(t, "/srv/volumes", c.ContainersDirectory)
	assert.Equal(t, "http://panel.example.com", c.PanelURL)
	assert.Equal(t, "ptlc_y", c.ClientAPIKey)
	assert.Equal(t, 30*time.Second, c.CheckInterval())
	assert.Equal(t, time.Hour, c.RecordTTL())
	assert.Equal(t, 2*time.Minute, c.SnapshotTTL())
	assert.Equal(t, 5.0, c.SuddenGrowthGB)
	assert.Equal(t, 20.0, c.CumulativeGB)
	assert.Equal(t, audit.SinkTypeLocalFS, c.Audit.Type)
	assert.Equal(t, "/var/log/warden", c.Audit.LocalFS.BasePath)

	// defaults
	assert.Equal(t, 1.0, c.QuotaHeadroom)
	assert.Equal(t, []string{".sftp"}, c.ReservedPrefixes)
	assert.Equal(t, "walk", c.SizeMethod)
	assert.True(t, c.WipeOnEnforce)
	assert.False(t, c.DryRun)
	assert.Equal(t, 4, c.MeasureConcurrency)
	assert.Equal(t, 10*time.Second, c.MeasureTimeout())
	assert.Equal(t, time.Second, c.KillGracePeriod())
	assert.Equal(t, ":9201", c.MetricsAddr)
}

func TestLoadYAMLQuantities(t *testing.T) {
	p := writeFile(t, "config.yaml", `
panel_url: https://panel.example.com
admin_api_key: key
check_interval_threshold_in_gb: 512Mi
cumulative_change_threshold_in_gb: "0"
quota_headroom: 1.1
size_method: du
`)
	c, err := Load(NewViper(), p, true)
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.SuddenGrowthGB)
	assert.Zero(t, c.CumulativeGB)
	assert.Equal(t, 1.1, c.QuotaHeadroom)
	assert.Equal(t, "du", c.SizeMethod)
	assert.Equal(t, "https://panel.example.com", c.PanelURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_PANEL_URL", "http://env.panel")
	t.Setenv("WARDEN_ADMIN_API_KEY", "env-key")
	t.Setenv("WARDEN_DRY_RUN", "true")
	t.Setenv("WARDEN_AUDIT_TYPE", "s3")
	t.Setenv("WARDEN_AUDIT_S3_BUCKET", "audit-bucket")

	c, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.json"), false)
	require.NoError(t, err)
	assert.Equal(t, "http://env.panel", c.PanelURL)
	assert.Equal(t, "env-key", c.AdminAPIKey)
	assert.True(t, c.DryRun)
	assert.Equal(t, audit.SinkTypeS3, c.Audit.Type)
	assert.Equal(t, "audit-bucket", c.Audit.S3.Bucket)
}

func TestMissingRequiredFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.json"), true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing panel", func(c *Config) { c.PanelURL = "" }, "panel_url is required"},
		{"missing admin key", func(c *Config) { c.AdminAPIKey = "" }, "admin_api_key is required"},
		{"bad interval", func(c *Config) { c.CheckIntervalSeconds = -1 }, "check_interval_in_seconds"},
		{"bad method", func(c *Config) { c.SizeMethod = "stat" }, "size_method"},
		{"bad threshold", func(c *Config) { c.SuddenThreshold = "lots" }, "check_interval_threshold_in_gb"},
		{"negative threshold", func(c *Config) { c.CumulativeThreshold = "-1" }, "cumulative_change_threshold_in_gb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{PanelURL: "panel", AdminAPIKey: "k", SuddenThreshold: "5", CumulativeThreshold: "20"}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, "http://panel", c.PanelURL)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSetDefaultsKeepsExplicitEmptyReserved(t *testing.T) {
	c := &Config{ReservedPrefixes: []string{}}
	c.SetDefaults()
	assert.Empty(t, c.ReservedPrefixes)
	assert.NotNil(t, c.ReservedPrefixes)
}
