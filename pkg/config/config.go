package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/terminus-io/warden/pkg/audit"
	"github.com/terminus-io/warden/pkg/panel"
	"github.com/terminus-io/warden/pkg/quota"
	"github.com/terminus-io/warden/pkg/utils"
	"github.com/terminus-io/warden/pkg/volume"
	"k8s.io/klog/v2"
)

const (
	EnvPrefix         = "WARDEN"
	DefaultConfigPath = "config/config.json"
)

type Config struct {
	ContainersDirectory string `mapstructure:"containers_directory"`
	PanelURL            string `mapstructure:"panel_url"`
	AdminAPIKey         string `mapstructure:"admin_api_key"`
	ClientAPIKey        string `mapstructure:"client_api_key"`
	DiscordWebhookURL   string `mapstructure:"discord_webhook_url"`

	CheckIntervalSeconds    int `mapstructure:"check_interval_in_seconds"`
	CumulativeCacheSeconds  int `mapstructure:"cumulative_cache_time_in_seconds"`
	ServersListCacheSeconds int `mapstructure:"servers_list_cache_time_in_seconds"`
	MeasureTimeoutSeconds   int `mapstructure:"measure_timeout_in_seconds"`
	KillGracePeriodSeconds  int `mapstructure:"kill_grace_period_in_seconds"`
	MeasureConcurrency      int `mapstructure:"measure_concurrency"`

	// 阈值支持纯数字(GiB)或 "5Gi" 这样的 quantity
	SuddenThreshold     string `mapstructure:"check_interval_threshold_in_gb"`
	CumulativeThreshold string `mapstructure:"cumulative_change_threshold_in_gb"`

	QuotaHeadroom    float64  `mapstructure:"quota_headroom"`
	ReservedPrefixes []string `mapstructure:"reserved_prefixes"`
	SizeMethod       string   `mapstructure:"size_method"`
	WipeOnEnforce    bool     `mapstructure:"wipe_on_enforce"`
	DryRun           bool     `mapstructure:"dry_run"`
	MetricsAddr      string   `mapstructure:"metrics_addr"`

	Audit audit.Config `mapstructure:"audit"`

	// filled by Validate
	SuddenGrowthGB float64 `mapstructure:"-"`
	CumulativeGB   float64 `mapstructure:"-"`
}

// every key needs an entry so that Unmarshal sees environment overrides
var defaults = map[string]any{
	"panel_url":                          "",
	"admin_api_key":                      "",
	"client_api_key":                     "",
	"discord_webhook_url":                "",
	"dry_run":                            false,
	"audit.type":                         "",
	"audit.prefix":                       "",
	"audit.localfs.base_path":            "",
	"audit.s3.bucket":                    "",
	"audit.s3.region":                    "",
	"audit.s3.endpoint":                  "",
	"audit.s3.access_key":                "",
	"audit.s3.secret_access_key":         "",
	"audit.s3.session_token":             "",
	"audit.s3.force_path_style":          false,
	"containers_directory":               "/var/lib/pterodactyl/volumes",
	"check_interval_in_seconds":          60,
	"check_interval_threshold_in_gb":     "5",
	"cumulative_change_threshold_in_gb":  "20",
	"cumulative_cache_time_in_seconds":   24 * 60 * 60,
	"servers_list_cache_time_in_seconds": 300,
	"measure_timeout_in_seconds":         int(quota.DefaultTimeout / time.Second),
	"kill_grace_period_in_seconds":       1,
	"measure_concurrency":                4,
	"quota_headroom":                     1.0,
	"reserved_prefixes":                  volume.DefaultReserved,
	"size_method":                        string(quota.MethodWalk),
	"wipe_on_enforce":                    true,
	"metrics_addr":                       ":9201",
}

// NewViper returns a viper instance with defaults and WARDEN_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v and decodes the result. A missing file is only an
// error when required is set; environment and flags may carry everything.
func Load(v *viper.Viper, path string, required bool) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if required || !(errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			klog.InfoS("Config file not found, using environment and flags", "path", path)
		} else {
			klog.InfoS("Loaded config", "path", v.ConfigFileUsed())
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults fills zero values, for configs built without viper.
func (c *Config) SetDefaults() {
	if c.ContainersDirectory == "" {
		c.ContainersDirectory = defaults["containers_directory"].(string)
	}
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = defaults["check_interval_in_seconds"].(int)
	}
	if c.CumulativeCacheSeconds == 0 {
		c.CumulativeCacheSeconds = defaults["cumulative_cache_time_in_seconds"].(int)
	}
	if c.MeasureTimeoutSeconds <= 0 {
		c.MeasureTimeoutSeconds = defaults["measure_timeout_in_seconds"].(int)
	}
	if c.MeasureConcurrency <= 0 {
		c.MeasureConcurrency = defaults["measure_concurrency"].(int)
	}
	if c.QuotaHeadroom <= 0 {
		c.QuotaHeadroom = 1.0
	}
	if c.ReservedPrefixes == nil {
		c.ReservedPrefixes = volume.DefaultReserved
	}
	if c.SizeMethod == "" {
		c.SizeMethod = string(quota.MethodWalk)
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaults["metrics_addr"].(string)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.PanelURL == "" {
		errs = append(errs, errors.New("panel_url is required"))
	}
	if c.AdminAPIKey == "" {
		errs = append(errs, errors.New("admin_api_key is required"))
	}
	if c.ContainersDirectory == "" {
		errs = append(errs, errors.New("containers_directory is required"))
	}
	if c.CheckIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("check_interval_in_seconds must be positive, got %d", c.CheckIntervalSeconds))
	}
	switch quota.Method(c.SizeMethod) {
	case quota.MethodWalk, quota.MethodDu:
	default:
		errs = append(errs, fmt.Errorf("size_method must be walk or du, got %q", c.SizeMethod))
	}

	var err error
	if c.SuddenGrowthGB, err = parseThreshold(c.SuddenThreshold); err != nil {
		errs = append(errs, fmt.Errorf("check_interval_threshold_in_gb: %w", err))
	}
	if c.CumulativeGB, err = parseThreshold(c.CumulativeThreshold); err != nil {
		errs = append(errs, fmt.Errorf("cumulative_change_threshold_in_gb: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.PanelURL = panel.NormalizeURL(c.PanelURL)
	return nil
}

func parseThreshold(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return utils.ParseGiB(s)
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *Config) RecordTTL() time.Duration {
	return time.Duration(c.CumulativeCacheSeconds) * time.Second
}

// SnapshotTTL of zero or less means the server list is refetched every cycle.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.ServersListCacheSeconds) * time.Second
}

func (c *Config) MeasureTimeout() time.Duration {
	return time.Duration(c.MeasureTimeoutSeconds) * time.Second
}

func (c *Config) KillGracePeriod() time.Duration {
	return time.Duration(c.KillGracePeriodSeconds) * time.Second
}
