package cmd

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/terminus-io/warden/pkg/audit"
	"github.com/terminus-io/warden/pkg/config"
	"github.com/terminus-io/warden/pkg/detector"
	"github.com/terminus-io/warden/pkg/enforcer"
	"github.com/terminus-io/warden/pkg/exporter"
	"github.com/terminus-io/warden/pkg/metadata"
	"github.com/terminus-io/warden/pkg/monitor"
	"github.com/terminus-io/warden/pkg/notify"
	"github.com/terminus-io/warden/pkg/panel"
	"github.com/terminus-io/warden/pkg/quota"
	_ "github.com/terminus-io/warden/pkg/quota/du"
	_ "github.com/terminus-io/warden/pkg/quota/walk"
	"github.com/terminus-io/warden/pkg/volume"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

const userAgent = "terminus-warden"

var (
	configPath string
	v          = config.NewViper()
)

// rootCmd 定义根命令
var rootCmd = &cobra.Command{
	Use:   "terminus-warden",
	Short: "Disk quota warden for game server volumes",
	Long: `Terminus Warden periodically measures every tenant volume, detects abusive
growth or quota overruns and suspends the owning server through the panel API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// 确保 klog 能够解析 flags
		flag.Parse()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		// 1. 组件初始化
		pc := panel.NewClient(cfg.PanelURL, cfg.AdminAPIKey,
			panel.WithClientKey(cfg.ClientAPIKey),
			panel.WithUserAgent(userAgent),
		)
		if !pc.HasClientKey() {
			klog.InfoS("No client API key configured, servers will be suspended without being killed first")
		}

		dir := metadata.NewDirectory(ctx, pc,
			metadata.WithSnapshotTTL(cfg.SnapshotTTL()),
			metadata.WithRecordTTL(cfg.RecordTTL()),
		)

		est, err := quota.New(quota.Method(cfg.SizeMethod))
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			exporter.NewVolumeCollector(cfg.ContainersDirectory, dir),
		)
		metrics := exporter.NewMetrics(reg)

		enfOpts := []enforcer.Option{
			enforcer.WithWiper(volume.Wipe),
			enforcer.WithWipeOnEnforce(cfg.WipeOnEnforce),
			enforcer.WithGracePeriod(cfg.KillGracePeriod()),
			enforcer.WithDryRun(cfg.DryRun),
			enforcer.WithDriftResetter(dir),
		}
		if d := notify.NewDiscord(cfg.DiscordWebhookURL, &http.Client{}); d != nil {
			enfOpts = append(enfOpts, enforcer.WithNotifier(d))
		}
		auditLog, err := audit.NewFromConfig(ctx, cfg.Audit)
		if err != nil {
			return err
		}
		if auditLog != nil {
			enfOpts = append(enfOpts, enforcer.WithNotifier(auditLog))
		}
		enf := enforcer.New(pc, enfOpts...)

		mon := monitor.New(cfg.ContainersDirectory, dir, est, enf,
			monitor.WithInterval(cfg.CheckInterval()),
			monitor.WithReserved(cfg.ReservedPrefixes),
			monitor.WithConcurrency(cfg.MeasureConcurrency),
			monitor.WithMeasureTimeout(cfg.MeasureTimeout()),
			monitor.WithMetrics(metrics),
			monitor.WithThresholds(detector.Thresholds{
				SuddenGrowthGB: cfg.SuddenGrowthGB,
				CumulativeGB:   cfg.CumulativeGB,
				QuotaHeadroom:  cfg.QuotaHeadroom,
			}),
		)

		klog.InfoS("Starting Terminus Warden", "panel", cfg.PanelURL, "volumes", cfg.ContainersDirectory,
			"estimator", est.Name(), "dryRun", cfg.DryRun, "wipe", cfg.WipeOnEnforce)

		g, ctx := errgroup.WithContext(ctx)

		// A. 启动 Monitor
		g.Go(func() error {
			mon.Run(ctx)
			return nil
		})

		// B. 启动 metrics / status server
		g.Go(func() error {
			return exporter.StartMetricsServer(ctx, exporter.NewRouter(reg, dir), cfg.MetricsAddr)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			klog.ErrorS(err, "Terminus Warden exited with error")
			return err
		}

		klog.Info("Terminus Warden stopped gracefully")
		return nil
	},
}

// Execute 是 main.go 调用的函数
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.Set("logtostderr", "true")

	fs := rootCmd.Flags()
	fs.StringVar(&configPath, "config", config.DefaultConfigPath, "path to the config file (json, yaml or toml)")
	fs.String("containers-directory", "", "directory holding one sub-directory per server volume")
	fs.String("panel-url", "", "base URL of the panel")
	fs.String("size-method", "", "volume size estimator: walk or du")
	fs.String("metrics-addr", "", "listen address of the metrics and status server")
	fs.Bool("dry-run", false, "detect and report abuse without killing, wiping or suspending")

	for key, name := range map[string]string{
		"containers_directory": "containers-directory",
		"panel_url":            "panel-url",
		"size_method":          "size-method",
		"metrics_addr":         "metrics-addr",
		"dry_run":              "dry-run",
	} {
		_ = v.BindPFlag(key, fs.Lookup(name))
	}
}
