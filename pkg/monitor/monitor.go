package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terminus-io/warden/pkg/detector"
	"github.com/terminus-io/warden/pkg/enforcer"
	"github.com/terminus-io/warden/pkg/metadata"
	"github.com/terminus-io/warden/pkg/quota"
	"github.com/terminus-io/warden/pkg/volume"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var ErrCycleInProgress = errors.New("previous cycle still running")

const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 4
)

type Directory interface {
	RefreshSnapshotIfStale(ctx context.Context) (bool, error)
	Reconcile(volumeIDs []string) int
	Get(volumeID string) metadata.TenantRecord
	RecordMeasurement(volumeID string, sizeGB float64) metadata.TenantRecord
}

type Enforcer interface {
	Enforce(ctx context.Context, c enforcer.Case) (enforcer.Outcome, error)
}

type MetricsRecorder interface {
	ObserveEnforcement(reason, result string)
	ObserveCycle(d time.Duration, volumes int)
	CycleSkipped()
	MeasurementFailed()
}

type CycleStats struct {
	Volumes    int
	Unresolved int
	Measured   int
	Failed     int
	Flagged    int
	Suspended  int
}

type Monitor struct {
	root           string
	reserved       []string
	dir            Directory
	estimator      quota.Estimator
	enforcer       Enforcer
	metrics        MetricsRecorder
	thresholds     detector.Thresholds
	interval       time.Duration
	measureTimeout time.Duration
	concurrency    int

	running sync.Mutex
}

func New(root string, dir Directory, est quota.Estimator, enf Enforcer, opts ...Option) *Monitor {
	m := &Monitor{
		root:           root,
		reserved:       volume.DefaultReserved,
		dir:            dir,
		estimator:      est,
		enforcer:       enf,
		interval:       DefaultInterval,
		measureTimeout: quota.DefaultTimeout,
		concurrency:    DefaultConcurrency,
	}
	for _, o := range opts {
		o(m)
	}
	if m.concurrency <= 0 {
		m.concurrency = 1
	}
	return m
}

// Run executes a cycle immediately and then on every tick until ctx is done.
// A tick that fires while a cycle is still running is dropped.
func (m *Monitor) Run(ctx context.Context) {
	klog.InfoS("Starting monitor loop", "interval", m.interval, "root", m.root, "estimator", m.estimator.Name())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.RunCycle(ctx); errors.Is(err, ErrCycleInProgress) {
				klog.InfoS("Skipping tick, previous cycle still running")
			}
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			klog.Info("Monitor context cancelled, stopping loop.")
			return
		case <-ticker.C:
			launch()
		}
	}
}

// RunCycle performs one full pass over the volumes root.
func (m *Monitor) RunCycle(ctx context.Context) (CycleStats, error) {
	if !m.running.TryLock() {
		if m.metrics != nil {
			m.metrics.CycleSkipped()
		}
		return CycleStats{}, ErrCycleInProgress
	}
	defer m.running.Unlock()

	start := time.Now()
	var stats CycleStats

	ids, err := volume.List(m.root, m.reserved)
	if err != nil {
		klog.ErrorS(err, "Failed to enumerate volumes", "root", m.root)
	}
	stats.Volumes = len(ids)

	if refreshed, err := m.dir.RefreshSnapshotIfStale(ctx); err != nil {
		klog.ErrorS(err, "Failed to refresh server list, using cached metadata")
	} else if refreshed {
		klog.V(2).InfoS("Server list refreshed")
	}
	stats.Unresolved = m.dir.Reconcile(ids)

	var (
		measured, failed, flagged, suspended atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := m.checkVolume(gctx, id)
			switch {
			case r.failed:
				failed.Add(1)
			default:
				measured.Add(1)
			}
			if r.flagged {
				flagged.Add(1)
			}
			if r.suspended {
				suspended.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Measured = int(measured.Load())
	stats.Failed = int(failed.Load())
	stats.Flagged = int(flagged.Load())
	stats.Suspended = int(suspended.Load())

	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.ObserveCycle(elapsed, stats.Volumes)
	}
	klog.InfoS("Cycle finished", "volumes", stats.Volumes, "unresolved", stats.Unresolved,
		"measured", stats.Measured, "failed", stats.Failed, "flagged", stats.Flagged,
		"suspended", stats.Suspended, "duration", elapsed)
	return stats, ctx.Err()
}

type volumeResult struct {
	failed    bool
	flagged   bool
	suspended bool
}

func (m *Monitor) checkVolume(ctx context.Context, id string) volumeResult {
	path := filepath.Join(m.root, id)
	size, err := quota.Measure(ctx, m.estimator, path, m.measureTimeout)
	if err != nil {
		// 测量失败视为未知, 不参与判定也不覆盖历史
		if m.metrics != nil {
			m.metrics.MeasurementFailed()
		}
		return volumeResult{failed: true}
	}

	prev := m.dir.Get(id)
	if !prev.HasBaseline() {
		prev.LastMeasuredGB = size
	}
	verdict := detector.Classify(size, prev, m.thresholds)
	rec := m.dir.RecordMeasurement(id, size)

	klog.V(4).InfoS("Volume measured", "volume", id, "size", size, "delta", verdict.DeltaGB,
		"drift", rec.CumulativeDriftGB, "quota", rec.QuotaGB)

	if !verdict.Abusive() {
		return volumeResult{}
	}

	klog.InfoS("Abusive volume detected", "volume", id, "name", rec.DisplayName,
		"reason", verdict.Reason.String(), "details", verdict.Detail)

	out, err := m.enforcer.Enforce(ctx, enforcer.Case{Record: rec, Verdict: verdict, Path: path})
	result := out.Result()
	if errors.Is(err, enforcer.ErrUnresolvedTenant) {
		result = "unresolved"
	} else if err != nil {
		klog.ErrorS(err, "Enforcement incomplete", "volume", id, "killed", out.Killed,
			"wiped", out.Wiped, "suspended", out.Suspended)
	}
	if m.metrics != nil {
		m.metrics.ObserveEnforcement(verdict.Reason.Label(), result)
	}
	return volumeResult{flagged: true, suspended: out.Suspended}
}
