package enforcer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/terminus-io/warden/pkg/detector"
	"github.com/terminus-io/warden/pkg/metadata"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

var ErrUnresolvedTenant = errors.New("volume has no matching server")

const (
	DefaultGracePeriod = time.Second
	DefaultStepTimeout = 5 * time.Second
	// DefaultNotifyTimeout leaves room for webhook retries.
	DefaultNotifyTimeout = 20 * time.Second
	DefaultWipeTimeout   = 2 * time.Minute
)

// Panel is the subset of the control plane the workflow drives.
type Panel interface {
	HasClientKey() bool
	Kill(ctx context.Context, identifier string) error
	Suspend(ctx context.Context, internalID int64) error
}

type WipeFunc func(ctx context.Context, path string) error

type DriftResetter interface {
	ResetDrift(volumeID string)
}

// Notifier receives a report for every enforcement, successful or not.
// Implementations must not block past ctx.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

type Case struct {
	Record  metadata.TenantRecord
	Verdict detector.Verdict
	Path    string
}

type Outcome struct {
	Killed    bool
	Wiped     bool
	Suspended bool
	DryRun    bool
	// Err aggregates every failed step.
	Err error
}

// Result is a stable label for the outcome.
func (o Outcome) Result() string {
	switch {
	case o.DryRun:
		return "dry_run"
	case o.Suspended:
		return "suspended"
	default:
		return "suspend_failed"
	}
}

// Action describes what was done in operator language.
func (o Outcome) Action() string {
	if o.DryRun {
		return "None (dry run)"
	}
	var done []string
	if o.Killed {
		done = append(done, "server killed")
	}
	if o.Wiped {
		done = append(done, "volume wiped")
	}
	if o.Suspended {
		done = append(done, "server suspended")
	} else {
		done = append(done, "suspension FAILED")
	}
	s := strings.Join(done, ", ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// Report is what notifiers see after the workflow ran.
type Report struct {
	VolumeID    string
	Identifier  string
	DisplayName string
	InternalID  int64
	Reason      detector.Reason
	Detail      string
	SizeGB      float64
	QuotaGB     float64
	Outcome     Outcome
	Time        time.Time
}

type Enforcer struct {
	panel         Panel
	wipe          WipeFunc
	drift         DriftResetter
	notifiers     []Notifier
	wipeOnEnforce bool
	dryRun        bool
	grace         time.Duration
	stepTimeout   time.Duration
	notifyTimeout time.Duration
	wipeTimeout   time.Duration
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
}

func New(p Panel, opts ...Option) *Enforcer {
	e := &Enforcer{
		panel:         p,
		wipeOnEnforce: true,
		grace:         DefaultGracePeriod,
		stepTimeout:   DefaultStepTimeout,
		notifyTimeout: DefaultNotifyTimeout,
		wipeTimeout:   DefaultWipeTimeout,
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	if e.wipe == nil {
		e.wipeOnEnforce = false
	}
	return e
}

// Enforce kills, wipes and suspends the tenant that owns the volume, then
// notifies. A failed step never stops the later ones.
func (e *Enforcer) Enforce(ctx context.Context, c Case) (Outcome, error) {
	rec := c.Record
	if !rec.Resolved() {
		klog.InfoS("Skipping enforcement, no matching server", "volume", rec.VolumeID, "reason", c.Verdict.Reason.String())
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnresolvedTenant, rec.VolumeID)
	}

	var out Outcome
	if e.dryRun {
		out.DryRun = true
		klog.InfoS("Dry run, would enforce", "volume", rec.VolumeID, "server", rec.InternalID,
			"reason", c.Verdict.Reason.String(), "details", c.Verdict.Detail)
		e.notify(ctx, c, out)
		return out, nil
	}

	klog.InfoS("Enforcing abusive volume", "volume", rec.VolumeID, "server", rec.InternalID,
		"name", rec.DisplayName, "reason", c.Verdict.Reason.String())

	if e.panel.HasClientKey() {
		id := KillIdentifier(rec)
		if err := e.step(ctx, e.stepTimeout, func(ctx context.Context) error { return e.panel.Kill(ctx, id) }); err != nil {
			klog.ErrorS(err, "Failed to kill server", "volume", rec.VolumeID, "identifier", id)
			out.Err = multierr.Append(out.Err, fmt.Errorf("kill: %w", err))
		} else {
			out.Killed = true
		}
		if err := e.sleep(ctx, e.grace); err != nil {
			out.Err = multierr.Append(out.Err, err)
		}
	}

	if e.wipeOnEnforce {
		if err := e.step(ctx, e.wipeTimeout, func(ctx context.Context) error { return e.wipe(ctx, c.Path) }); err != nil {
			klog.ErrorS(err, "Failed to wipe volume", "volume", rec.VolumeID, "path", c.Path)
			out.Err = multierr.Append(out.Err, fmt.Errorf("wipe: %w", err))
		} else {
			out.Wiped = true
		}
	}

	if err := e.step(ctx, e.stepTimeout, func(ctx context.Context) error { return e.panel.Suspend(ctx, rec.InternalID) }); err != nil {
		klog.ErrorS(err, "Failed to suspend server", "volume", rec.VolumeID, "server", rec.InternalID)
		out.Err = multierr.Append(out.Err, fmt.Errorf("suspend: %w", err))
	} else {
		out.Suspended = true
		if e.drift != nil {
			e.drift.ResetDrift(rec.VolumeID)
		}
		klog.InfoS("Server suspended", "volume", rec.VolumeID, "server", rec.InternalID)
	}

	// 挂起前进程可能仍在写入, 挂起后再清理一次
	if out.Suspended && e.wipeOnEnforce {
		if err := e.sleep(ctx, e.grace); err == nil {
			if err := e.step(ctx, e.wipeTimeout, func(ctx context.Context) error { return e.wipe(ctx, c.Path) }); err != nil {
				klog.ErrorS(err, "Post-suspend sweep failed", "volume", rec.VolumeID)
				out.Err = multierr.Append(out.Err, fmt.Errorf("sweep: %w", err))
			} else {
				out.Wiped = true
			}
		}
	}

	e.notify(ctx, c, out)
	return out, out.Err
}

func (e *Enforcer) notify(ctx context.Context, c Case, out Outcome) {
	r := Report{
		VolumeID:    c.Record.VolumeID,
		Identifier:  KillIdentifier(c.Record),
		DisplayName: c.Record.DisplayName,
		InternalID:  c.Record.InternalID,
		Reason:      c.Verdict.Reason,
		Detail:      c.Verdict.Detail,
		SizeGB:      c.Verdict.CurrentGB,
		QuotaGB:     c.Record.QuotaGB,
		Outcome:     out,
		Time:        e.now().UTC(),
	}
	for _, n := range e.notifiers {
		n := n
		if err := e.step(ctx, e.notifyTimeout, func(ctx context.Context) error { return n.Notify(ctx, r) }); err != nil {
			klog.ErrorS(err, "Failed to deliver notification", "volume", r.VolumeID)
		}
	}
}

func (e *Enforcer) step(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

// KillIdentifier returns the short server identifier used by the client API.
func KillIdentifier(r metadata.TenantRecord) string {
	if r.Identifier != "" {
		return r.Identifier
	}
	if i := strings.IndexByte(r.VolumeID, '-'); i > 0 {
		return r.VolumeID[:i]
	}
	return r.VolumeID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
