package enforcer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminus-io/warden/pkg/detector"
	"github.com/terminus-io/warden/pkg/metadata"
	"go.uber.org/multierr"
)

type call struct {
	op  string
	arg any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(op string, arg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op, arg})
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.op)
	}
	return out
}

type fakePanel struct {
	*recorder
	clientKey  bool
	killErr    error
	suspendErr error
}

func (p *fakePanel) HasClientKey() bool { return p.clientKey }

func (p *fakePanel) Kill(_ context.Context, id string) error {
	p.add("kill", id)
	return p.killErr
}

func (p *fakePanel) Suspend(_ context.Context, id int64) error {
	p.add("suspend", id)
	return p.suspendErr
}

type fakeDrift struct{ *recorder }

func (d fakeDrift) ResetDrift(id string) { d.add("reset", id) }

type fakeNotifier struct {
	*recorder
	reports []Report
}

func (n *fakeNotifier) Notify(_ context.Context, r Report) error {
	n.add("notify", r.VolumeID)
	n.reports = append(n.reports, r)
	return nil
}

func setup(p *fakePanel, wipeErr error, opts ...Option) (*Enforcer, *fakeNotifier) {
	rec := p.recorder
	n := &fakeNotifier{recorder: rec}
	base := []Option{
		WithWiper(func(_ context.Context, path string) error {
			rec.add("wipe", path)
			return wipeErr
		}),
		WithSleep(func(context.Context, time.Duration) error {
			rec.add("sleep", nil)
			return nil
		}),
		WithDriftResetter(fakeDrift{rec}),
		WithNotifier(n),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	}
	return New(p, append(base, opts...)...), n
}

func abusiveCase() Case {
	return Case{
		Record: metadata.TenantRecord{
			VolumeID:    "1a7ce997-2a4d-4a63-9d5e-7f2b8d3a1c9e",
			InternalID:  42,
			Identifier:  "1a7ce997",
			DisplayName: "survival",
			QuotaGB:     10,
		},
		Verdict: detector.Verdict{Reason: detector.QuotaExceeded, Detail: "Current size: 12.00GB", CurrentGB: 12},
		Path:    "/var/lib/pterodactyl/volumes/1a7ce997-2a4d-4a63-9d5e-7f2b8d3a1c9e",
	}
}

func TestEnforceFullSequence(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true}
	e, n := setup(p, nil)

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.NoError(t, err)
	assert.True(t, out.Killed)
	assert.True(t, out.Wiped)
	assert.True(t, out.Suspended)
	assert.Equal(t, "suspended", out.Result())
	assert.Equal(t, "Server killed, volume wiped, server suspended", out.Action())

	assert.Equal(t, []string{"kill", "sleep", "wipe", "suspend", "reset", "sleep", "wipe", "notify"}, p.ops())
	assert.Equal(t, "1a7ce997", p.calls[0].arg)
	assert.Equal(t, int64(42), p.calls[3].arg)

	require.Len(t, n.reports, 1)
	r := n.reports[0]
	assert.Equal(t, detector.QuotaExceeded, r.Reason)
	assert.Equal(t, "survival", r.DisplayName)
	assert.Equal(t, 12.0, r.SizeGB)
	assert.Equal(t, 2024, r.Time.Year())
}

func TestEnforceWithoutClientKeySkipsKill(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}}
	e, _ := setup(p, nil)

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.NoError(t, err)
	assert.False(t, out.Killed)
	assert.Equal(t, []string{"wipe", "suspend", "reset", "sleep", "wipe", "notify"}, p.ops())
}

func TestEnforceUnresolvedIsNoop(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true}
	e, _ := setup(p, nil)

	c := abusiveCase()
	c.Record.InternalID = 0
	out, err := e.Enforce(context.Background(), c)
	assert.ErrorIs(t, err, ErrUnresolvedTenant)
	assert.Equal(t, Outcome{}, out)
	assert.Empty(t, p.ops())
}

func TestEnforceSuspendFailure(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true, suspendErr: errors.New("http 500")}
	e, n := setup(p, nil)

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.Error(t, err)
	assert.False(t, out.Suspended)
	assert.Equal(t, "suspend_failed", out.Result())
	assert.Contains(t, out.Action(), "suspension FAILED")
	// no drift reset and no sweep
	assert.Equal(t, []string{"kill", "sleep", "wipe", "suspend", "notify"}, p.ops())
	require.Len(t, n.reports, 1)
	assert.False(t, n.reports[0].Outcome.Suspended)
}

func TestEnforceContinuesAfterFailures(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true, killErr: errors.New("offline")}
	e, _ := setup(p, errors.New("busy"))

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.Error(t, err)
	assert.False(t, out.Killed)
	assert.False(t, out.Wiped)
	assert.True(t, out.Suspended)
	// kill, first wipe and sweep wipe
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, p.ops(), "reset")
}

func TestEnforceSweepRecoversFailedWipe(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true}
	calls := 0
	e, n := setup(p, nil, WithWiper(func(_ context.Context, path string) error {
		p.add("wipe", path)
		calls++
		if calls == 1 {
			return errors.New("busy")
		}
		return nil
	}))

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, out.Wiped)
	assert.True(t, out.Suspended)
	assert.Equal(t, "Server killed, volume wiped, server suspended", out.Action())
	require.Len(t, n.reports, 1)
	assert.True(t, n.reports[0].Outcome.Wiped)
}

func TestNotifyGetsItsOwnTimeout(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}}
	var remaining time.Duration
	n := notifyFunc(func(ctx context.Context, _ Report) error {
		dl, ok := ctx.Deadline()
		require.True(t, ok)
		remaining = time.Until(dl)
		return nil
	})
	e := New(p, WithNotifier(n), WithStepTimeout(time.Second))

	_, err := e.Enforce(context.Background(), abusiveCase())
	require.NoError(t, err)
	assert.Greater(t, remaining, DefaultStepTimeout)
	assert.LessOrEqual(t, remaining, DefaultNotifyTimeout)
}

type notifyFunc func(context.Context, Report) error

func (f notifyFunc) Notify(ctx context.Context, r Report) error { return f(ctx, r) }

func TestEnforceWithoutWipe(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}}
	e, _ := setup(p, nil, WithWipeOnEnforce(false))

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.NoError(t, err)
	assert.False(t, out.Wiped)
	assert.Equal(t, []string{"suspend", "reset", "notify"}, p.ops())
	assert.Equal(t, "Server suspended", out.Action())
}

func TestEnforceDryRun(t *testing.T) {
	p := &fakePanel{recorder: &recorder{}, clientKey: true}
	e, n := setup(p, nil, WithDryRun(true))

	out, err := e.Enforce(context.Background(), abusiveCase())
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.Equal(t, "dry_run", out.Result())
	assert.Equal(t, []string{"notify"}, p.ops())
	require.Len(t, n.reports, 1)
	assert.Equal(t, "None (dry run)", n.reports[0].Outcome.Action())
}

func TestStepTimeout(t *testing.T) {
	e := New(&fakePanel{recorder: &recorder{}})
	err := e.step(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKillIdentifier(t *testing.T) {
	assert.Equal(t, "abcd", KillIdentifier(metadata.TenantRecord{VolumeID: "1a7ce997-x", Identifier: "abcd"}))
	assert.Equal(t, "1a7ce997", KillIdentifier(metadata.TenantRecord{VolumeID: "1a7ce997-2a4d"}))
	assert.Equal(t, "plain", KillIdentifier(metadata.TenantRecord{VolumeID: "plain"}))
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
