package enforcer

import (
	"context"
	"time"
)

type Option func(*Enforcer)

func WithWiper(w WipeFunc) Option              { return func(e *Enforcer) { e.wipe = w } }
func WithWipeOnEnforce(b bool) Option          { return func(e *Enforcer) { e.wipeOnEnforce = b } }
func WithGracePeriod(d time.Duration) Option   { return func(e *Enforcer) { e.grace = d } }
func WithStepTimeout(d time.Duration) Option   { return func(e *Enforcer) { e.stepTimeout = d } }
func WithNotifyTimeout(d time.Duration) Option { return func(e *Enforcer) { e.notifyTimeout = d } }
func WithWipeTimeout(d time.Duration) Option   { return func(e *Enforcer) { e.wipeTimeout = d } }
func WithDryRun(b bool) Option                 { return func(e *Enforcer) { e.dryRun = b } }
func WithDriftResetter(r DriftResetter) Option { return func(e *Enforcer) { e.drift = r } }
func WithClock(now func() time.Time) Option    { return func(e *Enforcer) { e.now = now } }
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(e *Enforcer) { e.sleep = f }
}

// WithNotifier 注册通知渠道, 可多次调用
func WithNotifier(n Notifier) Option {
	return func(e *Enforcer) {
		if n != nil {
			e.notifiers = append(e.notifiers, n)
		}
	}
}
