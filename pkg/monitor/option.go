package monitor

import (
	"time"

	"github.com/terminus-io/warden/pkg/detector"
)

type Option func(*Monitor)

func WithInterval(d time.Duration) Option          { return func(m *Monitor) { m.interval = d } }
func WithThresholds(th detector.Thresholds) Option { return func(m *Monitor) { m.thresholds = th } }
func WithReserved(prefixes []string) Option        { return func(m *Monitor) { m.reserved = prefixes } }
func WithConcurrency(n int) Option                 { return func(m *Monitor) { m.concurrency = n } }
func WithMeasureTimeout(d time.Duration) Option    { return func(m *Monitor) { m.measureTimeout = d } }
func WithMetrics(r MetricsRecorder) Option         { return func(m *Monitor) { m.metrics = r } }
