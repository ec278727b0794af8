package metadata

import "time"

type Option func(*Directory)

// WithSnapshotTTL sets how long a fetched server list is reused. A non-positive
// value refetches on every cycle.
func WithSnapshotTTL(d time.Duration) Option { return func(s *Directory) { s.snapshotTTL = d } }

// WithRecordTTL sets the lifetime of per-volume records, and with it of the
// cumulative drift they carry. A non-positive value keeps records forever.
func WithRecordTTL(d time.Duration) Option { return func(s *Directory) { s.recordTTL = d } }

func WithFetchTimeout(d time.Duration) Option { return func(s *Directory) { s.fetchTimeout = d } }
func WithClock(now func() time.Time) Option   { return func(s *Directory) { s.now = now } }
