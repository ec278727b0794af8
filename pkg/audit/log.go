package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/terminus-io/warden/pkg/enforcer"
	"k8s.io/klog/v2"
)

// Entry is the persisted form of one enforcement.
type Entry struct {
	VolumeID    string    `json:"volume_id"`
	ServerID    int64     `json:"server_id"`
	Identifier  string    `json:"identifier"`
	DisplayName string    `json:"display_name"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail"`
	SizeGB      float64   `json:"size_gb"`
	QuotaGB     float64   `json:"quota_gb"`
	Killed      bool      `json:"killed"`
	Wiped       bool      `json:"wiped"`
	Suspended   bool      `json:"suspended"`
	DryRun      bool      `json:"dry_run"`
	Result      string    `json:"result"`
	Errors      string    `json:"errors,omitempty"`
	Time        time.Time `json:"time"`
}

// Log writes one JSON object per enforcement through an Uploader.
type Log struct {
	up     Uploader
	prefix string
}

func NewLog(up Uploader, prefix string) *Log {
	return &Log{up: up, prefix: strings.Trim(prefix, "/")}
}

// NewFromConfig returns nil when auditing is disabled.
func NewFromConfig(ctx context.Context, cfg Config) (*Log, error) {
	var (
		up  Uploader
		err error
	)
	switch cfg.Type {
	case SinkTypeNone:
		return nil, nil
	case SinkTypeLocalFS:
		up, err = NewLocalFSSink(cfg.LocalFS)
	case SinkTypeS3:
		up, err = NewS3Sink(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported audit sink type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	klog.InfoS("Audit log enabled", "type", cfg.Type, "prefix", cfg.Prefix)
	return NewLog(up, cfg.Prefix), nil
}

// Key returns the object path for an entry.
func (l *Log) Key(e Entry) string {
	key := fmt.Sprintf("enforcements/%s/%s-%d.json", e.Time.UTC().Format("2006-01-02"), e.VolumeID, e.Time.UnixNano())
	if l.prefix == "" {
		return key
	}
	return l.prefix + "/" + key
}

// Notify implements enforcer.Notifier.
func (l *Log) Notify(ctx context.Context, r enforcer.Report) error {
	if l == nil {
		return nil
	}
	e := Entry{
		VolumeID:    r.VolumeID,
		ServerID:    r.InternalID,
		Identifier:  r.Identifier,
		DisplayName: r.DisplayName,
		Reason:      r.Reason.Label(),
		Detail:      r.Detail,
		SizeGB:      r.SizeGB,
		QuotaGB:     r.QuotaGB,
		Killed:      r.Outcome.Killed,
		Wiped:       r.Outcome.Wiped,
		Suspended:   r.Outcome.Suspended,
		DryRun:      r.Outcome.DryRun,
		Result:      r.Outcome.Result(),
		Time:        r.Time,
	}
	if r.Outcome.Err != nil {
		e.Errors = r.Outcome.Err.Error()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := l.up.Upload(ctx, l.Key(e), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("audit upload %s: %w", l.Key(e), err)
	}
	return nil
}
