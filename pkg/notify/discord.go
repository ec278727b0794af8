package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/terminus-io/warden/pkg/enforcer"
	"github.com/terminus-io/warden/pkg/utils"
	"k8s.io/klog/v2"
)

const (
	title        = "⚠️ Volume Abuse Detection"
	colorRed     = 0xff0000
	colorOrange  = 0xff8c00
	maxFieldSize = 1024
)

// DefaultMaxWait bounds retries of one notification. Callers should allow at
// least this long.
const DefaultMaxWait = 15 * time.Second

var errRetryable = errors.New("webhook temporarily unavailable")

type embedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp string       `json:"timestamp"`
}

type message struct {
	Embeds []embed `json:"embeds"`
}

// Discord posts enforcement reports to a Discord-compatible webhook.
type Discord struct {
	url     string
	http    *http.Client
	maxWait time.Duration
}

// NewDiscord returns nil when url is empty, which disables notifications.
func NewDiscord(url string, hc *http.Client) *Discord {
	if url == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Discord{url: url, http: hc, maxWait: DefaultMaxWait}
}

func (d *Discord) Notify(ctx context.Context, r enforcer.Report) error {
	if d == nil {
		return nil
	}
	body, err := json.Marshal(message{Embeds: []embed{buildEmbed(r)}})
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = d.maxWait

	err = backoff.Retry(func() error { return d.post(ctx, body) }, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	klog.V(2).InfoS("Notification delivered", "volume", r.VolumeID)
	return nil
}

func (d *Discord) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

func buildEmbed(r enforcer.Report) embed {
	color := colorRed
	if !r.Outcome.Suspended && !r.Outcome.DryRun {
		color = colorOrange
	}
	name := r.DisplayName
	if name == "" {
		name = "unknown"
	}
	details := r.Detail
	if r.QuotaGB > 0 {
		details += fmt.Sprintf("\nQuota: %s, measured: %s", utils.FormatGiB(r.QuotaGB), utils.FormatGiB(r.SizeGB))
	}
	return embed{
		Title: title,
		Color: color,
		Fields: []embedField{
			field("Volume", r.VolumeID),
			field("Name", name),
			field("Reason", r.Reason.String()),
			field("Details", details),
			field("Action Taken", r.Outcome.Action()),
		},
		Timestamp: r.Time.UTC().Format(time.RFC3339),
	}
}

func field(name, value string) embedField {
	// 预留代码块标记长度
	if limit := maxFieldSize - 16; len(value) > limit {
		for limit > 0 && !utf8.RuneStart(value[limit]) {
			limit--
		}
		value = value[:limit]
	}
	return embedField{Name: name, Value: "```fix\n" + value + "\n```"}
}
