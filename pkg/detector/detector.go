package detector

import (
	"fmt"

	"github.com/terminus-io/warden/pkg/metadata"
)

type Reason int

const (
	NotAbusive Reason = iota
	SuddenGrowth
	CumulativeGrowth
	QuotaExceeded
)

func (r Reason) String() string {
	switch r {
	case SuddenGrowth:
		return "Sudden Size Increase"
	case CumulativeGrowth:
		return "Cumulative Size Increase"
	case QuotaExceeded:
		return "Storage Limit Exceeded"
	default:
		return "Not Abusive"
	}
}

// Label is the short metric/audit form of the reason.
func (r Reason) Label() string {
	switch r {
	case SuddenGrowth:
		return "sudden_growth"
	case CumulativeGrowth:
		return "cumulative_growth"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "none"
	}
}

// DefaultQuotaHeadroom is a hard cutoff at the quota.
const DefaultQuotaHeadroom = 1.0

// Thresholds configures the rules. A non-positive threshold disables its rule.
type Thresholds struct {
	SuddenGrowthGB float64
	CumulativeGB   float64
	// QuotaHeadroom multiplies the quota before comparing, 1.1 tolerates 10% overrun.
	QuotaHeadroom float64
}

func (t Thresholds) headroom() float64 {
	if t.QuotaHeadroom <= 0 {
		return DefaultQuotaHeadroom
	}
	return t.QuotaHeadroom
}

type Verdict struct {
	Reason    Reason
	Detail    string
	CurrentGB float64
	DeltaGB   float64
	DriftGB   float64
	// LimitGB is the threshold or effective quota the reason was judged against.
	LimitGB float64
}

func (v Verdict) Abusive() bool { return v.Reason != NotAbusive }

// Growth returns the change since prev's last measurement and the drift after
// adding it. Only positive changes accumulate.
func Growth(current float64, prev metadata.TenantRecord) (delta, drift float64) {
	delta = current - prev.LastMeasuredGB
	drift = prev.CumulativeDriftGB
	if delta > 0 {
		drift += delta
	}
	return delta, drift
}

// Classify decides whether a volume is abusive. Rules are checked in a fixed
// order and the first match wins: sudden growth, cumulative growth, quota.
func Classify(current float64, prev metadata.TenantRecord, th Thresholds) Verdict {
	delta, drift := Growth(current, prev)
	v := Verdict{CurrentGB: current, DeltaGB: delta, DriftGB: drift}

	switch {
	case th.SuddenGrowthGB > 0 && delta >= th.SuddenGrowthGB:
		v.Reason = SuddenGrowth
		v.LimitGB = th.SuddenGrowthGB
		v.Detail = fmt.Sprintf("Volume size increased by %.2fGB (threshold %.2fGB)\nCumulative change: %.2fGB",
			delta, th.SuddenGrowthGB, drift)

	case th.CumulativeGB > 0 && drift >= th.CumulativeGB:
		v.Reason = CumulativeGrowth
		v.LimitGB = th.CumulativeGB
		v.Detail = fmt.Sprintf("Total accumulated changes: %.2fGB (threshold %.2fGB)\nCurrent size: %.2fGB",
			drift, th.CumulativeGB, current)

	case prev.QuotaGB > 0 && current > prev.QuotaGB*th.headroom():
		v.Reason = QuotaExceeded
		v.LimitGB = prev.QuotaGB * th.headroom()
		v.Detail = fmt.Sprintf("Current size: %.2fGB\nMax allowed: %.2fGB", current, prev.QuotaGB)

	default:
		v.Reason = NotAbusive
		v.Detail = fmt.Sprintf("Volume changed by %.2fGB (cumulative: %.2fGB), size %.2fGB of %.2fGB quota",
			delta, drift, current, prev.QuotaGB)
	}

	return v
}
