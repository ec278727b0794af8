package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB
)

// ParseGiB 把阈值解析为 GiB。
// 纯数字按 GiB 处理，带单位的按 Kubernetes quantity 解析 ("5Gi", "500Mi", "1T")。
func ParseGiB(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative size %q", s)
		}
		return v, nil
	}

	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if q.Sign() < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return BytesToGiB(q.Value()), nil
}

func BytesToGiB(b int64) float64 {
	return float64(b) / GiB
}

// MiBToGiB converts the panel's disk limit unit.
func MiBToGiB(mib int64) float64 {
	return float64(mib) / 1024
}

// FormatGiB renders a GiB amount for humans, e.g. "12 GiB".
func FormatGiB(gb float64) string {
	if gb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(gb * GiB))
}
