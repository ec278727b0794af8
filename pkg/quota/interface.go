package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

var ErrMeasurement = errors.New("volume measurement failed")

// DefaultTimeout bounds a single volume measurement.
const DefaultTimeout = 10 * time.Second

// Estimator reports the on-disk footprint of a directory tree in GiB.
// Implementations must return max(apparent size, allocated blocks) so sparse
// files and block overhead are both accounted for.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, path string) (float64, error)
}

// Sample is the raw outcome of one walk over a volume.
type Sample struct {
	ApparentBytes  int64
	AllocatedBytes int64
}

// Bytes picks the larger of the two accountings.
func (s Sample) Bytes() int64 {
	return max(s.ApparentBytes, s.AllocatedBytes)
}

// SizeGB measures path with a hard timeout and returns 0 on any failure. A zero
// result therefore means "unknown", not "empty".
func SizeGB(ctx context.Context, e Estimator, path string, timeout time.Duration) float64 {
	size, err := Measure(ctx, e, path, timeout)
	if err != nil {
		return 0
	}
	return size
}

// Measure is SizeGB with the error kept, for callers that must tell an unknown
// size apart from an empty volume.
func Measure(ctx context.Context, e Estimator, path string, timeout time.Duration) (float64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	size, err := e.Estimate(ctx, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			klog.ErrorS(err, "Timeout while measuring volume", "path", path, "estimator", e.Name(), "timeout", timeout)
		} else {
			klog.ErrorS(err, "Failed to measure volume", "path", path, "estimator", e.Name())
		}
		if !errors.Is(err, ErrMeasurement) {
			err = fmt.Errorf("%w: %w", ErrMeasurement, err)
		}
		return 0, err
	}

	klog.V(4).InfoS("Measured volume", "path", path, "sizeGB", size, "took", time.Since(start))
	return size, nil
}
