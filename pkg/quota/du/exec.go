package du

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/terminus-io/warden/pkg/quota"
	"github.com/terminus-io/warden/pkg/utils"
	"k8s.io/klog/v2"
)

// maxOutput caps what we keep from du; a summary line is a few dozen bytes.
const maxOutput = 64 * 1024

type DuCLI struct {
	bin string
}

func NewDuCLI() *DuCLI { return &DuCLI{bin: "du"} }

func init() {
	quota.Register(quota.MethodDu, func() quota.Estimator { return NewDuCLI() })
}

func (d *DuCLI) Name() string { return string(quota.MethodDu) }

func (d *DuCLI) Estimate(ctx context.Context, path string) (float64, error) {
	s, err := d.Sample(ctx, path)
	if err != nil {
		return 0, err
	}
	return utils.BytesToGiB(s.Bytes()), nil
}

func (d *DuCLI) Sample(ctx context.Context, path string) (quota.Sample, error) {
	// -b: apparent bytes; -B1: allocated blocks in bytes
	apparent, err := d.run(ctx, "-s", "-b", path)
	if err != nil {
		return quota.Sample{}, err
	}
	allocated, err := d.run(ctx, "-s", "-B1", path)
	if err != nil {
		return quota.Sample{}, err
	}
	return quota.Sample{ApparentBytes: apparent, AllocatedBytes: allocated}, nil
}

func (d *DuCLI) run(ctx context.Context, args ...string) (int64, error) {
	klog.V(5).InfoS("Exec: du", "args", args)

	out := &limitedBuffer{max: maxOutput}
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Stdout = out

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: du %v: %w", quota.ErrMeasurement, args, ctx.Err())
	}

	size, parseErr := parseSummary(out.String())
	if parseErr != nil {
		if runErr != nil {
			return 0, fmt.Errorf("%w: du %v: %v", quota.ErrMeasurement, args, runErr)
		}
		return 0, fmt.Errorf("%w: %v", quota.ErrMeasurement, parseErr)
	}

	// du exits 1 when some entries were unreadable but still prints a total
	var exitErr *exec.ExitError
	if runErr != nil && errors.As(runErr, &exitErr) {
		klog.V(2).InfoS("du reported partial failure", "args", args, "code", exitErr.ExitCode())
	} else if runErr != nil {
		return 0, fmt.Errorf("%w: du %v: %v", quota.ErrMeasurement, args, runErr)
	}
	return size, nil
}

func parseSummary(out string) (int64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected du output format: %q", out)
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
