package walk

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/terminus-io/warden/pkg/quota"
	"github.com/terminus-io/warden/pkg/utils"
	"k8s.io/klog/v2"
)

// st_blocks is always counted in 512-byte units regardless of the fs block size.
const statBlockSize = 512

type Walker struct{}

func NewWalker() *Walker { return &Walker{} }

func init() {
	quota.Register(quota.MethodWalk, func() quota.Estimator { return NewWalker() })
}

func (w *Walker) Name() string { return string(quota.MethodWalk) }

func (w *Walker) Estimate(ctx context.Context, path string) (float64, error) {
	s, err := w.Sample(ctx, path)
	if err != nil {
		return 0, err
	}
	return utils.BytesToGiB(s.Bytes()), nil
}

// Sample walks path without following symlinks. Apparent size sums regular
// files; allocated size counts the blocks of every entry, directories included. Entries
// that vanish mid-walk are skipped, the tree is expected to change underneath us.
func (w *Walker) Sample(ctx context.Context, path string) (quota.Sample, error) {
	var s quota.Sample

	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if p == path {
				return err
			}
			klog.V(5).InfoS("Skipping unreadable entry", "path", p, "err", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		// 目录本身也占用磁盘块, 只有普通文件计入表观大小
		if d.Type().IsRegular() {
			s.ApparentBytes += info.Size()
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			s.AllocatedBytes += int64(st.Blocks) * statBlockSize
		}
		return nil
	})
	if err != nil {
		return quota.Sample{}, fmt.Errorf("%w: walk %s: %w", quota.ErrMeasurement, path, err)
	}

	return s, nil
}
