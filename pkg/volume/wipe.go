package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Wipe deletes everything inside path, dotfiles included, and leaves path itself
// in place so mount points and directory ownership survive. A missing or already
// empty path is not an error. ctx is checked before every removal, so a large
// tree stops within one unlink of the deadline.
func Wipe(ctx context.Context, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrWipe, path, err)
	}

	klog.V(2).InfoS("Wiping volume", "path", path, "entries", len(entries))

	var (
		failed int
		errs   error
	)
	for _, e := range entries {
		target := filepath.Join(path, e.Name())
		if err := removeTree(ctx, target, e.IsDir()); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("%w: %s: %w", ErrWipe, path, cerr)
			}
			failed++
			errs = multierr.Append(errs, err)
			klog.V(2).InfoS("Failed to remove entry", "path", target, "err", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %s: %d entries left: %w", ErrWipe, path, failed, errs)
	}
	return nil
}

// removeTree deletes p bottom-up. Symlinks are removed, never followed.
func removeTree(ctx context.Context, p string, isDir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if isDir {
		children, err := os.ReadDir(p)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		var errs error
		for _, c := range children {
			if err := removeTree(ctx, filepath.Join(p, c.Name()), c.IsDir()); err != nil {
				if ctx.Err() != nil {
					return err
				}
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			return errs
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
