package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultBasePath = "./audit"

type LocalFSSink struct {
	basePath string
}

func NewLocalFSSink(cfg LocalFSConfig) (*LocalFSSink, error) {
	base := cfg.BasePath
	if base == "" {
		base = defaultBasePath
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory %s: %w", base, err)
	}
	return &LocalFSSink{basePath: base}, nil
}

func (l *LocalFSSink) Upload(ctx context.Context, path string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(l.basePath, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if !strings.HasPrefix(full, filepath.Clean(l.basePath)+string(os.PathSeparator)) {
		return fmt.Errorf("audit path %q escapes base directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}

	tmp := full + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, full)
}
