// Package safe provides file and value helpers with the validations the
// report and configuration code rely on.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize bounds ReadFile when no limit is given (16MB).
const DefaultMaxFileSize = 16 << 20

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// MaxSize is the maximum accepted file size. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks follows a symlinked path instead of rejecting it.
	AllowSymlinks bool
}

// ReadFile reads a regular file after checking its type and size.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	clean := filepath.Clean(path)
	info, err := os.Lstat(clean)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
		if info, err = os.Stat(clean); err != nil {
			return nil, err
		}
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, maxSize)
	}

	// #nosec G304 - path validated above.
	return os.ReadFile(clean)
}

// WriteFile replaces path with the output of write. The content goes to a
// temporary file in the same directory which is renamed over path once
// complete, so readers never observe a partial file. A zero perm means 0644.
func WriteFile(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	if perm == 0 {
		perm = 0o644
	}
	clean := filepath.Clean(path)

	tmp, err := os.CreateTemp(filepath.Dir(clean), "."+filepath.Base(clean)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), clean)
}
