package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// ErrSizeLimit reports that a stream exceeded the caller's byte limit.
var ErrSizeLimit = errors.New("size limit exceeded")

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// WriteNew streams r into a file that must not already exist and fsyncs it.
// A positive limit caps the number of bytes accepted; exceeding it returns
// ErrSizeLimit and leaves the partial file in place for the caller to handle.
func WriteNew(dst string, r io.Reader, limit int64) (int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	written, err := io.Copy(out, src)
	if err != nil {
		return written, err
	}
	if limit > 0 && written > limit {
		return written, fmt.Errorf("%s: %w (%d bytes)", filepath.Base(dst), ErrSizeLimit, limit)
	}
	if err := out.Sync(); err != nil {
		return written, err
	}
	return written, out.Close()
}

// Move renames src to dst, falling back to copy and remove when the two
// paths live on different filesystems. dst must not exist.
func Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: %w", dst, os.ErrExist)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	info, statErr := os.Stat(src)
	if statErr != nil {
		return statErr
	}
	if err := CopyFileMode(src, dst, info.Mode().Perm()); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
