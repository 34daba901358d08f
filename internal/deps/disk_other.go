//go:build !unix

package deps

import (
	"errors"
	"os"
)

// FreeBytes is unsupported on this platform.
func FreeBytes(string) (uint64, error) {
	return 0, errors.New("free space reporting is not supported on this platform")
}

func writableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}
