package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFileMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileMode(src, dst, 0o755); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	// Check executable bits are set (umask may clear some bits).
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("expected executable bits, got %v", info.Mode().Perm())
	}
}

func TestWriteNew(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a.jpg")
	n, err := WriteNew(dst, strings.NewReader("jpeg bytes"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("jpeg bytes")) {
		t.Fatalf("unexpected byte count %d", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "jpeg bytes" {
		t.Fatalf("content mismatch: got %q", got)
	}

	if _, err := WriteNew(dst, strings.NewReader("other"), 0); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist for existing destination, got %v", err)
	}
}

func TestWriteNewEnforcesLimit(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "big.png")
	if _, err := WriteNew(dst, strings.NewReader("0123456789"), 4); !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected size limit error, got %v", err)
	}
	if _, err := WriteNew(filepath.Join(t.TempDir(), "ok.png"), strings.NewReader("0123"), 4); err != nil {
		t.Fatalf("exact limit should succeed: %v", err)
	}
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sub", "c.png")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "moved.png")
	if err := Move(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source to be gone, got %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "png" {
		t.Fatalf("unexpected moved content %q", got)
	}
	if err := os.WriteFile(src, []byte("again"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Move(src, dst); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected move onto existing file to fail, got %v", err)
	}
}
