package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"colabsfm/internal/config"
)

func TestCheck(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Kind: KindBinary, Target: present},
		{Name: "Missing", Kind: KindBinary, Target: " clearly-not-present-binary "},
		{Name: "Optional", Kind: KindBinary, Optional: true},
		{Name: "Root", Kind: KindDirectory, Target: binDir},
		{Name: "File as dir", Kind: KindDirectory, Target: present},
	}

	results := Check(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected present binary to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Target != "clearly-not-present-binary" {
		t.Fatalf("target not trimmed: %q", results[1].Target)
	}
	if results[2].Detail != "binary not configured" {
		t.Fatalf("unexpected detail for empty target: %s", results[2].Detail)
	}
	if !results[3].Available {
		t.Fatalf("expected temp dir to be writable, got %#v", results[3])
	}
	if results[4].Available {
		t.Fatal("expected a regular file to fail the directory check")
	}

	missing := MissingRequired(results)
	if len(missing) != 2 || missing[0] != "Missing" || missing[1] != "File as dir" {
		t.Fatalf("unexpected missing list %v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Colmap.Binary = "/opt/colmap/bin/colmap"
	cfg.Paths.RootDir = "/srv/regions"
	reqs := Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("unexpected requirements %+v", reqs)
	}
	if reqs[0].Kind != KindBinary || reqs[0].Target != "/opt/colmap/bin/colmap" || reqs[0].Optional {
		t.Fatalf("unexpected colmap requirement %+v", reqs[0])
	}
	if reqs[1].Kind != KindDirectory || reqs[1].Target != "/srv/regions" {
		t.Fatalf("unexpected root requirement %+v", reqs[1])
	}
	if Requirements(nil) != nil {
		t.Fatal("expected nil requirements for nil config")
	}
}

func TestFreeBytes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("free space reporting is unix only")
	}
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected non-zero free space for temp dir")
	}
	if _, err := FreeBytes(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}
