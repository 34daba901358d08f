package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"colabsfm/internal/api"
	"colabsfm/internal/testsupport"
)

func TestRegionUploadAndUploadsFlow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"region", "create", "alpha"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("region create: %v", err)
	}
	requireContains(t, out, "alpha: "+api.MessageRegionInitialized)

	dir := t.TempDir()
	image := filepath.Join(dir, "a.jpg")
	testsupport.WriteFile(t, image, 128)
	out, _, err = runCLI(t, []string{"upload", "images", "alpha", image, "--user", "pilot"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("upload images: %v", err)
	}
	requireContains(t, out, api.MessageImagesUploaded)
	requireContains(t, out, "stored:  1 file(s)")

	out, _, err = runCLI(t, []string{"uploads", "alpha", "--json"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("uploads --json: %v", err)
	}
	var uploads []api.Upload
	if err := json.Unmarshal([]byte(out), &uploads); err != nil {
		t.Fatalf("decode uploads: %v\n%s", err, out)
	}
	if len(uploads) != 1 || uploads[0].UserID != "pilot" || uploads[0].SizeBytes != 128 {
		t.Fatalf("unexpected uploads %+v", uploads)
	}

	out, _, err = runCLI(t, []string{"uploads", "alpha"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}
	requireContains(t, out, "pilot")
	requireContains(t, out, "128 B")

	out, _, err = runCLI(t, []string{"region", "list"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("region list: %v", err)
	}
	requireContains(t, out, "alpha")
}

func TestUploadFolderZipAndReconstruct(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"region", "create", "beta"}, env.addr, env.configPath); err != nil {
		t.Fatalf("region create: %v", err)
	}

	folder := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(folder, "one.jpg"), 8)
	testsupport.WriteFile(t, filepath.Join(folder, "nested", "two.png"), 8)
	out, _, err := runCLI(t, []string{"upload", "folder", "beta", folder}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("upload folder: %v", err)
	}
	requireContains(t, out, "stored:  2 file(s)")

	archive := filepath.Join(t.TempDir(), "set.zip")
	data := testsupport.ZipBytes(t, map[string][]byte{"x.jpg": []byte("x"), "readme.txt": []byte("r")})
	if err := os.WriteFile(archive, data, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	out, _, err = runCLI(t, []string{"upload", "zip", "beta", archive}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("upload zip: %v", err)
	}
	requireContains(t, out, api.MessageArchiveUploaded)
	requireContains(t, out, "stored:  1 file(s)")

	out, _, err = runCLI(t, []string{"reconstruct", "beta"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	requireContains(t, out, api.MessageReconstructionStart)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if calls := testsupport.ReadCalls(t, env.cfg); len(calls) >= 4 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected two extractions and a reconstruction, got %v", testsupport.ReadCalls(t, env.cfg))
}

func TestMissingRegionSurfacesDetail(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"reconstruct", "ghost"}, env.addr, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "COLMAP")
	requireContains(t, out, "[OK]")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Workers != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTokenFromConfig(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAPIToken("s3cret"))
	if _, _, err := runCLI(t, []string{"region", "list"}, env.addr, env.configPath); err != nil {
		t.Fatalf("region list with config token: %v", err)
	}
	_, _, err := runCLI(t, []string{"region", "list", "--token", "wrong"}, env.addr, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 with wrong token, got %v", err)
	}
}

func TestDialAddress(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0:8000":   "127.0.0.1:8000",
		":8000":          "127.0.0.1:8000",
		"10.0.0.5:9000":  "10.0.0.5:9000",
		"localhost:7000": "localhost:7000",
	}
	for in, want := range cases {
		if got := dialAddress(in); got != want {
			t.Fatalf("dialAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 5 << 20: "5.0 MiB"}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderStatusSections(t *testing.T) {
	lines := renderStatus(api.DaemonStatus{
		PID:           42,
		UptimeSeconds: 90,
		QueueBackend:  "sqlite",
		Workers:       2,
		Dependencies:  []api.DependencyStatus{{Name: "COLMAP", Available: false, Detail: "binary \"colmap\" not found"}},
		QueueStats:    map[string]int{"failed": 1, "queued": 3},
	}, false)
	out := strings.Join(lines, "\n")
	for _, want := range []string{"pid 42, up 1m30s", "sqlite, 2 worker(s)", "[ERROR] binary", "Failed:", "[WARN] 1", "Queued:", "[INFO] 3"} {
		requireContains(t, out, want)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatal("expected no ANSI codes without colorize")
	}
}
