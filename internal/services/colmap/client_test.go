package colmap_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"colabsfm/internal/services"
	"colabsfm/internal/services/colmap"
)

type stubExecutor struct {
	lines  []string
	failOn string
	args   [][]string
	binary string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	s.binary = binary
	s.args = append(s.args, append([]string(nil), args...))
	for _, line := range s.lines {
		onOutput(line)
	}
	if len(args) > 0 && args[0] == s.failOn {
		return errors.New("exit status 1")
	}
	return nil
}

func TestArgumentContract(t *testing.T) {
	exec := &stubExecutor{}
	client, err := colmap.New("/opt/colmap/bin/colmap", "0", colmap.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := context.Background()
	if err := client.ExtractFeatures(ctx, "/r/database.db", "/r/images"); err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if err := client.MatchExhaustive(ctx, "/r/database.db"); err != nil {
		t.Fatalf("MatchExhaustive: %v", err)
	}
	if err := client.Map(ctx, "/r/database.db", "/r/images", "/r/sparse"); err != nil {
		t.Fatalf("Map: %v", err)
	}

	want := []string{
		"feature_extractor --database_path /r/database.db --image_path /r/images --type 0",
		"exhaustive_matcher --database_path /r/database.db",
		"mapper --database_path /r/database.db --image_path /r/images --output_path /r/sparse",
	}
	if len(exec.args) != len(want) {
		t.Fatalf("expected %d invocations, got %d", len(want), len(exec.args))
	}
	for i, args := range exec.args {
		if got := strings.Join(args, " "); got != want[i] {
			t.Fatalf("invocation %d = %q, want %q", i, got, want[i])
		}
	}
	if exec.binary != "/opt/colmap/bin/colmap" {
		t.Fatalf("unexpected binary %q", exec.binary)
	}
}

func TestFailureIsExternalProcessErrorWithTail(t *testing.T) {
	exec := &stubExecutor{lines: []string{"loading database", "", "ERROR: no images"}, failOn: colmap.Mapper}
	client, err := colmap.New("colmap", "0", colmap.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = client.Map(context.Background(), "db", "images", "sparse")
	if !errors.Is(err, services.ErrExternalProcess) {
		t.Fatalf("expected external process error, got %v", err)
	}
	for _, fragment := range []string{"mapper", "ERROR: no images", "loading database | ERROR: no images"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, err.Error())
		}
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := colmap.New("  ", "0"); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
