//go:build live
// +build live

package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/forgebench/taskforge/internal/sandbox"
)

// Exercised only against a real containerd socket (`go test -tags live`),
// same gating the teacher uses for its live_e2e_test.go against a real
// cluster rather than the fake clientset used elsewhere in the package.
func TestLiveStartExecDestroy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sb, err := sandbox.Start(ctx, sandbox.Config{}, sandbox.StartOptions{
		Repo:       "octocat/Hello-World",
		BaseCommit: "master",
		Language:   "generic",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sb.DestroyBestEffort()

	res, err := sb.Exec(ctx, "ls", 30*time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("Exec exit code = %d, stderr = %s", res.ExitCode, res.Stderr)
	}

	if err := sb.WriteFile(ctx, "probe.txt", "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	content, err := sb.ReadFile(ctx, "probe.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "hello" {
		t.Fatalf("ReadFile = %q, want hello", content)
	}

	if err := sb.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}
