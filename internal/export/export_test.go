package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgebench/taskforge/internal/task"
)

func sampleTask() *task.Task {
	tk := task.New("owner/repo", 7)
	tk.Prompt = "Fix the widget so it stops leaking memory under load."
	tk.OriginalPRBody = "original unscrubbed text"
	tk.FailToPass = []string{"go test ./... -run TestWidget"}
	tk.PassToPass = []string{"go test ./... -run TestOther"}
	tk.TestFiles = []task.TestFile{{Path: "pkg/widget_test.go", Content: "package pkg"}}
	tk.DifficultyScore = "medium"
	return tk
}

func TestWriteProducesExpectedLayout(t *testing.T) {
	dir := t.TempDir()
	tk := sampleTask()

	out, err := Write(Layout{OutputDir: dir}, tk)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out != filepath.Join(dir, tk.ID) {
		t.Fatalf("unexpected output dir: %s", out)
	}

	for _, name := range []string{"prompt.md", "original_pr.md", "workspace.yaml", "checks.txt"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	for _, name := range []string{"widget_test.go", "fail_to_pass_1.sh", "pass_to_pass_1.sh"} {
		if _, err := os.Stat(filepath.Join(out, "tests", name)); err != nil {
			t.Errorf("expected tests/%s to exist: %v", name, err)
		}
	}
	if tk.WorkspacePath != out {
		t.Fatalf("WorkspacePath not set: %s", tk.WorkspacePath)
	}
	if tk.Meta["test_files"] == "" {
		t.Fatal("expected meta.test_files synced before export")
	}
}

func TestWritePerDifficultyLayout(t *testing.T) {
	dir := t.TempDir()
	tk := sampleTask()
	out, err := Write(Layout{OutputDir: dir, PerDifficulty: true}, tk)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := filepath.Join(dir, "medium-tasks", tk.ID)
	if out != want {
		t.Fatalf("out = %s, want %s", out, want)
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	if err := sink.Put(sampleTask()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty jsonl file")
	}
}
