package filter

import (
	"testing"

	"github.com/forgebench/taskforge/internal/task"
)

func baseConfig() Config {
	return Config{
		Languages:       map[string]bool{"go": true, "python": true},
		MinStars:        10,
		MinFilesChanged: 1,
		MaxFilesChanged: 20,
		MinLinesAdded:   1,
		MaxLinesAdded:   500,
	}
}

func TestEvaluateAccepts(t *testing.T) {
	tk := task.New("owner/repo", 1)
	tk.Language = "go"
	d := Evaluate(baseConfig(), tk, 50, 3, 40)
	if !d.Accepted {
		t.Fatalf("expected accept, got reasons %v", d.Reasons)
	}
}

func TestEvaluateRejectsLanguage(t *testing.T) {
	tk := task.New("owner/repo", 1)
	tk.Language = "rust"
	d := Evaluate(baseConfig(), tk, 50, 3, 40)
	if d.Accepted {
		t.Fatal("expected reject for unsupported language")
	}
}

func TestEvaluateRejectsLowStars(t *testing.T) {
	tk := task.New("owner/repo", 1)
	tk.Language = "go"
	d := Evaluate(baseConfig(), tk, 1, 3, 40)
	if d.Accepted {
		t.Fatal("expected reject for low stars")
	}
}

func TestEvaluateRejectsOutOfRangeChangeSize(t *testing.T) {
	tk := task.New("owner/repo", 1)
	tk.Language = "go"
	d := Evaluate(baseConfig(), tk, 50, 100, 40)
	if d.Accepted {
		t.Fatal("expected reject for too many files changed")
	}
}
