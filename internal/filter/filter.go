// Package filter implements the Local Filter: a pure, deterministic
// accept/reject decision over metadata only, with no I/O (spec §4.5).
package filter

import "github.com/forgebench/taskforge/internal/task"

// Config bounds the metadata-only acceptance window.
type Config struct {
	Languages       map[string]bool
	MinStars        int
	MinFilesChanged int
	MaxFilesChanged int
	MinLinesAdded   int
	MaxLinesAdded   int
}

// Decision records the accept/reject outcome plus human-readable reasons,
// useful both for logging and for scenario-test assertions.
type Decision struct {
	Accepted bool
	Reasons  []string
}

// Evaluate applies cfg to t's enrichment metadata. languages is matched
// case-sensitively against the already-lowercased task.Language.
func Evaluate(cfg Config, t *task.Task, stars, filesChanged, linesAdded int) Decision {
	var reasons []string

	if len(cfg.Languages) > 0 && !cfg.Languages[t.Language] {
		reasons = append(reasons, "language "+t.Language+" not in configured set")
	}
	if stars < cfg.MinStars {
		reasons = append(reasons, "stars below threshold")
	}
	if cfg.MinFilesChanged > 0 && filesChanged < cfg.MinFilesChanged {
		reasons = append(reasons, "too few files changed")
	}
	if cfg.MaxFilesChanged > 0 && filesChanged > cfg.MaxFilesChanged {
		reasons = append(reasons, "too many files changed")
	}
	if cfg.MinLinesAdded > 0 && linesAdded < cfg.MinLinesAdded {
		reasons = append(reasons, "too few lines added")
	}
	if cfg.MaxLinesAdded > 0 && linesAdded > cfg.MaxLinesAdded {
		reasons = append(reasons, "too many lines added")
	}

	if len(reasons) == 0 {
		reasons = []string{"within configured bounds"}
	}
	return Decision{Accepted: len(reasons) == 1 && reasons[0] == "within configured bounds", Reasons: reasons}
}
