// Package triage wraps the cheap title/body LLM classification (spec §4.6)
// with PR-cache memoization: a repeat query for a change whose difficulty is
// already cached is answered without invoking the model.
package triage

import (
	"context"
	"fmt"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/prcache"
	"github.com/forgebench/taskforge/internal/task"
)

// Classifier performs cached triage classification.
type Classifier struct {
	Triager llm.Triager
	Cache   prcache.Cache
}

// Classify returns the cached difficulty if present, otherwise invokes the
// triager and records the result before returning.
func (c *Classifier) Classify(ctx context.Context, repo string, changeNum int, title, body string) (task.Difficulty, error) {
	if cached, ok := c.Cache.TriageDifficulty(repo, changeNum); ok {
		return cached, nil
	}

	verdict, err := c.Triager.Triage(ctx, title, body)
	if err != nil {
		return "", fmt.Errorf("triage %s#%d: %w", repo, changeNum, err)
	}

	d := task.Difficulty(verdict.Difficulty)
	if !verdict.Accept || !task.ValidDifficulty(d) {
		d = ""
	}

	if err := c.Cache.Upsert(prcache.Entry{
		Repo: repo, ChangeNum: changeNum, TriageDifficulty: d,
	}); err != nil {
		// Cache-error is non-fatal (spec §7): triage result is still usable
		// for this run, it just won't be memoized.
		return d, nil
	}
	return d, nil
}

// QuotaAdmits reports whether a candidate with the given triage difficulty
// should proceed to extraction under a multi-target quota map: a change
// whose triage value is empty ("full/absent") or whose quota is zero/full is
// rejected pre-extraction (spec §4.6).
func QuotaAdmits(d task.Difficulty, targets map[task.Difficulty]int, completed map[task.Difficulty]int) bool {
	if targets == nil {
		return d != ""
	}
	if d == "" {
		return false
	}
	quota, ok := targets[d]
	if !ok || quota <= 0 {
		return false
	}
	return completed[d] < quota
}
