// Package rewrite implements the Prompt Rewriter: an LLM scrub of the PR
// description followed by a deterministic post-scrub of any literal
// repo/owner/change-number references the model left behind (spec §4.8).
package rewrite

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/task"
)

// Rewrite scrubs t's PR body into t.Prompt via rewriter, then strips every
// literal occurrence of owner/name, /name, #N, PR N, PR #N, pull/N, and the
// full GitHub URL. An empty result after scrubbing is a fatal error for this
// task.
func Rewrite(ctx context.Context, rewriter llm.Rewriter, t *task.Task) error {
	title := t.Meta["pr_title"]

	result, err := rewriter.Rewrite(ctx, t.Repo, title, t.OriginalPRBody)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", t.ID, err)
	}

	scrubbed := postScrub(result.Prompt, t.Repo, t.ChangeNum)
	if strings.TrimSpace(scrubbed) == "" {
		return fmt.Errorf("rewrite %s: empty prompt after scrub", t.ID)
	}

	t.Prompt = scrubbed
	return nil
}

// postScrub deterministically removes every literal reference to repo,
// its final path segment, and changeNum, regardless of what the model left
// in (spec §4.8). This runs even when the model call is otherwise trusted,
// because the model's own scrub is advisory, not enforced.
func postScrub(text, repo string, changeNum int) string {
	segments := strings.Split(repo, "/")
	name := segments[len(segments)-1]
	n := strconv.Itoa(changeNum)

	literals := []string{
		"https://github.com/" + repo,
		"pull/" + n,
		"PR #" + n,
		"PR " + n,
		"#" + n,
		repo,
		"/" + name,
	}
	out := text
	for _, lit := range literals {
		out = strings.ReplaceAll(out, lit, "")
	}
	out = extraWhitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

var extraWhitespace = regexp.MustCompile(`[ \t]{2,}`)
