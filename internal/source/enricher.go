package source

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/cenkalti/backoff/v5"

	"github.com/forgebench/taskforge/internal/task"
)

// enrichMaxElapsed bounds how long a single candidate's metadata fetch may be
// retried before giving up and dropping the candidate (spec §7).
// enrichMaxAttempts additionally bounds the retry count so a host that fails
// deterministically on every call gives up in a handful of attempts rather
// than spinning until the elapsed-time ceiling.
const (
	enrichMaxElapsed  = 30 * time.Second
	enrichMaxAttempts = 4
)

// ChangeMetadata is what the enrichment capability fetches for one event.
type ChangeMetadata struct {
	Title        string
	Body         string
	BaseSHA      string
	MergeSHA     string
	Language     string
	Stars        int
	FilesChanged int
	LinesAdded   int
	LinesRemoved int
	ChangedPaths []string
}

// MetadataFetcher is the enrichment capability. A concrete implementation
// talks to whatever source-control host API is configured.
type MetadataFetcher interface {
	FetchChangeMetadata(ctx context.Context, repo string, changeNum int) (ChangeMetadata, error)
}

// EnrichResult pairs a successful fetch with the task-shaped record the rest
// of the pipeline works with.
type EnrichResult struct {
	Event Event
	Task  *task.Task
}

// Enrich fetches metadata for a single event and folds it into a new
// Enriched task record. A fetch failure drops only this candidate — callers
// must not treat it as batch-fatal (spec §4.4, §7 "candidate-fatal").
func Enrich(ctx context.Context, fetcher MetadataFetcher, ev Event) (EnrichResult, error) {
	logger := lagerctx.FromContext(ctx).Session("enrich", lager.Data{
		"repo": ev.Repo, "change": ev.ChangeNum,
	})

	meta, err := backoff.Retry(ctx, func() (ChangeMetadata, error) {
		m, err := fetcher.FetchChangeMetadata(ctx, ev.Repo, ev.ChangeNum)
		if err != nil {
			logger.Debug("fetch-retry", lager.Data{"error": err.Error()})
			return ChangeMetadata{}, err
		}
		return m, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(enrichMaxElapsed),
		backoff.WithMaxTries(enrichMaxAttempts),
	)
	if err != nil {
		logger.Error("fetch-failed", err)
		return EnrichResult{}, fmt.Errorf("enrich %s#%d: %w", ev.Repo, ev.ChangeNum, err)
	}

	t := task.New(ev.Repo, ev.ChangeNum)
	t.Language = meta.Language
	t.BaseCommit = meta.BaseSHA
	t.MergeCommit = meta.MergeSHA
	t.OriginalPRBody = meta.Body
	t.Meta["pr_title"] = meta.Title
	t.Meta["stars"] = fmt.Sprintf("%d", meta.Stars)
	t.Meta["files_changed"] = fmt.Sprintf("%d", meta.FilesChanged)
	t.Meta["lines_added"] = fmt.Sprintf("%d", meta.LinesAdded)
	t.Meta["lines_removed"] = fmt.Sprintf("%d", meta.LinesRemoved)
	if err := t.Transition(task.Enriched); err != nil {
		return EnrichResult{}, err
	}

	return EnrichResult{Event: ev, Task: t}, nil
}
