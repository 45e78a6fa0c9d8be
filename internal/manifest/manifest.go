// Package manifest provides a file-backed stand-in for the source-control
// host collaborators spec.md §1 treats as external: Collector,
// MetadataFetcher, and DiffFetcher. Real deployments talk to a host API;
// this package lets the pipeline run end-to-end against a static snapshot,
// the same role a recorded fixture plays in the teacher's topgun harness.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/forgebench/taskforge/internal/source"
)

// Candidate is one entry of the manifest file: everything the Collector,
// MetadataFetcher, and DiffFetcher capabilities need for a single change.
type Candidate struct {
	Repo      string    `json:"repo"`
	ChangeNum int       `json:"change_num"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	HasOrg    bool      `json:"has_org"`
	MergedAt  time.Time `json:"merged_at"`

	Title        string `json:"title"`
	Body         string `json:"body"`
	BaseSHA      string `json:"base_sha"`
	MergeSHA     string `json:"merge_sha"`
	Language     string `json:"language"`
	Stars        int    `json:"stars"`
	FilesChanged int    `json:"files_changed"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`

	Diff string `json:"diff"`
}

// Driver implements source.Collector, source.MetadataFetcher, and
// patch.DiffFetcher over an in-memory set of Candidates keyed by
// "repo#change".
type Driver struct {
	byKey map[string]Candidate
	all   []Candidate
}

// Load reads a JSON array of Candidate from path.
func Load(path string) (*Driver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var cands []Candidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	d := &Driver{byKey: make(map[string]Candidate, len(cands)), all: cands}
	for _, c := range cands {
		d.byKey[key(c.Repo, c.ChangeNum)] = c
	}
	return d, nil
}

func key(repo string, changeNum int) string {
	return fmt.Sprintf("%s#%d", repo, changeNum)
}

// FetchEvents implements source.Collector: every manifest candidate whose
// MergedAt falls in [since, until) is yielded, regardless of window size,
// since a static manifest has no live firehose to page through.
func (d *Driver) FetchEvents(ctx context.Context, since, until time.Time) ([]source.Event, error) {
	events := make([]source.Event, 0, len(d.all))
	for _, c := range d.all {
		if c.MergedAt.Before(since) || !c.MergedAt.Before(until) {
			continue
		}
		events = append(events, source.Event{
			Repo: c.Repo, ChangeNum: c.ChangeNum, Action: c.Action,
			Actor: c.Actor, HasOrg: c.HasOrg, MergedAt: c.MergedAt,
		})
	}
	return events, nil
}

// FetchChangeMetadata implements source.MetadataFetcher.
func (d *Driver) FetchChangeMetadata(ctx context.Context, repo string, changeNum int) (source.ChangeMetadata, error) {
	c, ok := d.byKey[key(repo, changeNum)]
	if !ok {
		return source.ChangeMetadata{}, fmt.Errorf("manifest: no candidate for %s", key(repo, changeNum))
	}
	return source.ChangeMetadata{
		Title: c.Title, Body: c.Body, BaseSHA: c.BaseSHA, MergeSHA: c.MergeSHA,
		Language: c.Language, Stars: c.Stars, FilesChanged: c.FilesChanged,
		LinesAdded: c.LinesAdded, LinesRemoved: c.LinesRemoved,
	}, nil
}

// FetchDiff implements patch.DiffFetcher.
func (d *Driver) FetchDiff(ctx context.Context, repo, baseCommit, mergeCommit string) (string, error) {
	for _, c := range d.all {
		if c.Repo == repo && c.BaseSHA == baseCommit && c.MergeSHA == mergeCommit {
			return c.Diff, nil
		}
	}
	return "", fmt.Errorf("manifest: no diff for %s %s..%s", repo, baseCommit, mergeCommit)
}
