// Package source produces the stream of candidate change-events this core
// mines tasks from, and enriches each with repository metadata. Both the
// collector and the enrichment fetch are expressed as narrow capability
// interfaces — not a single fat client — the same shape the teacher draws
// between ci-agent/mapper.AgentRunner and its callers, so a concrete
// collector never needs to know about triage, rewriting, or validation.
package source

import (
	"context"
	"math/rand"
	"time"
)

// Event is the minimal record yielded by the collector for one candidate
// change.
type Event struct {
	Repo       string
	ChangeNum  int
	Action     string
	Actor      string
	HasOrg     bool
	MergedAt   time.Time
}

// minWindow/maxWindow clamp the rolling time window the collector scans,
// regardless of how many candidates were requested.
const (
	minWindow = 6 * time.Hour
	maxWindow = 12 * time.Hour
)

// Collector fetches raw change events for a time window. A concrete
// implementation talks to whatever source-control host is configured; it is
// an external collaborator of the core (spec §1 "External data-source
// collectors" are out of scope here — only this interface is).
type Collector interface {
	FetchEvents(ctx context.Context, since, until time.Time) ([]Event, error)
}

// WindowFor derives the rolling scan window from the requested candidate
// count: more candidates requested, wider window, clamped to [6h, 12h].
func WindowFor(requested int) time.Duration {
	w := time.Duration(requested) * 20 * time.Minute
	if w < minWindow {
		return minWindow
	}
	if w > maxWindow {
		return maxWindow
	}
	return w
}

// Collect pulls raw events for the window implied by requested, applies the
// pre-filters (merged-change action, non-zero change number, non-bot actor,
// org-owned repository), shuffles for topical diversity, and truncates to
// budget.
func Collect(ctx context.Context, collector Collector, requested, budget int, now time.Time) ([]Event, error) {
	window := WindowFor(requested)
	raw, err := collector.FetchEvents(ctx, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	filtered := make([]Event, 0, len(raw))
	for _, e := range raw {
		if !isMergedChange(e) || e.ChangeNum == 0 || isBot(e.Actor) || !e.HasOrg {
			continue
		}
		filtered = append(filtered, e)
	}

	rand.Shuffle(len(filtered), func(i, j int) { filtered[i], filtered[j] = filtered[j], filtered[i] })

	if budget > 0 && len(filtered) > budget {
		filtered = filtered[:budget]
	}
	return filtered, nil
}

func isMergedChange(e Event) bool {
	return e.Action == "merged-change"
}

func isBot(actor string) bool {
	return len(actor) >= 5 && actor[len(actor)-5:] == "[bot]"
}
