// Package prcache implements the PR Cache: a single-writer, many-reader
// store that deduplicates candidates and memoizes triage results across
// pipeline runs. It is the only state the core persists across process
// restarts.
package prcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/forgebench/taskforge/internal/task"
)

var bucketEntries = []byte("pr_entries")

// Entry is the cached state for a single (repo, change) pair.
type Entry struct {
	Repo             string          `json:"repo"`
	ChangeNum        int             `json:"change_number"`
	Status           task.Status     `json:"status"`
	TriageDifficulty task.Difficulty `json:"triage_difficulty,omitempty"`
	ExportedAt       time.Time       `json:"exported_at,omitempty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
}

// Cache is the PR Cache contract from spec §4.3. Implementations must be
// safe under many concurrent stage-worker goroutines.
type Cache interface {
	ShouldSkip(repo string, changeNum int) bool
	TriageDifficulty(repo string, changeNum int) (task.Difficulty, bool)
	Upsert(e Entry) error
	MarkRejected(repo string, changeNum int, reason string) error
	MarkExported(repo string, changeNum int) error
	LogStats(logf func(format string, args ...any))
	Close() error
}

// BoltCache is a BoltDB-backed Cache: single-writer transactions serialize
// all mutation, and bbolt's MVCC readers never block a concurrent writer.
type BoltCache struct {
	db *bolt.DB

	// stats are maintained in-memory for LogStats; they are best-effort,
	// rebuilt from zero on every process start, and incremented from many
	// concurrent stage-worker goroutines (internal/pipeline runs one per
	// candidate), hence atomic rather than plain ints.
	hits, skips, exports, rejects atomic.Int64
}

// Open opens (creating if needed) a BoltDB-backed PR cache at
// {dataDir}/prcache.db.
func Open(dataDir string) (*BoltCache, error) {
	dbPath := filepath.Join(dataDir, "prcache.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening pr cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing pr cache buckets: %w", err)
	}
	return &BoltCache{db: db}, nil
}

func key(repo string, changeNum int) []byte {
	return []byte(fmt.Sprintf("%s#%d", repo, changeNum))
}

func (c *BoltCache) get(repo string, changeNum int) (Entry, bool) {
	var e Entry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get(key(repo, changeNum))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		found = true
		return nil
	})
	return e, found
}

// ShouldSkip reports whether (repo, changeNum) has already reached a
// terminal, already-handled status (Exported or Rejected).
func (c *BoltCache) ShouldSkip(repo string, changeNum int) bool {
	e, ok := c.get(repo, changeNum)
	if !ok {
		return false
	}
	skip := e.Status == task.Exported || e.Status == task.Rejected
	if skip {
		c.skips.Add(1)
	}
	return skip
}

// TriageDifficulty returns the cached triage value for (repo, changeNum),
// if present, so a repeat query is served without invoking the LLM.
func (c *BoltCache) TriageDifficulty(repo string, changeNum int) (task.Difficulty, bool) {
	e, ok := c.get(repo, changeNum)
	if !ok || e.TriageDifficulty == "" {
		return "", false
	}
	c.hits.Add(1)
	return e.TriageDifficulty, true
}

// Upsert writes e into the cache under (e.Repo, e.ChangeNum), replacing any
// existing entry for that key as a whole; fields are not merged.
func (c *BoltCache) Upsert(e Entry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key(e.Repo, e.ChangeNum), data)
	})
}

// MarkRejected records a terminal rejection with its reason.
func (c *BoltCache) MarkRejected(repo string, changeNum int, reason string) error {
	e, _ := c.get(repo, changeNum)
	e.Repo = repo
	e.ChangeNum = changeNum
	e.Status = task.Rejected
	e.RejectionReason = reason
	c.rejects.Add(1)
	return c.Upsert(e)
}

// MarkExported records a terminal export. Per spec invariant 3 this should
// be called at most once per (repo, changeNum) in a given run; callers in
// internal/pipeline enforce that under the per-difficulty mutex before
// calling here.
func (c *BoltCache) MarkExported(repo string, changeNum int) error {
	e, _ := c.get(repo, changeNum)
	e.Repo = repo
	e.ChangeNum = changeNum
	e.Status = task.Exported
	e.ExportedAt = time.Now()
	c.exports.Add(1)
	return c.Upsert(e)
}

// LogStats emits a human-readable summary of this process's cache activity.
func (c *BoltCache) LogStats(logf func(format string, args ...any)) {
	logf("pr-cache stats: triage-hits=%d skips=%d exports=%d rejects=%d", c.hits.Load(), c.skips.Load(), c.exports.Load(), c.rejects.Load())
}

// Close releases the underlying BoltDB file handle.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
