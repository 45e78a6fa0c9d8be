// Package sandbox provides an ephemeral, network-restricted, container-per-task
// execution environment. Each Sandbox owns exactly one containerd task and is
// guaranteed-released on every exit path: success, rejection, error, early
// termination, or process shutdown (spec §4.1, §9 "Sandbox cleanup on any exit").
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StartOptions configures Sandbox creation.
type StartOptions struct {
	Repo           string
	BaseCommit     string
	Language       string
	ImageOverride  string
	MemoryLimit    int64         // bytes; default 32 GiB per spec §5.
	Lifetime       time.Duration // watchdog ceiling; default 2h per spec §5.
}

// ExecResult is the outcome of a single command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// TimedOut reports whether this result represents the synthetic timeout
// outcome (exit_code = -1, spec §4.1).
func (r ExecResult) TimedOut() bool {
	return r.ExitCode == -1
}

// StartError indicates the container could not be created or the repo could
// not be cloned at all (container-start failure class, spec §7).
type StartError struct {
	Repo   string
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("sandbox start failed for %s: %s: %v", e.Repo, e.Reason, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ErrInvalidPath is returned by WriteFile/ReadFile when the given path fails
// the hard security boundary checks (spec §9 "Path validation").
var ErrInvalidPath = errors.New("sandbox: invalid relative path")

// ErrInvalidToolName is returned by ToolRequest when tool_name doesn't match
// [A-Za-z0-9_]+.
var ErrInvalidToolName = errors.New("sandbox: invalid tool name")

// ToolServerTimeout bounds every tool_request call at a hard wall clock,
// independent of the command's own timeout (spec §4.1, §5).
const ToolServerTimeout = 65 * time.Second

// Sandbox is the per-task ephemeral execution environment contract (spec §4.1).
type Sandbox interface {
	// Exec runs a shell command with working directory fixed at the
	// repository root, bounded by timeout. On timeout it returns
	// ExitCode=-1 without destroying the container.
	Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)

	// WriteFile validates relativePath and writes content, creating
	// intermediate directories as needed.
	WriteFile(ctx context.Context, relativePath, content string) error

	// ReadFile validates relativePath and returns its contents.
	ReadFile(ctx context.Context, relativePath string) (string, error)

	// ToolRequest posts jsonArgs to the in-container tool server's
	// /{toolName} endpoint and returns its response, bounded by
	// ToolServerTimeout.
	ToolRequest(ctx context.Context, toolName string, jsonArgs []byte) (ExecResult, error)

	// Destroy idempotently removes the container and any resources it
	// holds. Safe to call more than once and safe to call after a failed
	// Start.
	Destroy(ctx context.Context) error

	// Name returns this sandbox's unique container name, used by callers
	// for log correlation and by tests asserting sandbox closure.
	Name() string
}
