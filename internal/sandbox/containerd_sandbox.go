package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/forgebench/taskforge/internal/metric"
)

// ContainerdSandbox is the production Sandbox backed by a single containerd
// task. It replaces the teacher's Kubernetes-Pod-per-step worker
// (atc/worker/jetbridge) with a bare local container-per-task runtime, since
// the core here schedules one sandbox per mined task rather than one pod per
// pipeline step across a cluster.
type ContainerdSandbox struct {
	name     string
	toolPort int
	repo     string

	client    *containerd.Client
	container containerd.Container
	task      containerd.Task

	mu       sync.Mutex
	destroyed bool

	toolSrv *toolServer
}

var _ Sandbox = (*ContainerdSandbox)(nil)

// Start creates a fresh container, installs git, clones the repo, checks
// out the base revision, and starts the in-container tool server on a port
// unique to this sandbox (spec §4.1).
func Start(ctx context.Context, cfg Config, opts StartOptions) (*ContainerdSandbox, error) {
	logger := lagerctx.FromContext(ctx).Session("sandbox-start", lager.Data{
		"repo": opts.Repo,
	})

	client, err := containerd.New(cfg.socket())
	if err != nil {
		return nil, &StartError{Repo: opts.Repo, Reason: "connect-containerd", Err: err}
	}
	ctx = namespaces.WithNamespace(ctx, cfg.namespace())

	name := generateName(opts.Repo, 0)
	toolPort := generateToolPort()

	image, err := client.Pull(ctx, cfg.imageFor(opts.Language, opts.ImageOverride), containerd.WithPullUnpack)
	if err != nil {
		client.Close()
		return nil, &StartError{Repo: opts.Repo, Reason: "pull-image", Err: err}
	}

	memLimit := opts.MemoryLimit
	if memLimit == 0 {
		memLimit = DefaultMemoryLimit
	}

	container, err := client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithMemoryLimit(uint64(memLimit)),
			oci.WithProcessArgs("sleep", strconv.Itoa(int(lifetimeOrDefault(opts.Lifetime).Seconds()))),
		),
	)
	if err != nil {
		client.Close()
		return nil, &StartError{Repo: opts.Repo, Reason: "create-container", Err: err}
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		client.Close()
		return nil, &StartError{Repo: opts.Repo, Reason: "create-task", Err: err}
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		client.Close()
		return nil, &StartError{Repo: opts.Repo, Reason: "start-task", Err: err}
	}

	sb := &ContainerdSandbox{
		name:     name,
		toolPort: toolPort,
		repo:     opts.Repo,
		client:   client,
		container: container,
		task:     task,
	}

	metric.Metrics.SandboxesCreated.Inc()

	// Install git when the image does not already carry it; a failure here
	// surfaces as a clone failure below.
	gitCmd := "command -v git >/dev/null 2>&1 || (apt-get update -qq && apt-get install -y -qq git >/dev/null 2>&1)"
	if gitRes, gitErr := sb.Exec(ctx, gitCmd, DefaultStartupWait); gitErr != nil || gitRes.ExitCode != 0 {
		logger.Info("git-install-failed", lager.Data{"exit_code": gitRes.ExitCode, "stderr": gitRes.Stderr})
	}

	// git clone + checkout; a failed checkout degrades to best-effort HEAD
	// with a warning rather than failing the whole sandbox (spec §4.1).
	cloneCmd := fmt.Sprintf(
		"git clone --quiet https://github.com/%s.git . && (git checkout --quiet %s || echo 'warning: checkout of %s failed, staying on HEAD' >&2)",
		opts.Repo, shellQuote(opts.BaseCommit), shellQuote(opts.BaseCommit),
	)
	res, err := sb.Exec(ctx, cloneCmd, DefaultStartupWait)
	if err != nil || (res.ExitCode != 0 && !strings.Contains(res.Stderr, "checkout of")) {
		logger.Error("clone-failed", err, lager.Data{"exit_code": res.ExitCode, "stderr": res.Stderr})
		sb.Destroy(ctx)
		return nil, &StartError{Repo: opts.Repo, Reason: "clone-repo", Err: fmt.Errorf("exit %d: %s", res.ExitCode, res.Stderr)}
	}

	srv, err := startToolServer(ctx, sb, toolPort)
	if err != nil {
		logger.Error("tool-server-start-failed", err)
		sb.Destroy(ctx)
		return nil, &StartError{Repo: opts.Repo, Reason: "start-tool-server", Err: err}
	}
	sb.toolSrv = srv

	return sb, nil
}

// Factory adapts Start to the narrow SandboxFactory shape callers outside
// this package depend on (internal/validator in particular), so those
// callers need not import Config directly nor take *ContainerdSandbox.
type Factory struct {
	Cfg Config
}

func (f Factory) Start(ctx context.Context, opts StartOptions) (Sandbox, error) {
	return Start(ctx, f.Cfg, opts)
}

func lifetimeOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLifetime
	}
	return d
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (s *ContainerdSandbox) Name() string { return s.name }

// Exec runs command via the task's exec API with a fixed working directory
// of the repo root ("/repo", the image's WORKDIR by convention) and enforces
// timeout by racing process completion against a timer; on timeout the
// process is killed but the container is left alive (spec §4.1, §5).
func (s *ContainerdSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())

	var stdout, stderr bytes.Buffer
	process, err := s.task.Exec(ctx, execID, &specs.Process{
		Args: []string{"/bin/sh", "-c", command},
		Cwd:  "/repo",
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	}, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec wait setup: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return ExecResult{}, fmt.Errorf("exec start: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return ExecResult{}, fmt.Errorf("exec result: %w", err)
		}
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: int(code)}, nil
	case <-timer.C:
		_ = process.Kill(ctx, 9)
		return ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String() + fmt.Sprintf("\ntimed out after %s", timeout),
			ExitCode: -1,
		}, nil
	case <-ctx.Done():
		_ = process.Kill(ctx, 9)
		return ExecResult{}, ctx.Err()
	}
}

// WriteFile validates relativePath then streams content into the container
// via a shell pipeline, creating intermediate directories as needed.
func (s *ContainerdSandbox) WriteFile(ctx context.Context, relativePath, content string) error {
	if !validateRelativePath(relativePath) {
		return ErrInvalidPath
	}
	dir := "$(dirname " + shellQuote(relativePath) + ")"
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", dir, shellQuote(relativePath))
	res, err := s.execWithStdin(ctx, cmd, content, 30*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write_file %s: exit %d: %s", relativePath, res.ExitCode, res.Stderr)
	}
	return nil
}

// ReadFile validates relativePath and returns its contents.
func (s *ContainerdSandbox) ReadFile(ctx context.Context, relativePath string) (string, error) {
	if !validateRelativePath(relativePath) {
		return "", ErrInvalidPath
	}
	res, err := s.Exec(ctx, "cat "+shellQuote(relativePath), 30*time.Second)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read_file %s: exit %d: %s", relativePath, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func (s *ContainerdSandbox) execWithStdin(ctx context.Context, command, stdin string, timeout time.Duration) (ExecResult, error) {
	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	var stdout, stderr bytes.Buffer
	process, err := s.task.Exec(ctx, execID, &specs.Process{
		Args: []string{"/bin/sh", "-c", command},
		Cwd:  "/repo",
	}, cio.NewCreator(cio.WithStreams(strings.NewReader(stdin), &stdout, &stderr)))
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec wait setup: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return ExecResult{}, fmt.Errorf("exec start: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return ExecResult{}, fmt.Errorf("exec result: %w", err)
		}
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: int(code)}, nil
	case <-timer.C:
		_ = process.Kill(ctx, 9)
		return ExecResult{ExitCode: -1, Stderr: "timed out"}, nil
	case <-ctx.Done():
		_ = process.Kill(ctx, 9)
		return ExecResult{}, ctx.Err()
	}
}

// ToolRequest posts jsonArgs to the in-container tool server over the
// host-reachable unique port (the container shares the host network
// namespace, spec §5) and is bounded by the hard 65s tool-server timeout.
func (s *ContainerdSandbox) ToolRequest(ctx context.Context, toolName string, jsonArgs []byte) (ExecResult, error) {
	if !validToolName(toolName) {
		return ExecResult{}, ErrInvalidToolName
	}
	ctx, cancel := context.WithTimeout(ctx, ToolServerTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/%s", s.toolPort, toolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonArgs))
	if err != nil {
		return ExecResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ExecResult{ExitCode: -1, Stderr: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecResult{}, err
	}
	exit := 0
	if resp.StatusCode >= 400 {
		exit = 1
	}
	return ExecResult{Stdout: string(body), ExitCode: exit}, nil
}

// Destroy idempotently tears down the tool server, task, container, and
// snapshot. Safe to call multiple times and safe to call on a partially
// started sandbox.
func (s *ContainerdSandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	if s.toolSrv != nil {
		s.toolSrv.stop()
	}

	var firstErr error
	if s.task != nil {
		if _, err := s.task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	if s.container != nil {
		if err := s.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	if s.client != nil {
		s.client.Close()
	}
	metric.Metrics.SandboxesDestroyed.Inc()
	return firstErr
}

// DestroyBestEffort is the last-resort safety net mirroring the teacher's
// Drop-based synchronous container removal, for call sites that cannot
// otherwise guarantee a release path (spec §9).
func (s *ContainerdSandbox) DestroyBestEffort() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = s.Destroy(ctx)
}
