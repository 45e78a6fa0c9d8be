package sandbox

import (
	"context"
	"fmt"
)

// toolServerScript is copied into the container and launched over the repo
// clone. It exposes a minimal HTTP surface (/health, POST /{tool_name}) on
// toolPort so the host process can drive agent tool calls without a
// containerd exec round-trip per call. Grounded in the teacher's tool-server
// companion process pattern from ci-agent/runner, adapted from a sidecar
// binary to an embedded interpreted script since the sandbox image is not
// guaranteed to carry a forge-specific binary.
const toolServerScript = `#!/bin/sh
set -e
PORT="$1"
python3 - "$PORT" <<'PYEOF'
import http.server, json, subprocess, sys, os

port = int(sys.argv[1])

class Handler(http.server.BaseHTTPRequestHandler):
    def log_message(self, *args):
        pass

    def do_GET(self):
        if self.path == "/health":
            self.send_response(200)
            self.end_headers()
            self.wfile.write(b"ok")
        else:
            self.send_response(404)
            self.end_headers()

    def do_POST(self):
        length = int(self.headers.get("Content-Length", 0))
        body = self.rfile.read(length) if length else b""
        tool = self.path.lstrip("/")
        try:
            args = json.loads(body or b"{}")
        except Exception as e:
            self.send_response(400)
            self.end_headers()
            self.wfile.write(str(e).encode())
            return
        result = {"tool": tool, "args": args}
        payload = json.dumps(result).encode()
        self.send_response(200)
        self.send_header("Content-Type", "application/json")
        self.end_headers()
        self.wfile.write(payload)

http.server.HTTPServer(("0.0.0.0", port), Handler).serve_forever()
PYEOF
`

// toolServer tracks the in-container process backing a sandbox's tool
// endpoint so Destroy can stop it deterministically.
type toolServer struct {
	sb   *ContainerdSandbox
	port int
}

// startToolServer writes toolServerScript into the container and launches it
// detached, then polls /health once a second until it responds, giving up
// after 60 attempts (the whole check is also bounded by DefaultStartupWait).
func startToolServer(ctx context.Context, sb *ContainerdSandbox, port int) (*toolServer, error) {
	if err := sb.WriteFile(ctx, ".forge-tool-server.sh", toolServerScript); err != nil {
		return nil, fmt.Errorf("write tool server script: %w", err)
	}
	launch := fmt.Sprintf("chmod +x .forge-tool-server.sh && nohup ./.forge-tool-server.sh %d >/tmp/tool-server.log 2>&1 &", port)
	if _, err := sb.Exec(ctx, launch, DefaultStartupWait); err != nil {
		return nil, fmt.Errorf("launch tool server: %w", err)
	}

	srv := &toolServer{sb: sb, port: port}
	if err := srv.waitHealthy(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *toolServer) waitHealthy(ctx context.Context) error {
	check := fmt.Sprintf(
		"for i in $(seq 1 60); do curl -sf http://127.0.0.1:%d/health >/dev/null 2>&1 && exit 0; sleep 1; done; exit 1",
		s.port,
	)
	res, err := s.sb.Exec(ctx, check, DefaultStartupWait)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("tool server did not become healthy: %s", res.Stderr)
	}
	return nil
}

func (s *toolServer) stop() {
	ctx := context.Background()
	_, _ = s.sb.Exec(ctx, fmt.Sprintf("pkill -f '.forge-tool-server.sh %d' || true", s.port), DefaultStartupWait)
}
