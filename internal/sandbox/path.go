package sandbox

import (
	"path"
	"path/filepath"
	"strings"
)

// shellMetachars are the characters disallowed in a sandbox-relative path.
// This is a hard security boundary (spec §9), not a convenience: write_file
// and read_file must never let a path escape into shell interpretation.
const shellMetachars = "\x00$`&|;<>(){}*?~!\n\r\"'\\"

// validateRelativePath enforces: no shell metacharacters, no parent
// traversal, no absolute paths. Grounded on the same three checks
// ci-agent/fix.ParseFixPatches applies to agent-supplied patch paths.
func validateRelativePath(p string) bool {
	if p == "" {
		return false
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	if strings.ContainsAny(p, shellMetachars) {
		return false
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return false
	}
	if clean == "." {
		return false
	}
	return true
}

// validToolName reports whether name uses only the accepted alphabet for tool_request tool names
// (spec §6: "Tool names are restricted to [A-Za-z0-9_]+").
func validToolName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
