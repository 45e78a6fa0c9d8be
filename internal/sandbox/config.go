package sandbox

import "time"

// Default resource ceilings, fixed per sandbox (spec §5): not tunable from
// the core interface, same as the teacher's DefaultPodStartupTimeout being a
// compiled-in constant rather than a run-config field.
const (
	DefaultMemoryLimit = 32 << 30 // 32 GiB
	DefaultLifetime    = 2 * time.Hour
	DefaultStartupWait = 5 * time.Minute

	// DefaultImagePrefix is prepended to a language name to pick a base
	// image when no ImageOverride is given, e.g. "forge-sandbox/python".
	DefaultImagePrefix = "forge-sandbox"

	// containerdNamespace isolates this pipeline's containers/tasks from
	// any other containerd client sharing the same socket.
	containerdNamespace = "taskforge"

	// containerdSocket is the default local containerd API socket.
	containerdSocket = "/run/containerd/containerd.sock"
)

// Config controls how Sandboxes are created by the containerd-backed
// implementation.
type Config struct {
	// Socket is the containerd API socket path. Defaults to
	// containerdSocket.
	Socket string

	// Namespace scopes all containers created by this process.
	Namespace string

	// ImagesByLanguage overrides the default "{ImagePrefix}/{language}"
	// image naming scheme per language.
	ImagesByLanguage map[string]string

	// ImagePrefix is used to derive a default image reference when no
	// per-language override and no StartOptions.ImageOverride is given.
	ImagePrefix string
}

func (c Config) socket() string {
	if c.Socket != "" {
		return c.Socket
	}
	return containerdSocket
}

func (c Config) namespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return containerdNamespace
}

func (c Config) imageFor(language, override string) string {
	if override != "" {
		return override
	}
	if img, ok := c.ImagesByLanguage[language]; ok {
		return img
	}
	prefix := c.ImagePrefix
	if prefix == "" {
		prefix = DefaultImagePrefix
	}
	if language == "" {
		language = "generic"
	}
	return prefix + "/" + language
}
