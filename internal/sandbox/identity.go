package sandbox

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const maxNameLen = 63

var nonAlphanumHyphen = regexp.MustCompile(`[^a-z0-9-]`)
var multiHyphen = regexp.MustCompile(`-{2,}`)

// basePort is the start of the tool-server port range; a unique suffix is
// added per sandbox to avoid collisions across concurrent sandboxes sharing
// host-level port space (spec §4.1 "Uniqueness").
const basePort = 31000
const portRange = 20000

// sequence disambiguates sandboxes created within the same process tick,
// since a wall-clock suffix alone can collide under high concurrency.
var sequence uint64

// generateName produces a container name for repo/changeNum that is unique
// across concurrently-running sandboxes: a sanitized repo segment, a
// wall-clock suffix, and a monotonic in-process sequence number, mirroring
// the teacher's GeneratePodName suffix scheme but adding the sequence
// counter since our suffix space is smaller (DNS-label-safe, 63 chars).
func generateName(repo string, changeNum int) string {
	seg := sanitizeSegment(repo, 30)
	if seg == "" {
		seg = "task"
	}
	n := atomic.AddUint64(&sequence, 1)
	suffix := fmt.Sprintf("%d-%d", time.Now().UnixNano()%1_000_000, n)
	name := fmt.Sprintf("forge-%s-%d-%s", seg, changeNum, suffix)
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return strings.TrimRight(name, "-")
}

// generateToolPort derives a tool-server port for this sandbox by hashing a
// random UUID into [basePort, basePort+portRange), so the choice does not
// depend on the wall clock. Ports are not reserved or checked for use: two
// sandboxes can still draw the same port by chance.
func generateToolPort() int {
	id := uuid.New()
	sum := 0
	for _, b := range id[:] {
		sum = sum*31 + int(b)
	}
	if sum < 0 {
		sum = -sum
	}
	return basePort + sum%portRange
}

func sanitizeSegment(s string, maxLen int) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = nonAlphanumHyphen.ReplaceAllString(s, "")
	s = multiHyphen.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimRight(s, "-")
}
