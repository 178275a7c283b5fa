package slack

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// CaptureEntry is one observed exchange as persisted for offline inspection.
type CaptureEntry struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	Params   map[string]string `json:"params"`
	Response json.RawMessage   `json:"response"`
}

// Capture persists every observed exchange to disk, one JSON file per
// exchange, for debugging payload shapes against a live workspace. It is
// only active when a capture directory is configured; all writes are best
// effort and never fail the load.
type Capture struct {
	dir string
}

// NewCapture returns nil when dir is empty, which disables capture.
func NewCapture(dir, slug string) *Capture {
	if dir == "" {
		return nil
	}
	return &Capture{dir: filepath.Join(dir, slug)}
}

func (c *Capture) Record(family Family, name string, entry CaptureEntry) {
	if c == nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		log.Printf("capture: %v", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Printf("capture: %v", err)
		return
	}
	base := fmt.Sprintf("%s-%s", family, strings.ReplaceAll(name, "/", "-"))
	if err := os.WriteFile(c.nextPath(base), data, 0o644); err != nil {
		log.Printf("capture: %v", err)
	}
}

// nextPath picks base.json, or base-N.json for the first N not yet on disk,
// so repeated captures of the same logical name never overwrite each other.
func (c *Capture) nextPath(base string) string {
	path := filepath.Join(c.dir, base+".json")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(c.dir, fmt.Sprintf("%s-%d.json", base, n))
	}
}
