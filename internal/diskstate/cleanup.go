package diskstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

// CleanupTempDir removes fragment/output files in tempDir that no file
// currently in q still references, matching the reference implementation's
// startup sweep of orphaned ".tmp"/".output" artifacts left by a prior
// crash (spec 4.9).
func CleanupTempDir(tempDir string, q *queue.Queue) error {
	referenced := make(map[string]bool)
	for _, n := range q.All() {
		for _, f := range n.Files {
			referenced[f.ID] = true
		}
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("diskstate: read temp dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileID := fileIDFromTempName(entry.Name())
		if fileID == "" || referenced[fileID] {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskstate: remove orphaned temp file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// fileIDFromTempName extracts the FileInfo.ID prefix from either naming
// scheme the Writer produces: "<id>.output" (direct-write mode) or
// "<id>.<part>.tmp" (fragment mode).
func fileIDFromTempName(name string) string {
	if id, ok := strings.CutSuffix(name, ".output"); ok {
		return id
	}
	if rest, ok := strings.CutSuffix(name, ".tmp"); ok {
		if i := strings.LastIndex(rest, "."); i >= 0 {
			return rest[:i]
		}
	}
	return ""
}
