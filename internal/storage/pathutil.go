package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	captureExt   = ".pcap"
	manifestExt  = ".json"
	timestampFmt = "20060102_150405"
)

// CycleFileName is the deterministic capture file name for one cycle:
// <prefix>_<YYYYmmdd_HHMMSS>_c<NNN>.pcap. Cycles are numbered from 1 in the name.
func CycleFileName(prefix string, cycle int, startedAt time.Time) string {
	return fmt.Sprintf("%s_%s_c%03d%s", prefix, startedAt.Format(timestampFmt), cycle+1, captureExt)
}

// CyclePath joins CycleFileName onto outdir. When that path already exists a numeric
// suffix is added so an earlier capture is never reused.
func CyclePath(outdir, prefix string, cycle int, startedAt time.Time) (string, error) {
	name := CycleFileName(prefix, cycle, startedAt)
	path := filepath.Join(outdir, name)
	base := strings.TrimSuffix(path, captureExt)
	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("check capture path %s: %w", path, err)
		}
		if n > 999 {
			return "", fmt.Errorf("no free capture path for %s", name)
		}
		path = fmt.Sprintf("%s_%d%s", base, n, captureExt)
	}
}

// SummaryPath is the run summary file for a prefix.
func SummaryPath(outdir, prefix string) string {
	return filepath.Join(outdir, prefix+"_summary.jsonl")
}

// ManifestPath is the sidecar that labels a capture file.
func ManifestPath(capturePath string) string {
	return capturePath + manifestExt
}
