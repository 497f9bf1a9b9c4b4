package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// PrepareTempDir creates the job-scoped temp directory under
// "{temp_root}/orch_{source1_stem}_{unix_ts}/"
// and takes an advisory lock on it so two batch workers can never race on
// one job's scratch tree even if a caller submits the same job twice.
func PrepareTempDir(tempRoot, source1Path string) (dir string, unlock func() error, err error) {
	stem := strings.TrimSuffix(filepath.Base(source1Path), filepath.Ext(source1Path))
	dir = filepath.Join(tempRoot, fmt.Sprintf("orch_%s_%d", stem, time.Now().Unix()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating job temp dir: %w", err)
	}

	lockPath := filepath.Join(dir, ".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return "", nil, fmt.Errorf("locking job temp dir: %w", err)
	}
	if !locked {
		return "", nil, fmt.Errorf("job temp dir %s is already locked by another process", dir)
	}

	return dir, fl.Unlock, nil
}

// TeardownTempDir removes the job temp directory on a clean job completion.
// On failure the directory is deliberately left in place for post-mortem
// inspection — callers must not invoke this on the failure
// path.
func TeardownTempDir(dir string) error {
	return os.RemoveAll(dir)
}

func AssemblyDir(jobTempDir, stem string) string {
	return filepath.Join(jobTempDir, "assembly_"+stem)
}

func FFIndexDir(jobTempDir string) string {
	return filepath.Join(jobTempDir, "ffindex")
}

func ExtractedTrackPath(jobTempDir, source, stem string, trackID int, ext string) string {
	return filepath.Join(jobTempDir, fmt.Sprintf("%s_track_%s_%d.%s", source, stem, trackID, ext))
}

func AttachmentPath(jobTempDir, source string, id int, filename string) string {
	return filepath.Join(jobTempDir, fmt.Sprintf("%s_att_%d_%s", source, id, filename))
}

func ChaptersXMLPath(jobTempDir, source1Stem string) string {
	return filepath.Join(jobTempDir, source1Stem+"_chapters_modified.xml")
}

func SubtitleJSONPath(jobTempDir string, trackID int) string {
	return filepath.Join(jobTempDir, fmt.Sprintf("subtitle_data_track_%d.json", trackID))
}
