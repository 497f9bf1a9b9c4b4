package diagnostics

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxBundledFileSize keeps multi-GB extracted payloads out of post-mortem
// bundles; logs, EDLs, subtitle JSON and chapter XML are what matter.
const maxBundledFileSize = 32 << 20

// WriteCrashBundle archives a failed job's temp tree (small files only)
// plus the handler's log buffer into a zstd-compressed tarball next to the
// temp dir, and returns the bundle path.
func WriteCrashBundle(tempDir string, logBuffer []byte) (string, error) {
	outPath := strings.TrimSuffix(tempDir, string(os.PathSeparator)) + "_crash.tar.zst"
	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return "", err
	}
	defer zw.Close()
	tw := tar.NewWriter(zw)
	defer tw.Close()

	if len(logBuffer) > 0 {
		hdr := &tar.Header{Name: "job.log", Mode: 0o644, Size: int64(len(logBuffer))}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := tw.Write(logBuffer); err != nil {
			return "", err
		}
	}

	err = filepath.Walk(tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Size() > maxBundledFileSize {
			return nil // skip unreadables and oversized payloads, keep walking
		}
		rel, err := filepath.Rel(tempDir, path)
		if err != nil {
			return nil
		}
		hdr := &tar.Header{Name: rel, Mode: int64(info.Mode().Perm()), Size: info.Size()}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("bundling %s: %w", tempDir, err)
	}
	return outPath, nil
}
