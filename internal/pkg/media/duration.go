package media

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/executils"
)

// ProbeDuration uses ffprobe to get a file's duration in seconds.
// Falls back to the existing GetAudioDurationSeconds if ffprobe is
// not available.
func ProbeDuration(path string) (float64, error) {
	// Try ffprobe first (machine-readable output)
	ffprobePath, err := exec.LookPath("ffprobe")
	if err == nil {
		cmd := executils.NewCommand(ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		)
		out, err := cmd.Output()
		if err == nil {
			s := strings.TrimSpace(string(out))
			if val, err := strconv.ParseFloat(s, 64); err == nil && val > 0 {
				return val, nil
			}
		}
	}
	// Fallback to ffmpeg stderr parsing
	return GetAudioDurationSeconds(path)
}

// FormatDuration formats seconds into a human-readable string like
// "23m 45s" or "1h 12m 34s".
func FormatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}
