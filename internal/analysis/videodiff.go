package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
)

// VideoDiffResult is the structural-difference delay estimate the
// "VideoDiff" analysis mode produces instead of audio correlation.
type VideoDiffResult struct {
	DelayMs    int
	DelayRawMs float64
	Error      float64 // residual frame-difference error of the best offset
}

var videodiffRe = regexp.MustCompile(`\[Result\]\s+(?:ss|itsoffset):\s*(-?[\d.]+)s.*?error:\s*([\d.]+)`)

// RunVideoDiff invokes the external videodiff tool over the reference and
// target videos and parses its best-offset line. The error value is gated
// on the configured [min, max] band: an implausibly perfect or hopeless
// match both mean the estimate cannot be trusted.
func RunVideoDiff(ctx context.Context, videodiffBin, refPath, tgtPath string, s *config.Settings) (*VideoDiffResult, error) {
	out, err := execwrap.Capture(ctx, videodiffBin, []string{refPath, tgtPath})
	if err != nil {
		return nil, fmt.Errorf("videodiff: %w", err)
	}
	m := videodiffRe.FindSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("videodiff produced no [Result] line")
	}
	offsetS, err1 := strconv.ParseFloat(string(m[1]), 64)
	errVal, err2 := strconv.ParseFloat(string(m[2]), 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("videodiff result line unparseable: %q", m[0])
	}
	if errVal < s.VideodiffErrorMin || errVal > s.VideodiffErrorMax {
		return nil, fmt.Errorf("videodiff error %.2f outside accepted band [%.2f, %.2f]",
			errVal, s.VideodiffErrorMin, s.VideodiffErrorMax)
	}
	raw := offsetS * 1000
	return &VideoDiffResult{DelayMs: roundMs(raw), DelayRawMs: raw, Error: errVal}, nil
}
