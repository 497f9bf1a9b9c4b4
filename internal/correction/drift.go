package correction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
)

// palTempo is the exact speed ratio undoing a 23.976->25 fps speed-up:
// the corrected track plays at 23.976/25 of the source rate.
const palTempo = (24000.0 / 1001.0) / 25.0

// correctDriftTrack resamples one audio track of a drifting source and
// swaps the corrected FLAC into its PlanItem, attaching the preserved
// original alongside the replacement.
func correctDriftTrack(ctx context.Context, job *core.Job, item *core.PlanItem, pal bool, rateMsPerS float64) (*core.PlanItem, error) {
	s := job.Settings
	log := job.Handler.ZeroLog()

	var tempo float64
	var label string
	if pal {
		tempo = palTempo
		label = " (PAL Corrected)"
	} else {
		tempo = 1000 / (1000 + rateMsPerS)
		label = " (Drift Corrected)"
	}

	stem := strings.TrimSuffix(filepath.Base(item.ExtractedPath), filepath.Ext(item.ExtractedPath))
	outPath := filepath.Join(job.TempDir, stem+"_corrected.flac")

	engine := media.ResampleEngine(s.SegmentResampleEngine)
	opts := media.RubberbandOptions{
		Transients: s.SegmentRubberbandTransients,
		Smoother:   s.SegmentRubberbandSmoother,
		PitchQ:     s.SegmentRubberbandPitchQ,
	}
	if err := media.ApplyTempo(ctx, engine, opts, tempo, item.ExtractedPath, outPath); err != nil {
		return nil, fmt.Errorf("resampling %s: %w", item.ExtractedPath, err)
	}
	log.Info().Str("track", item.PairKey()).Float64("tempo", tempo).Msg("drift-corrected track written")

	preserved := item.Preserve(" (Original)")

	item.ExtractedPath = outPath
	item.Track.CodecID = "A_FLAC"
	item.Track.Name = item.Track.Name + label
	item.IsCorrected = true
	item.ContainerDelayMs = 0 // the corrected FLAC carries no container delay

	return &preserved, nil
}
