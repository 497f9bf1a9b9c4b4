package correction

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
)

// fill decisions smaller than this are ignored: sub-10 ms gaps are inside
// the correlation noise floor and cutting for them does more harm than
// good.
const fillThresholdMs = 10

// smartFillCorrThreshold: below this confidence the reference content has
// no counterpart in the analysis track, so the gap is genuinely missing
// content rather than a pure timing shift.
const smartFillCorrThreshold = 30.0

// FillMode selects how widened gaps are filled.
type FillMode string

const (
	FillAuto    FillMode = "auto"
	FillSilence FillMode = "silence"
	FillContent FillMode = "content"
)

// AssemblyInput is everything one EDL application needs.
type AssemblyInput struct {
	PCM        []int32 // interleaved target samples
	Channels   int
	Layout     string // decoder channel_layout name, "" to omit
	SampleRate int
	EDL        core.EDL
	FillMode   FillMode

	// RefContent decodes fill content from the reference at a reference-
	// timeline position, matching the target's channel count and rate.
	// Nil disables content fill (QA assemblies use silence only).
	RefContent func(ctx context.Context, startS, durS float64) ([]int32, error)

	// RefMono/AnalysisMono are the mono correlation buffers the auto fill
	// decision cross-checks against.
	RefMono      []float64
	AnalysisMono []float64
	MonoRate     int

	ResampleEngine media.ResampleEngine
	Rubberband     media.RubberbandOptions
}

// AssembleEDL applies an EDL to decoded PCM and writes the corrected
// FLAC to outPath. Per-segment scratch files live under a
// dedicated assembly subdirectory and are removed on success.
func AssembleEDL(ctx context.Context, job *core.Job, in AssemblyInput, outPath string) error {
	if !in.EDL.Valid() {
		return fmt.Errorf("refusing to assemble from an invalid EDL")
	}
	log := job.Handler.ZeroLog()

	stem := trimExt(filepath.Base(outPath))
	dir := core.AssemblyDir(job.TempDir, stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	frame := in.Channels // samples per frame
	totalFrames := len(in.PCM) / frame
	frameAt := func(t float64) int {
		f := int(t * float64(in.SampleRate))
		if f < 0 {
			f = 0
		}
		if f > totalFrames {
			f = totalFrames
		}
		return f
	}

	var parts []string
	cursor := in.EDL[0].DelayMs

	for i, seg := range in.EDL {
		segStart := frameAt(seg.StartS)
		segEnd := totalFrames
		if i+1 < len(in.EDL) {
			segEnd = frameAt(in.EDL[i+1].StartS)
		}

		if i > 0 {
			deltaMs := seg.DelayMs - cursor
			switch {
			case deltaMs > fillThresholdMs:
				fillPath, err := writeFill(ctx, job, in, dir, i, seg, cursor, deltaMs)
				if err != nil {
					return err
				}
				parts = append(parts, fillPath)
			case deltaMs < -fillThresholdMs:
				drop := int(float64(-deltaMs) / 1000 * float64(in.SampleRate))
				segStart += drop
				if segStart > segEnd {
					segStart = segEnd
				}
				log.Debug().Int("segment", i).Int("dropped_ms", -deltaMs).Msg("trimmed segment head")
			}
			cursor = seg.DelayMs
		}

		if segEnd <= segStart {
			continue
		}
		segPath := filepath.Join(dir, fmt.Sprintf("segment_%03d.flac", i))
		slice := in.PCM[segStart*frame : segEnd*frame]
		if err := media.EncodePCMInt32ToFLAC(ctx, slice, in.Channels, in.Layout, in.SampleRate, segPath); err != nil {
			return err
		}

		if math.Abs(seg.DriftRateMsPerS) > 0.5 {
			stretched := filepath.Join(dir, fmt.Sprintf("segment_%03d_stretched.flac", i))
			tempo := 1000 / (1000 + seg.DriftRateMsPerS)
			if err := media.ApplyTempo(ctx, in.ResampleEngine, in.Rubberband, tempo, segPath, stretched); err != nil {
				return fmt.Errorf("stretching segment %d: %w", i, err)
			}
			segPath = stretched
		}
		parts = append(parts, segPath)
	}

	if len(parts) == 0 {
		return fmt.Errorf("EDL assembly produced no segments")
	}
	if err := media.ConcatFLAC(ctx, parts, outPath); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// writeFill produces the gap-fill FLAC for a widened gap per the fill
// mode.
func writeFill(ctx context.Context, job *core.Job, in AssemblyInput, dir string, segIdx int, seg core.AudioSegment, cursorMs, deltaMs int) (string, error) {
	log := job.Handler.ZeroLog()
	durS := float64(deltaMs) / 1000

	useContent := false
	switch in.FillMode {
	case FillContent:
		useContent = in.RefContent != nil
	case FillAuto:
		if in.RefContent != nil {
			useContent = contentMissingFromAnalysis(in, seg, cursorMs)
		}
	}

	if useContent {
		refStartS := seg.StartS - float64(cursorMs)/1000
		content, err := in.RefContent(ctx, refStartS, durS)
		if err == nil && len(content) > 0 {
			p := filepath.Join(dir, fmt.Sprintf("content_%03d.flac", segIdx))
			if err := media.EncodePCMInt32ToFLAC(ctx, content, in.Channels, in.Layout, in.SampleRate, p); err != nil {
				return "", err
			}
			log.Info().Int("segment", segIdx).Int("gap_ms", deltaMs).Msg("gap filled with reference content")
			return p, nil
		}
		log.Warn().Int("segment", segIdx).Err(err).Msg("content fill failed, inserting silence")
	}

	frames := int(durS * float64(in.SampleRate))
	silence := make([]int32, frames*in.Channels)
	p := filepath.Join(dir, fmt.Sprintf("silence_%03d.flac", segIdx))
	if err := media.EncodePCMInt32ToFLAC(ctx, silence, in.Channels, in.Layout, in.SampleRate, p); err != nil {
		return "", err
	}
	log.Info().Int("segment", segIdx).Int("gap_ms", deltaMs).Msg("gap filled with silence")
	return p, nil
}

// contentMissingFromAnalysis implements the auto fill decision: correlate
// the reference around the boundary against the analysis region around the
// boundary; a poor match means the analysis track is missing that content
// and the reference should supply it.
func contentMissingFromAnalysis(in AssemblyInput, seg core.AudioSegment, cursorMs int) bool {
	if len(in.RefMono) == 0 || len(in.AnalysisMono) == 0 || in.MonoRate == 0 {
		return false
	}
	window := 2.0 // seconds of context on each side
	refStartS := seg.StartS - float64(cursorMs)/1000

	refWin, ok1 := monoSlice(in.RefMono, in.MonoRate, refStartS-window/2, window)
	anaWin, ok2 := monoSlice(in.AnalysisMono, in.MonoRate, seg.StartS-window/2, window)
	if !ok1 || !ok2 {
		return false
	}
	_, conf := dsp.SCC(refWin, anaWin, in.MonoRate)
	return conf < smartFillCorrThreshold
}

func monoSlice(buf []float64, rate int, startS, durS float64) ([]float64, bool) {
	start := int(startS * float64(rate))
	n := int(durS * float64(rate))
	if start < 0 || n <= 0 || start+n > len(buf) {
		return nil, false
	}
	out := make([]float64, n)
	copy(out, buf[start:start+n])
	return out, true
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
