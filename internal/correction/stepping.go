package correction

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/analysis"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/probe"
)

// steppingScan owns the two mono buffers Phase A measures against.
type steppingScan struct {
	job        *core.Job
	settings   *config.Settings
	log        core.Logger
	refPCM     []float64
	anaPCM     []float64
	sampleRate int

	targetPath   string
	targetStream int
	keyframes    []float64 // reference video keyframe pts, nil when video snap is off
}

// coarsePoint is one accepted coarse-scan measurement.
type coarsePoint struct {
	timeS    float64 // reference timeline
	delayMs  int
	delayRaw float64
}

// transition is one refined delay flip.
type transition struct {
	boundaryRefS float64
	beforeMs     int
	afterMs      int
	afterRaw     float64
}

// GenerateEDL is Phase A: a one-time analysis of one designated
// track of a stepped source that yields the EDL every target track of
// that source is corrected with. The returned steppingMaterial carries the
// decoded mono buffers into Phase B so the smart-fill decision reuses
// them instead of re-decoding per track.
func GenerateEDL(ctx context.Context, job *core.Job, source string, anchorMs int, anchorRaw float64, validation *analysis.ClusterValidation) (core.EDL, *steppingMaterial, error) {
	s := job.Settings
	log := job.Handler.ZeroLog()

	refPath := job.Spec.SourceFiles["Source 1"]
	tgtPath := job.Spec.SourceFiles[source]

	refStream, _, err := analysisStream(ctx, job, refPath, job.Spec.AnalysisLangRef)
	if err != nil {
		return nil, nil, err
	}
	tgtStream, _, err := analysisStream(ctx, job, tgtPath, job.Spec.AnalysisLangOther)
	if err != nil {
		return nil, nil, err
	}

	// Mono int32 at a common rate, then normalized to
	// float for the correlation kernels.
	refPCM, err := decodeMonoFloat(ctx, refPath, refStream, analysis.DefaultSampleRate)
	if err != nil {
		return nil, nil, err
	}
	anaPCM, err := decodeMonoFloat(ctx, tgtPath, tgtStream, analysis.DefaultSampleRate)
	if err != nil {
		return nil, nil, err
	}

	scan := &steppingScan{
		job: job, settings: s, log: log,
		refPCM: refPCM, anaPCM: anaPCM,
		sampleRate:   analysis.DefaultSampleRate,
		targetPath:   tgtPath,
		targetStream: tgtStream,
	}
	if s.SteppingVideoSnap {
		kf, err := media.ExtractKeyframes(ctx, refPath, 0)
		if err != nil {
			log.Warn().Err(err).Msg("keyframe extraction failed, video snap disabled")
		} else {
			scan.keyframes = kf
		}
	}

	points := scan.coarseScan(ctx, anchorRaw)
	if len(points) < 2 {
		return nil, nil, fmt.Errorf("coarse scan yielded %d usable points, cannot derive an EDL", len(points))
	}

	// Filtered mode drops points inside invalid clusters.
	if validation != nil && validation.CorrectionMode == "filtered" {
		points = filterInvalidRanges(points, validation.InvalidTimeRanges(), log)
	}

	transitions := scan.refineTransitions(ctx, points)

	edl := buildEDL(anchorMs, anchorRaw, transitions)
	if !edl.Valid() {
		return nil, nil, fmt.Errorf("derived EDL violates monotonicity")
	}

	scan.measureInternalDrift(ctx, edl)

	if err := scan.verifyEDL(ctx, edl, anchorMs, validation); err != nil {
		return nil, nil, err
	}

	log.Info().Str("source", source).Int("segments", len(edl)).Msg("stepping EDL generated and verified")
	material := &steppingMaterial{
		refMono:   refPCM,
		anaMono:   anaPCM,
		monoRate:  analysis.DefaultSampleRate,
		refStream: refStream,
	}
	return edl, material, nil
}

func analysisStream(ctx context.Context, job *core.Job, path, lang string) (int, probe.TrackInfo, error) {
	pr, err := probe.Run(ctx, job.Tools.Probe, path)
	if err != nil {
		return 0, probe.TrackInfo{}, err
	}
	idx, t, ok := pr.SelectAudioByLang(lang)
	if !ok {
		return 0, probe.TrackInfo{}, fmt.Errorf("%s has no audio track", path)
	}
	return idx, t, nil
}

func decodeMonoFloat(ctx context.Context, path string, streamIndex, rate int) ([]float64, error) {
	ints, err := media.DecodePCMInt32(ctx, path, streamIndex, 1, rate)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ints))
	for i, v := range ints {
		out[i] = float64(v) / float64(math.MaxInt32)
	}
	return out, nil
}

// coarseScan slides a window across the reference in coarse steps,
// measuring the locally best delay each time. Windows
// whose peak/median ratio falls below the configured minimum are silent or
// low-content and are skipped.
func (sc *steppingScan) coarseScan(ctx context.Context, anchorRaw float64) []coarsePoint {
	s := sc.settings
	chunk := s.SegmentCoarseChunkS
	step := s.SegmentCoarseStepS
	refDurS := float64(len(sc.refPCM)) / float64(sc.sampleRate)

	var points []coarsePoint
	curDelayS := anchorRaw / 1000
	for t := 0.0; t+chunk <= refDurS; t += step {
		if sc.job.Handler.Cancelled() {
			return points
		}
		raw, ratio, ok := sc.measure(t, curDelayS, chunk)
		if !ok || ratio < s.SegmentMinConfidenceRatio {
			continue
		}
		points = append(points, coarsePoint{timeS: t, delayMs: roundMs(raw), delayRaw: raw})
		curDelayS = raw / 1000
		sc.log.Trace().Float64("t", t).Float64("delay_ms", raw).Float64("ratio", ratio).Msg("coarse point")
	}
	return points
}

// measure correlates a reference window at refT against the analysis
// track around refT+prevDelayS, returning the absolute delay in ms.
func (sc *steppingScan) measure(refT, prevDelayS, chunkS float64) (delayRawMs, peakRatio float64, ok bool) {
	loc := sc.settings.SegmentSearchLocalityS
	sr := float64(sc.sampleRate)

	refStart := int(refT * sr)
	refN := int(chunkS * sr)
	if refStart < 0 || refStart+refN > len(sc.refPCM) {
		return 0, 0, false
	}

	tgtT0 := refT + prevDelayS - loc
	tgtStart := int(tgtT0 * sr)
	tgtN := refN + int(2*loc*sr)
	if tgtStart < 0 {
		tgtT0 -= float64(tgtStart) / sr
		tgtStart = 0
	}
	if tgtStart+tgtN > len(sc.anaPCM) {
		tgtN = len(sc.anaPCM) - tgtStart
	}
	if tgtN < refN {
		return 0, 0, false
	}

	refWin := sc.refPCM[refStart : refStart+refN]
	tgtWin := sc.anaPCM[tgtStart : tgtStart+tgtN]

	lagMs, ratio := dsp.LocalDelay(refWin, tgtWin, sc.sampleRate, 2*loc)
	// lag is target-window-relative; rebase to absolute delay
	return lagMs + (tgtT0-refT)*1000, ratio, true
}

// filterInvalidRanges drops coarse points inside invalid-cluster time
// spans (filtered mode only).
func filterInvalidRanges(points []coarsePoint, ranges [][2]float64, log core.Logger) []coarsePoint {
	if len(ranges) == 0 {
		return points
	}
	var out []coarsePoint
	dropped := 0
	for _, p := range points {
		inside := false
		for _, r := range ranges {
			if p.timeS >= r[0] && p.timeS <= r[1] {
				inside = true
				break
			}
		}
		if inside {
			dropped++
			continue
		}
		out = append(out, p)
	}
	if dropped > 0 {
		log.Info().Int("dropped", dropped).Msg("coarse points inside invalid cluster ranges discarded")
	}
	return out
}

// refineTransitions walks the coarse map, and for each adjacent pair whose
// delay jump exceeds the triage threshold, binary-searches the flip point
// and snaps it to silence (and optionally video keyframes).
// A jump of exactly the threshold is not promoted.
func (sc *steppingScan) refineTransitions(ctx context.Context, points []coarsePoint) []transition {
	s := sc.settings
	var out []transition
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		if math.Abs(cur.delayRaw-prev.delayRaw) <= s.SegmentTriageStdDevMs {
			continue
		}
		if sc.job.Handler.Cancelled() {
			return out
		}

		boundary := sc.binarySearchBoundary(ctx, prev, cur)

		// Silence snap happens on the TARGET timeline.
		tgtBoundary := boundary + float64(prev.delayMs)/1000
		snapped, zone, found := snapToSilence(ctx, sc.job, s, sc.targetPath, sc.targetStream,
			sc.anaPCM, sc.sampleRate, tgtBoundary)
		if found {
			tgtBoundary = snapped
			boundary = tgtBoundary - float64(prev.delayMs)/1000
		}

		// Video snap on the REFERENCE timeline, accepted only when the
		// snapped point maps back inside the silence zone.
		if len(sc.keyframes) > 0 && found {
			if kf, ok := nearestKeyframe(sc.keyframes, boundary, s.SteppingVideoSnapMaxOffsetS); ok {
				backToTarget := kf + float64(prev.delayMs)/1000
				if zone.contains(backToTarget) {
					boundary = kf
				}
			}
		}

		out = append(out, transition{
			boundaryRefS: boundary,
			beforeMs:     prev.delayMs,
			afterMs:      cur.delayMs,
			afterRaw:     cur.delayRaw,
		})
		sc.log.Info().Float64("boundary_s", boundary).Int("before_ms", prev.delayMs).
			Int("after_ms", cur.delayMs).Msg("transition refined")
	}
	return out
}

// binarySearchBoundary narrows the flip point between two coarse points:
// at each iteration the midpoint chunk's delay decides
// which half the boundary lives in.
func (sc *steppingScan) binarySearchBoundary(ctx context.Context, before, after coarsePoint) float64 {
	s := sc.settings
	lo, hi := before.timeS, after.timeS
	for i := 0; i < s.SegmentFineIterations && hi-lo > s.SegmentFineChunkS/2; i++ {
		mid := (lo + hi) / 2
		raw, _, ok := sc.measure(mid, before.delayRaw/1000, s.SegmentFineChunkS)
		if !ok {
			break
		}
		if math.Abs(raw-before.delayRaw) <= math.Abs(raw-after.delayRaw) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func nearestKeyframe(keyframes []float64, t, maxOffsetS float64) (float64, bool) {
	best, bestDist := 0.0, math.Inf(1)
	for _, kf := range keyframes {
		d := math.Abs(kf - t)
		if d < bestDist {
			best, bestDist = kf, d
		}
	}
	if bestDist <= maxOffsetS {
		return best, true
	}
	return 0, false
}

// buildEDL converts refined transitions into the EDL:
// boundaries move onto the target timeline via the before-delay.
func buildEDL(anchorMs int, anchorRaw float64, transitions []transition) core.EDL {
	edl := core.EDL{{StartS: 0, DelayMs: anchorMs, DelayRawMs: anchorRaw}}
	for _, tr := range transitions {
		startTgt := tr.boundaryRefS + float64(tr.beforeMs)/1000
		if startTgt <= edl[len(edl)-1].StartS {
			continue // out-of-order refinement cannot break monotonicity
		}
		edl[len(edl)-1].EndS = startTgt
		edl = append(edl, core.AudioSegment{
			StartS:     startTgt,
			DelayMs:    tr.afterMs,
			DelayRawMs: tr.afterRaw,
		})
	}
	return edl
}

// minDriftSegmentS: segments shorter than this cannot carry a meaningful
// drift estimate.
const (
	minDriftSegmentS = 20.0
	driftScanEveryS  = 20.0
	driftEdgeBufferS = 5.0
)

// measureInternalDrift samples per-segment delays and stores a drift rate
// on segments whose fit passes the slope and R² thresholds.
func (sc *steppingScan) measureInternalDrift(ctx context.Context, edl core.EDL) {
	s := sc.settings
	refDurS := float64(len(sc.refPCM)) / float64(sc.sampleRate)

	for i := range edl {
		segStart := edl[i].StartS - float64(edl[i].DelayMs)/1000 // back to reference time
		segEnd := refDurS
		if i+1 < len(edl) {
			segEnd = edl[i+1].StartS - float64(edl[i].DelayMs)/1000
		}
		if segEnd-segStart < minDriftSegmentS {
			continue
		}

		var times, delays []float64
		for t := segStart + driftEdgeBufferS; t+s.SegmentFineChunkS < segEnd-driftEdgeBufferS; t += driftScanEveryS {
			raw, ratio, ok := sc.measure(t, edl[i].DelayRawMs/1000, s.SegmentFineChunkS)
			if !ok || ratio < s.SegmentMinConfidenceRatio {
				continue
			}
			times = append(times, t)
			delays = append(delays, raw)
		}
		if len(delays) < 4 {
			continue
		}

		kept, idx := dsp.RejectOutliers(delays, s.SegmentDriftOutlierSigma)
		keptTimes := make([]float64, len(idx))
		for j, k := range idx {
			keptTimes[j] = times[k]
		}
		slope, _, r2 := dsp.LinearFit(keptTimes, kept)
		if r2 > s.SegmentDriftR2Threshold && math.Abs(slope) > s.SegmentDriftSlopeThresholdMsPerS {
			edl[i].DriftRateMsPerS = slope
			sc.log.Info().Int("segment", i).Float64("rate_ms_per_s", slope).
				Float64("r2", r2).Msg("internal drift detected within segment")
		}
	}
}

// qaTolerance returns the acceptable median deviation for the QA
// recorrelation.
func qaTolerance(validation *analysis.ClusterValidation) float64 {
	if validation != nil && validation.CorrectionMode == "filtered" && validation.FallbackMode == "skip" {
		return 100
	}
	return 20
}

const qaMaxStdDevMs = 15.0

// verifyEDL assembles a synthetic mono FLAC from the analysis track per
// the EDL, then re-correlates it against the reference using the segment QA
// chunk count and minimum-accepted count over a 2–98% scan range. The
// per-chunk match threshold is the regular min_match_pct; no threshold is
// raised for QA. A failing QA aborts the job: stepping-detected sources have
// no safe fallback.
func (sc *steppingScan) verifyEDL(ctx context.Context, edl core.EDL, anchorMs int, validation *analysis.ClusterValidation) error {
	s := sc.settings

	monoInt := make([]int32, len(sc.anaPCM))
	for i, v := range sc.anaPCM {
		monoInt[i] = int32(v * float64(math.MaxInt32))
	}

	qaPath := filepath.Join(sc.job.TempDir, "stepping_qa.flac")
	err := AssembleEDL(ctx, sc.job, AssemblyInput{
		PCM:            monoInt,
		Channels:       1,
		SampleRate:     sc.sampleRate,
		EDL:            edl,
		FillMode:       FillSilence, // QA checks timing, not content
		ResampleEngine: media.ResampleEngine(s.SegmentResampleEngine),
		Rubberband: media.RubberbandOptions{
			Transients: s.SegmentRubberbandTransients,
			Smoother:   s.SegmentRubberbandSmoother,
			PitchQ:     s.SegmentRubberbandPitchQ,
		},
	}, qaPath)
	if err != nil {
		return fmt.Errorf("QA assembly: %w", err)
	}

	corrected, err := decodeMonoFloat(ctx, qaPath, 0, sc.sampleRate)
	if err != nil {
		return fmt.Errorf("QA decode: %w", err)
	}

	qaSettings := *s
	qaSettings.ScanChunkCount = s.SegmentQAChunkCount
	qaSettings.MinAcceptedChunks = s.SegmentQAMinAccepted
	qaSettings.ScanStartPercentage = 2
	qaSettings.ScanEndPercentage = 98

	chunks, err := analysis.CorrelateBuffers(sc.refPCM, corrected, sc.sampleRate, &qaSettings, sc.log)
	if err != nil {
		return fmt.Errorf("QA recorrelation: %w", err)
	}
	var raws []float64
	for _, c := range chunks {
		if c.Accepted {
			raws = append(raws, c.DelayRawMs)
		}
	}
	if len(raws) < qaSettings.MinAcceptedChunks {
		return fmt.Errorf("QA recorrelation accepted only %d/%d chunks", len(raws), len(chunks))
	}

	median := dsp.Median(raws)
	stddev := dsp.StdDev(raws)
	tol := qaTolerance(validation)
	if math.Abs(median-float64(anchorMs)) > tol {
		return fmt.Errorf("QA failed: corrected track's median delay %.1f ms deviates from anchor %d ms by more than %.0f ms",
			median, anchorMs, tol)
	}
	if stddev > qaMaxStdDevMs {
		return fmt.Errorf("QA failed: corrected track's delay spread %.1f ms exceeds %.1f ms", stddev, qaMaxStdDevMs)
	}
	sc.log.Info().Float64("median_ms", median).Float64("stddev_ms", stddev).Msg("stepping QA passed")
	return nil
}

// ApplyEDLToTrack is Phase B: decode one target track at its
// native channel count and layout, apply the shared EDL, and write the
// corrected FLAC.
func ApplyEDLToTrack(ctx context.Context, job *core.Job, source string, item *core.PlanItem, edl core.EDL, scan *steppingMaterial) (string, error) {
	s := job.Settings
	path := job.Spec.SourceFiles[source]

	pr, err := probe.Run(ctx, job.Tools.Probe, path)
	if err != nil {
		return "", err
	}
	t, ok := pr.TrackByID(item.Track.ID)
	if !ok {
		return "", fmt.Errorf("track %d vanished from %s between extraction and correction", item.Track.ID, source)
	}
	channels := t.Properties.AudioChannels
	if channels == 0 {
		channels = 2
	}
	rate := t.Properties.AudioSamplingFreq
	if rate == 0 {
		rate = analysis.DefaultSampleRate
	}
	layout := layoutForChannels(channels)

	streamIdx := 0
	for i, a := range pr.AudioTracks() {
		if a.ID == item.Track.ID {
			streamIdx = i
			break
		}
	}
	pcm, err := media.DecodePCMInt32(ctx, path, streamIdx, channels, rate)
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(item.ExtractedPath), filepath.Ext(item.ExtractedPath))
	outPath := filepath.Join(job.TempDir, stem+"_stepcorrected.flac")

	refPath := job.Spec.SourceFiles["Source 1"]
	refStream := scan.refStream
	err = AssembleEDL(ctx, job, AssemblyInput{
		PCM:        pcm,
		Channels:   channels,
		Layout:     layout,
		SampleRate: rate,
		EDL:        edl,
		FillMode:   FillMode(s.SteppingFillMode),
		RefContent: func(ctx context.Context, startS, durS float64) ([]int32, error) {
			return media.DecodePCMInt32Range(ctx, refPath, refStream, channels, rate, startS, durS)
		},
		RefMono:        scan.refMono,
		AnalysisMono:   scan.anaMono,
		MonoRate:       scan.monoRate,
		ResampleEngine: media.ResampleEngine(s.SegmentResampleEngine),
		Rubberband: media.RubberbandOptions{
			Transients: s.SegmentRubberbandTransients,
			Smoother:   s.SegmentRubberbandSmoother,
			PitchQ:     s.SegmentRubberbandPitchQ,
		},
	}, outPath)
	if err != nil {
		return "", err
	}
	return outPath, nil
}

// steppingMaterial carries Phase A's decoded buffers into Phase B so the
// smart-fill decision reuses them instead of re-decoding per track.
type steppingMaterial struct {
	refMono   []float64
	anaMono   []float64
	monoRate  int
	refStream int
}

// layoutForChannels names the decoder channel layout for common counts.
func layoutForChannels(n int) string {
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "5.1"
	case 8:
		return "7.1"
	default:
		return ""
	}
}

func roundMs(v float64) int {
	if v >= 0 {
		return int(v + 0.5)
	}
	return -int(-v + 0.5)
}
