// Package analysis implements the first pipeline stage: probe both
// containers, decode the analysis audio, correlate chunk pairs, reduce the
// chunk series to one delay per secondary source, and diagnose drift or
// stepping pathologies.
package analysis

import (
	"context"
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/probe"
)

// DefaultSampleRate is the decode rate correlation runs at.
const DefaultSampleRate = 48000

// Result is the per-secondary analysis output.
type Result struct {
	Source     string
	TrackID    int // analysis track id in the secondary container
	DelayMs    int
	DelayRawMs float64
	Chunks     []core.ChunkResult
	Diagnosis  Diagnosis
}

// Run analyzes every secondary source against the reference, populating
// job.Delays and the per-source diagnosis flag maps. The global shift is
// not computed here; the batch pipeline applies ApplyGlobalShift afterwards.
func Run(ctx context.Context, job *core.Job) ([]Result, error) {
	s := job.Settings
	log := job.Handler.ZeroLog()

	refPath := job.Spec.SourceFiles["Source 1"]
	if refPath == "" {
		return nil, fmt.Errorf("missing Source 1")
	}

	refProbe, err := probe.Run(ctx, job.Tools.Probe, refPath)
	if err != nil {
		return nil, err
	}
	refStream, refTrack, ok := refProbe.SelectAudioByLang(job.Spec.AnalysisLangRef)
	if !ok {
		return nil, fmt.Errorf("Source 1 has no audio track to analyze")
	}
	log.Debug().Int("track", refTrack.ID).Str("lang", refTrack.Lang()).
		Msg("selected reference analysis track")

	refPCM, err := decodeAnalysisPCM(ctx, refPath, refStream, s, log)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, source := range job.SecondarySources() {
		if job.Handler.Cancelled() {
			return nil, core.NewCancelError("Analysis")
		}
		res, err := analyzeSecondary(ctx, job, source, refPCM, refProbe)
		if err != nil {
			return nil, err
		}
		job.Delays.Set(source, res.DelayMs, res.DelayRawMs)
		key := core.FlagKey(source, res.TrackID)
		switch res.Diagnosis.Kind {
		case PALDrift:
			job.PALDriftFlags[key] = true
		case LinearDrift:
			job.LinearDriftFlags[key] = true
		case Stepping:
			job.SteppingFlags[key] = true
		}
		results = append(results, *res)
		job.Handler.UpdateProgress("Analysis", len(results), len(job.SecondarySources()),
			fmt.Sprintf("analyzed %s", source))
	}

	return results, nil
}

func analyzeSecondary(ctx context.Context, job *core.Job, source string, refPCM []float64, refProbe *probe.Result) (*Result, error) {
	s := job.Settings
	log := job.Handler.ZeroLog()
	path := job.Spec.SourceFiles[source]

	tgtProbe, err := probe.Run(ctx, job.Tools.Probe, path)
	if err != nil {
		return nil, err
	}
	tgtStream, tgtTrack, ok := tgtProbe.SelectAudioByLang(job.Spec.AnalysisLangOther)
	if !ok {
		return nil, fmt.Errorf("%s has no audio track to analyze", source)
	}

	tgtPCM, err := decodeAnalysisPCM(ctx, path, tgtStream, s, log)
	if err != nil {
		return nil, err
	}

	chunks, err := CorrelateBuffers(refPCM, tgtPCM, DefaultSampleRate, s, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	accepted := 0
	for _, c := range chunks {
		if c.Accepted {
			accepted++
		}
	}
	if accepted < s.MinAcceptedChunks {
		return nil, fmt.Errorf("%s: only %d/%d chunks passed the %.0f%% match threshold (need %d)",
			source, accepted, len(chunks), s.MinMatchPct, s.MinAcceptedChunks)
	}

	delayMs, delayRaw, err := SelectDelay(s.DelaySelectionMode, chunks, SelectionParams{
		EarlyClusterWindow:      s.EarlyClusterWindow,
		EarlyClusterThreshold:   s.EarlyClusterThreshold,
		FirstStableMinChunks:    s.FirstStableMinChunks,
		FirstStableSkipUnstable: s.FirstStableSkipUnstable,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	log.Info().Str("source", source).Int("delay_ms", delayMs).
		Float64("delay_raw_ms", delayRaw).Int("accepted", accepted).
		Msg("delay selected")

	diag := Diagnose(chunks, DiagnoseParams{
		ReferenceFPS:           refProbe.VideoFPS(),
		Lossless:               core.Track{CodecID: tgtTrack.Properties.CodecID}.IsLossless(),
		DBSCANEpsilonMs:        s.DetectionDBSCANEpsilonMs,
		DBSCANMinSamples:       s.DetectionDBSCANMinSamples,
		SlopeThresholdLossless: s.DriftDetectionSlopeThresholdLossless,
		SlopeThresholdLossy:    s.DriftDetectionSlopeThresholdLossy,
		R2Threshold:            s.DriftDetectionR2Threshold,
		R2ThresholdLossless:    s.DriftDetectionR2ThresholdLossless,
		CorrectionMode:         s.SteppingCorrectionMode,
		FallbackMode:           s.SteppingFallbackMode,
		Thresholds: PresetThresholds(s.SteppingQualityMode, ClusterThresholds{
			MinChunks:          s.SteppingMinChunksPerCluster,
			MinPercentage:      s.SteppingMinClusterPercentage,
			MinDurationS:       s.SteppingMinClusterDurationS,
			MinMatchQualityPct: s.SteppingMinMatchQualityPct,
		}),
		MinTotalClusters: s.SteppingMinTotalClusters,
	}, log)

	return &Result{
		Source:     source,
		TrackID:    tgtTrack.ID,
		DelayMs:    delayMs,
		DelayRawMs: delayRaw,
		Chunks:     chunks,
		Diagnosis:  diag,
	}, nil
}

// decodeAnalysisPCM decodes one stream to mono float64 at the analysis
// rate and applies the configured pre-correlation filter.
// Filter failure degrades to passthrough with a warning, never an error.
func decodeAnalysisPCM(ctx context.Context, path string, streamIndex int, s *config.Settings, log core.Logger) ([]float64, error) {
	f32, err := media.DecodePCMFloat32(ctx, path, streamIndex, DefaultSampleRate)
	if err != nil {
		return nil, err
	}
	pcm := make([]float64, len(f32))
	for i, v := range f32 {
		pcm[i] = float64(v)
	}

	// Cross-check the decoded length against the container's reported
	// duration: a decoder that died mid-stream still exits zero on some
	// builds, and a truncated buffer would silently skew every chunk.
	decodedS := float64(len(pcm)) / DefaultSampleRate
	if durS, err := media.ProbeDuration(path); err == nil && durS-decodedS > 2.0 {
		log.Warn().Str("file", path).
			Str("decoded", media.FormatDuration(decodedS)).
			Str("container", media.FormatDuration(durS)).
			Msg("decoded audio is shorter than the container reports")
	}

	switch s.FilteringMethod {
	case "Dialogue Band-Pass Filter":
		pcm = dsp.BandpassButterworth(pcm, DefaultSampleRate, s.FilterBandpassLowcutHz, s.FilterBandpassHighcutHz, s.FilterBandpassOrder)
	case "Low-Pass Filter":
		pcm = dsp.LowpassFIR(pcm, DefaultSampleRate, s.AudioBandlimitHz, s.FilterLowpassTaps)
	}
	return pcm, nil
}

// CorrelateBuffers runs the configured correlation kernel over uniformly
// placed chunk pairs and returns one ChunkResult per surviving chunk
//. Exported because the stepping QA pass
// re-runs it over an assembled correction with its own chunk count,
// minimum-accepted count and scan range; the match threshold stays the
// regular min_match_pct.
func CorrelateBuffers(refPCM, tgtPCM []float64, sampleRate int, s *config.Settings, log core.Logger) ([]core.ChunkResult, error) {
	kernel, ok := dsp.Kernels[s.CorrelationMethod]
	if !ok {
		return nil, fmt.Errorf("unrecognized correlation method %q", s.CorrelationMethod)
	}

	windows := placeChunks(s.ScanChunkCount, s.ScanChunkDuration,
		s.ScanStartPercentage, s.ScanEndPercentage,
		sampleRate, len(refPCM), len(tgtPCM))
	if len(windows) == 0 {
		return nil, fmt.Errorf("no correlation chunks fit inside the decoded buffers")
	}

	results := make([]core.ChunkResult, 0, len(windows))
	for _, w := range windows {
		ref := sliceCopy(refPCM, w.startSample, w.numSamples)
		tgt := sliceCopy(tgtPCM, w.startSample, w.numSamples)
		delayRaw, conf := kernel(ref, tgt, sampleRate)
		cr := core.ChunkResult{
			DelayMs:    roundMs(delayRaw),
			DelayRawMs: delayRaw,
			Confidence: conf,
			StartTimeS: w.startS,
			Accepted:   conf >= s.MinMatchPct,
		}
		log.Trace().Float64("t", w.startS).Int("delay_ms", cr.DelayMs).
			Float64("conf", conf).Bool("accepted", cr.Accepted).Msg("chunk correlated")
		results = append(results, cr)
	}
	return results, nil
}
