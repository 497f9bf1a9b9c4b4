package analysis

import (
	"math"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
)

// DiagnosisKind classifies one secondary source's timing pathology
//. Exactly one kind is emitted per (source, analysis track).
type DiagnosisKind string

const (
	Uniform     DiagnosisKind = "UNIFORM"
	PALDrift    DiagnosisKind = "PAL_DRIFT"
	LinearDrift DiagnosisKind = "LINEAR_DRIFT"
	Stepping    DiagnosisKind = "STEPPING"
)

// Diagnosis is the per-source output of the drift/stepping detector.
type Diagnosis struct {
	Kind       DiagnosisKind
	RateMsPerS float64            // PAL/linear drift slope
	Clusters   *ClusterValidation // non-nil only for Stepping
}

// palSpeedupMsPerS is the delay slope a 23.976->25 fps speed-up produces.
const palSpeedupMsPerS = 40.9

// DiagnoseParams carries the detection thresholds from settings.
type DiagnoseParams struct {
	ReferenceFPS float64
	Lossless     bool

	DBSCANEpsilonMs  float64
	DBSCANMinSamples int

	SlopeThresholdLossless float64
	SlopeThresholdLossy    float64
	R2Threshold            float64
	R2ThresholdLossless    float64

	CorrectionMode   string // full | strict | filtered | disabled
	FallbackMode     string // nearest | skip | reject
	Thresholds       ClusterThresholds
	MinTotalClusters int
}

// Diagnose runs the detection ladder over the accepted chunk series: PAL test
// first, then stepping, then linear drift, defaulting to UNIFORM.
func Diagnose(chunks []core.ChunkResult, p DiagnoseParams, log core.Logger) Diagnosis {
	accepted := acceptedOnly(chunks)
	if len(accepted) < 3 {
		return Diagnosis{Kind: Uniform}
	}

	times := make([]float64, len(accepted))
	delays := make([]float64, len(accepted))
	for i, c := range accepted {
		times[i] = c.StartTimeS
		delays[i] = c.DelayRawMs
	}

	// 1. PAL drift: only meaningful when the reference runs at 25 fps.
	if math.Abs(p.ReferenceFPS-25.0) < 0.1 {
		slope, _, _ := dsp.LinearFit(times, delays)
		if math.Abs(slope-palSpeedupMsPerS) < 5 {
			log.Info().Float64("rate_ms_per_s", slope).Msg("PAL speed-up detected")
			return Diagnosis{Kind: PALDrift, RateMsPerS: slope}
		}
	}

	// 2. Stepping: multiple dense delay clusters.
	if p.CorrectionMode != "disabled" {
		if d, ok := diagnoseStepping(accepted, delays, p, log); ok {
			return d
		}
	}

	// 3. Linear drift, with stricter thresholds for lossy codecs to avoid
	// false positives from their noisier correlation peaks.
	slope, _, r2 := dsp.LinearFit(times, delays)
	slopeThreshold := p.SlopeThresholdLossy
	r2Threshold := p.R2Threshold
	if p.Lossless {
		slopeThreshold = p.SlopeThresholdLossless
		r2Threshold = p.R2ThresholdLossless
	}
	if math.Abs(slope) > slopeThreshold && r2 > r2Threshold {
		log.Info().Float64("rate_ms_per_s", slope).Float64("r2", r2).Msg("linear drift detected")
		return Diagnosis{Kind: LinearDrift, RateMsPerS: slope}
	}

	return Diagnosis{Kind: Uniform}
}

func diagnoseStepping(accepted []core.ChunkResult, delays []float64, p DiagnoseParams, log core.Logger) (Diagnosis, bool) {
	labels := dsp.DBSCAN1D(delays, p.DBSCANEpsilonMs, p.DBSCANMinSamples)
	clusters := buildClusters(accepted, labels)
	if len(clusters) <= 1 {
		return Diagnosis{}, false
	}

	valid, invalid, breakdown := validateClusters(clusters, len(accepted), p.Thresholds)
	validation := &ClusterValidation{
		Clusters:       clusters,
		Valid:          valid,
		Invalid:        invalid,
		Breakdown:      breakdown,
		CorrectionMode: p.CorrectionMode,
		FallbackMode:   p.FallbackMode,
	}
	validation.LogBreakdown(log)

	switch p.CorrectionMode {
	case "full", "strict":
		// Any invalid cluster rejects stepping outright.
		if len(invalid) > 0 {
			log.Info().Int("invalid_clusters", len(invalid)).
				Msg("stepping rejected: cluster failed quality validation")
			return Diagnosis{}, false
		}
		if len(clusters) < p.MinTotalClusters {
			log.Info().Int("clusters", len(clusters)).Int("required", p.MinTotalClusters).
				Msg("stepping rejected: too few clusters")
			return Diagnosis{}, false
		}
	case "filtered":
		if len(valid) < p.MinTotalClusters {
			log.Info().Int("valid_clusters", len(valid)).Int("required", p.MinTotalClusters).
				Msg("stepping rejected: too few valid clusters")
			return Diagnosis{}, false
		}
	default:
		return Diagnosis{}, false
	}

	log.Info().Int("clusters", len(clusters)).Int("valid", len(valid)).
		Msg("stepping detected")
	return Diagnosis{Kind: Stepping, Clusters: validation}, true
}
