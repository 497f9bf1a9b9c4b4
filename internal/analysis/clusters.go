package analysis

import (
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
)

// ClusterThresholds are the per-cluster quality gates. A cluster
// must meet or exceed every one of them to be valid.
type ClusterThresholds struct {
	MinChunks        int
	MinPercentage    float64 // share of all accepted chunks, percent
	MinDurationS     float64 // time span covered by the cluster
	MinMatchQualityPct float64 // both mean and min confidence are gated on this
}

// qualityPresets maps the stepping_quality_mode setting to thresholds.
// "custom" reads the stepping_min_* settings instead.
var qualityPresets = map[string]ClusterThresholds{
	"strict":  {MinChunks: 5, MinPercentage: 10.0, MinDurationS: 60.0, MinMatchQualityPct: 90.0},
	"normal":  {MinChunks: 3, MinPercentage: 5.0, MinDurationS: 20.0, MinMatchQualityPct: 85.0},
	"lenient": {MinChunks: 2, MinPercentage: 2.0, MinDurationS: 10.0, MinMatchQualityPct: 70.0},
}

// PresetThresholds resolves a quality mode name to thresholds; custom
// returns the supplied override.
func PresetThresholds(mode string, custom ClusterThresholds) ClusterThresholds {
	if t, ok := qualityPresets[mode]; ok {
		return t
	}
	return custom
}

// ClusterDetail describes one DBSCAN cluster of chunk delays.
type ClusterDetail struct {
	ID           int
	MeanDelayMs  float64
	StdDelayMs   float64
	ChunkNumbers []int // indices into the accepted-chunk series
	StartTimeS   float64
	EndTimeS     float64
	MeanMatchPct float64
	MinMatchPct  float64
}

func (c ClusterDetail) Count() int      { return len(c.ChunkNumbers) }
func (c ClusterDetail) SpanS() float64  { return c.EndTimeS - c.StartTimeS }

// GateResult records one validation gate's outcome with the actual value
// against its threshold, surfaced verbatim in logs.
type GateResult struct {
	Name      string
	Value     float64
	Threshold float64
	Passed    bool
}

// ClusterValidation is the full stepping-validation result: cluster details, the
// valid/invalid partition, the per-cluster gate breakdown, and the modes
// that govern downstream handling.
type ClusterValidation struct {
	Clusters       []ClusterDetail
	Valid          []int // cluster IDs
	Invalid        []int
	Breakdown      map[int][]GateResult
	CorrectionMode string // full | strict | filtered | disabled
	FallbackMode   string // nearest | skip | reject
}

// InvalidTimeRanges returns the [start, end] spans of invalid clusters;
// the coarse-scan filter drops points inside them.
func (v *ClusterValidation) InvalidTimeRanges() [][2]float64 {
	var out [][2]float64
	for _, id := range v.Invalid {
		for _, c := range v.Clusters {
			if c.ID == id {
				out = append(out, [2]float64{c.StartTimeS, c.EndTimeS})
			}
		}
	}
	return out
}

// buildClusters groups accepted chunks by DBSCAN label into ClusterDetails,
// skipping noise.
func buildClusters(chunks []core.ChunkResult, labels []int) []ClusterDetail {
	byID := make(map[int][]int)
	for i, l := range labels {
		if l == dsp.DBSCANNoise {
			continue
		}
		byID[l] = append(byID[l], i)
	}
	var out []ClusterDetail
	for id := 0; ; id++ {
		members, ok := byID[id]
		if !ok {
			break
		}
		var delays, confs []float64
		start, end := chunks[members[0]].StartTimeS, chunks[members[0]].StartTimeS
		minConf := chunks[members[0]].Confidence
		for _, m := range members {
			delays = append(delays, chunks[m].DelayRawMs)
			confs = append(confs, chunks[m].Confidence)
			if chunks[m].StartTimeS < start {
				start = chunks[m].StartTimeS
			}
			if chunks[m].StartTimeS > end {
				end = chunks[m].StartTimeS
			}
			if chunks[m].Confidence < minConf {
				minConf = chunks[m].Confidence
			}
		}
		out = append(out, ClusterDetail{
			ID:           id,
			MeanDelayMs:  dsp.Mean(delays),
			StdDelayMs:   dsp.StdDev(delays),
			ChunkNumbers: members,
			StartTimeS:   start,
			EndTimeS:     end,
			MeanMatchPct: dsp.Mean(confs),
			MinMatchPct:  minConf,
		})
	}
	return out
}

// validateClusters applies every quality gate to every cluster.
func validateClusters(clusters []ClusterDetail, totalAccepted int, t ClusterThresholds) (valid, invalid []int, breakdown map[int][]GateResult) {
	breakdown = make(map[int][]GateResult)
	for _, c := range clusters {
		pct := 0.0
		if totalAccepted > 0 {
			pct = float64(c.Count()) / float64(totalAccepted) * 100
		}
		gates := []GateResult{
			{Name: "chunk_count", Value: float64(c.Count()), Threshold: float64(t.MinChunks), Passed: c.Count() >= t.MinChunks},
			{Name: "percentage", Value: pct, Threshold: t.MinPercentage, Passed: pct >= t.MinPercentage},
			{Name: "duration_s", Value: c.SpanS(), Threshold: t.MinDurationS, Passed: c.SpanS() >= t.MinDurationS},
			{Name: "mean_match_pct", Value: c.MeanMatchPct, Threshold: t.MinMatchQualityPct, Passed: c.MeanMatchPct >= t.MinMatchQualityPct},
			{Name: "min_match_pct", Value: c.MinMatchPct, Threshold: t.MinMatchQualityPct, Passed: c.MinMatchPct >= t.MinMatchQualityPct},
		}
		breakdown[c.ID] = gates
		ok := true
		for _, g := range gates {
			if !g.Passed {
				ok = false
				break
			}
		}
		if ok {
			valid = append(valid, c.ID)
		} else {
			invalid = append(invalid, c.ID)
		}
	}
	return valid, invalid, breakdown
}

// LogBreakdown emits the per-cluster gate breakdown the way the analysis
// logs report it, one line per failed gate.
func (v *ClusterValidation) LogBreakdown(log core.Logger) {
	for _, c := range v.Clusters {
		for _, g := range v.Breakdown[c.ID] {
			if g.Passed {
				continue
			}
			log.Debug().
				Int("cluster", c.ID).
				Str("gate", g.Name).
				Str("value", fmt.Sprintf("%.2f", g.Value)).
				Str("threshold", fmt.Sprintf("%.2f", g.Threshold)).
				Msg("cluster gate failed")
		}
	}
}
