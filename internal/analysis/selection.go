package analysis

import (
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
)

// SelectionStrategy reduces accepted ChunkResults to one (rounded, raw)
// delay. The rounding discipline is uniform across strategies:
// the winner is always round(winner_raw), computed exactly once here.
type SelectionStrategy func(chunks []core.ChunkResult, s SelectionParams) (delayMs int, delayRawMs float64, err error)

type SelectionParams struct {
	EarlyClusterWindow      int
	EarlyClusterThreshold   int
	FirstStableMinChunks    int
	FirstStableSkipUnstable bool
}

// Strategies is the immutable delay-selection registry, built once per
// process like the kernel registry. The strategy-registry shape is
// canonical; there is no parallel free-function implementation.
var Strategies = map[string]SelectionStrategy{
	"Mode (Most Common)":   selectMode,
	"Average":              selectAverage,
	"Mode (Clustered)":     selectModeClustered,
	"Mode (Early Cluster)": selectModeEarlyCluster,
	"First Stable":         selectFirstStable,
}

// SelectDelay dispatches to the configured strategy. Strategies that can
// fail to qualify (Early Cluster, First Stable) fall back as documented
// on each strategy.
func SelectDelay(mode string, chunks []core.ChunkResult, p SelectionParams) (int, float64, error) {
	strat, ok := Strategies[mode]
	if !ok {
		return 0, 0, fmt.Errorf("unrecognized delay selection mode %q", mode)
	}
	accepted := acceptedOnly(chunks)
	if len(accepted) == 0 {
		return 0, 0, fmt.Errorf("no accepted chunks to select a delay from")
	}
	return strat(accepted, p)
}

func acceptedOnly(chunks []core.ChunkResult) []core.ChunkResult {
	out := make([]core.ChunkResult, 0, len(chunks))
	for _, c := range chunks {
		if c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

func roundMs(raw float64) int {
	if raw >= 0 {
		return int(raw + 0.5)
	}
	return -int(-raw + 0.5)
}

// modeOf returns the most common rounded delay; ties break toward the
// value seen earliest in the series so reruns are deterministic.
func modeOf(chunks []core.ChunkResult) int {
	counts := make(map[int]int)
	firstSeen := make(map[int]int)
	for i, c := range chunks {
		counts[c.DelayMs]++
		if _, ok := firstSeen[c.DelayMs]; !ok {
			firstSeen[c.DelayMs] = i
		}
	}
	best, bestCount := 0, -1
	for v, n := range counts {
		if n > bestCount || (n == bestCount && firstSeen[v] < firstSeen[best]) {
			best, bestCount = v, n
		}
	}
	return best
}

// selectMode: winner = mode of rounded delays; raw = mean of raw delays of
// chunks matching the mode.
func selectMode(chunks []core.ChunkResult, _ SelectionParams) (int, float64, error) {
	mode := modeOf(chunks)
	var raws []float64
	for _, c := range chunks {
		if c.DelayMs == mode {
			raws = append(raws, c.DelayRawMs)
		}
	}
	raw := dsp.Mean(raws)
	return roundMs(raw), raw, nil
}

// selectAverage: winner_raw = mean of all accepted raw delays.
func selectAverage(chunks []core.ChunkResult, _ SelectionParams) (int, float64, error) {
	raws := make([]float64, len(chunks))
	for i, c := range chunks {
		raws[i] = c.DelayRawMs
	}
	raw := dsp.Mean(raws)
	return roundMs(raw), raw, nil
}

// selectModeClustered: chunks within ±1 ms of the mode form the cluster;
// winner_raw = mean of the cluster's raw delays.
func selectModeClustered(chunks []core.ChunkResult, _ SelectionParams) (int, float64, error) {
	mode := modeOf(chunks)
	var raws []float64
	for _, c := range chunks {
		if abs(c.DelayMs-mode) <= 1 {
			raws = append(raws, c.DelayRawMs)
		}
	}
	raw := dsp.Mean(raws)
	return roundMs(raw), raw, nil
}

// selectModeEarlyCluster: a candidate delay whose ±1 ms cluster reaches the
// threshold count within the first K chunks is early-stable; the winner is
// the early-stable cluster whose first member has the lowest index.
// Falls back to Mode (Clustered) when no cluster is early-stable.
func selectModeEarlyCluster(chunks []core.ChunkResult, p SelectionParams) (int, float64, error) {
	window := p.EarlyClusterWindow
	if window <= 0 || window > len(chunks) {
		window = len(chunks)
	}
	threshold := p.EarlyClusterThreshold
	if threshold <= 0 {
		threshold = 2
	}

	type candidate struct {
		firstIdx int
		raws     []float64
	}
	candidates := make(map[int]*candidate)
	for i := 0; i < window; i++ {
		d := chunks[i].DelayMs
		if _, ok := candidates[d]; ok {
			continue
		}
		cand := &candidate{firstIdx: i}
		for j := 0; j < window; j++ {
			if abs(chunks[j].DelayMs-d) <= 1 {
				cand.raws = append(cand.raws, chunks[j].DelayRawMs)
			}
		}
		candidates[d] = cand
	}

	var winner *candidate
	for _, cand := range candidates {
		if len(cand.raws) < threshold {
			continue
		}
		if winner == nil || cand.firstIdx < winner.firstIdx {
			winner = cand
		}
	}
	if winner == nil {
		return selectModeClustered(chunks, p)
	}
	raw := dsp.Mean(winner.raws)
	return roundMs(raw), raw, nil
}

// selectFirstStable: group consecutive chunks whose rounded delays differ
// by <=1 into segments; return the first segment long enough.
func selectFirstStable(chunks []core.ChunkResult, p SelectionParams) (int, float64, error) {
	type segment struct{ raws []float64 }
	var segments []segment
	cur := segment{raws: []float64{chunks[0].DelayRawMs}}
	for i := 1; i < len(chunks); i++ {
		if abs(chunks[i].DelayMs-chunks[i-1].DelayMs) <= 1 {
			cur.raws = append(cur.raws, chunks[i].DelayRawMs)
		} else {
			segments = append(segments, cur)
			cur = segment{raws: []float64{chunks[i].DelayRawMs}}
		}
	}
	segments = append(segments, cur)

	if !p.FirstStableSkipUnstable {
		raw := dsp.Mean(segments[0].raws)
		return roundMs(raw), raw, nil
	}
	minChunks := p.FirstStableMinChunks
	if minChunks < 1 {
		minChunks = 1
	}
	for _, seg := range segments {
		if len(seg.raws) >= minChunks {
			raw := dsp.Mean(seg.raws)
			return roundMs(raw), raw, nil
		}
	}
	// no segment qualifies: fall back to Mode (Most Common)
	return selectMode(chunks, p)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
