package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisySignal builds a deterministic pseudo-random broadband signal;
// correlation kernels need spectral content, not a pure tone.
func noisySignal(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

// shiftedCopy delays src by lag samples, zero-padding the head.
func shiftedCopy(src []float64, lag int) []float64 {
	out := make([]float64, len(src))
	for i := lag; i < len(src); i++ {
		out[i] = src[i-lag]
	}
	return out
}

func TestTimeDomainKernelsRecoverKnownShift(t *testing.T) {
	const sr = 8000
	const lagSamples = 400 // 50 ms
	ref := noisySignal(4*sr, 1)
	tgt := shiftedCopy(ref, lagSamples)
	wantMs := float64(lagSamples) / sr * 1000

	for name, kernel := range map[string]Kernel{
		"scc":      SCC,
		"gcc-phat": GCCPHAT,
		"gcc-scot": GCCSCOT,
		"whitened": WhitenedCC,
	} {
		delay, conf := kernel(ref, tgt, sr)
		assert.InDeltaf(t, wantMs, delay, 1.0, "%s delay", name)
		assert.Greaterf(t, conf, 10.0, "%s confidence", name)
		assert.LessOrEqualf(t, conf, 100.0, "%s confidence ceiling", name)
	}
}

func TestKernelsAreDeterministic(t *testing.T) {
	const sr = 8000
	ref := noisySignal(2*sr, 7)
	tgt := shiftedCopy(ref, 160)

	for name, kernel := range Kernels {
		d1, c1 := kernel(ref, tgt, sr)
		d2, c2 := kernel(ref, tgt, sr)
		assert.Equalf(t, d1, d2, "%s delay must be bit-identical across runs", name)
		assert.Equalf(t, c1, c2, "%s confidence must be bit-identical across runs", name)
	}
}

func TestKernelsDoNotMutateInputs(t *testing.T) {
	const sr = 8000
	ref := noisySignal(sr, 3)
	tgt := shiftedCopy(ref, 80)
	refCopy := append([]float64(nil), ref...)
	tgtCopy := append([]float64(nil), tgt...)

	for name, kernel := range Kernels {
		kernel(ref, tgt, sr)
		require.Equalf(t, refCopy, ref, "%s mutated ref", name)
		require.Equalf(t, tgtCopy, tgt, "%s mutated target", name)
	}
}

func TestSCCZeroShiftZeroDelay(t *testing.T) {
	const sr = 8000
	ref := noisySignal(2*sr, 11)
	delay, conf := SCC(ref, ref, sr)
	assert.InDelta(t, 0.0, delay, 0.5)
	assert.Greater(t, conf, 50.0)
}

func TestConfidenceNormBounds(t *testing.T) {
	// A flat correlation surface must not produce NaN or out-of-range
	// confidence.
	flat := make([]float64, 1024)
	for i := range flat {
		flat[i] = 1
	}
	conf := confidenceNorm(flat, 0)
	assert.False(t, math.IsNaN(conf))
	assert.GreaterOrEqual(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 100.0)
}

func TestFiltersPreserveLengthAndInput(t *testing.T) {
	const sr = 8000
	in := noisySignal(sr, 5)
	inCopy := append([]float64(nil), in...)

	bp := BandpassButterworth(in, sr, 300, 3400, 4)
	assert.Len(t, bp, len(in))
	assert.Equal(t, inCopy, in)

	lp := LowpassFIR(in, sr, 2000, 101)
	assert.Len(t, lp, len(in))
	assert.Equal(t, inCopy, in)
}

func TestLowpassAttenuatesHighFrequency(t *testing.T) {
	const sr = 8000
	n := 2 * sr
	in := make([]float64, n)
	for i := range in {
		ti := float64(i) / sr
		in[i] = math.Sin(2*math.Pi*100*ti) + math.Sin(2*math.Pi*3500*ti)
	}
	out := LowpassFIR(in, sr, 500, 201)

	power := func(x []float64) float64 {
		var p float64
		for _, v := range x[sr/2 : n-sr/2] { // skip edge effects
			p += v * v
		}
		return p
	}
	assert.Less(t, power(out), power(in)*0.7, "high-frequency component should be attenuated")
}
