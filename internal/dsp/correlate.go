// Package dsp holds the correlation kernels, drift/cluster statistics, and
// signal filters that back analysis and correction. None of it shells out
// to an external process; this is the in-process numerical core.
package dsp

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Kernel is one correlation method. All kernels take two
// equal-length sample slices and a sample rate and return a delay and a
// confidence in [0,100]; none mutate their inputs.
type Kernel func(ref, target []float64, sampleRate int) (delayMs float64, confidence float64)

// Kernels is the immutable method registry built once per process.
var Kernels = map[string]Kernel{
	"scc":        SCC,
	"gcc-phat":   GCCPHAT,
	"gcc-scot":   GCCSCOT,
	"whitened":   WhitenedCC,
	"onset":      OnsetEnvelope,
	"mel":        MelSpectrogram,
	"dtw-mfcc":   DTWMFCC,
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// crossSpectrum computes the padded FFTs of ref/target and their raw
// cross-spectrum Ref * conj(Target), returning it alongside the padded
// length and the two individual spectra (kernels that whiten need the
// per-signal spectra, not just the product).
func crossSpectrum(ref, target []float64) (cross []complex128, specRef, specTgt []complex128, n int) {
	n = nextPow2(len(ref) + len(target))
	pr := make([]float64, n)
	pt := make([]float64, n)
	copy(pr, ref)
	copy(pt, target)

	fftr := fourier.NewFFT(n)
	specRef = fftr.Coefficients(nil, pr)
	specTgt = fftr.Coefficients(nil, pt)

	cross = make([]complex128, len(specRef))
	for i := range cross {
		cross[i] = specRef[i] * cmplx.Conj(specTgt[i])
	}
	return cross, specRef, specTgt, n
}

// ifftReal inverse-transforms a half-spectrum produced by gonum's real FFT
// back to a real-valued time-domain signal of length n.
func ifftReal(spec []complex128, n int) []float64 {
	fftr := fourier.NewFFT(n)
	return fftr.Sequence(nil, spec)
}

// argmaxLag finds the index of the largest-magnitude sample in corr
// (length n, circularly wrapped so the second half represents negative
// lags) and converts it to a signed lag in samples.
func argmaxLag(corr []float64, n int) (lagSamples int, peak float64) {
	best := 0
	bestVal := math.Inf(-1)
	for i, v := range corr {
		av := math.Abs(v)
		if av > bestVal {
			bestVal = av
			best = i
		}
	}
	lag := best
	if lag > n/2 {
		lag -= n
	}
	return lag, corr[best]
}

// parabolicRefine fits a parabola through the three samples around idx in
// corr to produce a sub-sample peak offset.
func parabolicRefine(corr []float64, idx int) float64 {
	n := len(corr)
	prev := corr[(idx-1+n)%n]
	cur := corr[idx]
	next := corr[(idx+1)%n]
	denom := prev - 2*cur + next
	if denom == 0 {
		return 0
	}
	return 0.5 * (prev - next) / denom
}

// confidenceNorm is the common peak-based confidence normalization used by
// SCC, GCC-PHAT, and Whitened CC: peak/median*5, peak/secondPeak*8
// outside a ±1% neighborhood, peak/stddev(lower 90%)*1.5, averaged and
// clamped to [0,100].
func confidenceNorm(corr []float64, peakIdx int) float64 {
	n := len(corr)
	abs := make([]float64, n)
	for i, v := range corr {
		abs[i] = math.Abs(v)
	}
	peak := abs[peakIdx]

	sorted := append([]float64(nil), abs...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	// second-best peak outside a ±1% neighborhood of the best
	neighborhood := int(float64(n) * 0.01)
	if neighborhood < 1 {
		neighborhood = 1
	}
	secondBest := 0.0
	for i, v := range abs {
		d := i - peakIdx
		if d < 0 {
			d = -d
		}
		if d <= neighborhood || d >= n-neighborhood {
			continue
		}
		if v > secondBest {
			secondBest = v
		}
	}

	// standard deviation of the lower-90% percentile of |c|
	cut := sorted[:int(float64(len(sorted))*0.9)]
	mean := 0.0
	for _, v := range cut {
		mean += v
	}
	if len(cut) > 0 {
		mean /= float64(len(cut))
	}
	variance := 0.0
	for _, v := range cut {
		variance += (v - mean) * (v - mean)
	}
	var stddev float64
	if len(cut) > 0 {
		stddev = math.Sqrt(variance / float64(len(cut)))
	}

	a := 0.0
	if median > 0 {
		a = peak / median * 5
	}
	b := 0.0
	if secondBest > 0 {
		b = peak / secondBest * 8
	}
	c := 0.0
	if stddev > 0 {
		c = peak / stddev * 1.5
	}

	conf := (a + b + c) / 3
	return clamp(conf, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeZeroMeanUnitStd(x []float64) []float64 {
	n := float64(len(x))
	if n == 0 {
		return x
	}
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= n
	variance := 0.0
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / n)
	out := make([]float64, len(x))
	if std == 0 {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out
}

// SCC is standard time-domain cross-correlation via FFT.
func SCC(ref, target []float64, sampleRate int) (float64, float64) {
	r := normalizeZeroMeanUnitStd(ref)
	t := normalizeZeroMeanUnitStd(target)
	cross, specR, specT, n := crossSpectrum(r, t)
	_ = specT
	corr := ifftReal(cross, n)

	lag, _ := argmaxLag(corr, n)
	peakIdx := lag
	if peakIdx < 0 {
		peakIdx += n
	}
	frac := parabolicRefine(corr, peakIdx)

	var sumRef, sumTgt float64
	for _, v := range r {
		sumRef += v * v
	}
	for _, v := range t {
		sumTgt += v * v
	}
	denom := math.Sqrt(sumRef * sumTgt)
	conf := 0.0
	if denom > 0 {
		conf = clamp(math.Abs(corr[peakIdx])/denom*100, 0, 100)
	}
	_ = specR

	delaySamples := float64(lag) + frac
	return delaySamples / float64(sampleRate) * 1000, conf
}

// GCCPHAT is the generalized cross-correlation with phase transform: the
// cross-spectrum is divided by its own magnitude before the inverse FFT,
// which sharpens the correlation peak at the cost of noise sensitivity.
func GCCPHAT(ref, target []float64, sampleRate int) (float64, float64) {
	cross, _, _, n := crossSpectrum(ref, target)
	whitened := make([]complex128, len(cross))
	for i, c := range cross {
		mag := cmplx.Abs(c)
		if mag == 0 {
			whitened[i] = 0
			continue
		}
		whitened[i] = c / complex(mag, 0)
	}
	corr := ifftReal(whitened, n)
	lag, _ := argmaxLag(corr, n)
	peakIdx := lag
	if peakIdx < 0 {
		peakIdx += n
	}
	conf := confidenceNorm(corr, peakIdx)
	return float64(lag) / float64(sampleRate) * 1000, conf
}

// GCCSCOT divides the cross-spectrum by sqrt(|R|^2*|T|^2) — the smoothed
// coherence transform — and uses a simpler mean-based confidence measure
// capped at 100.
func GCCSCOT(ref, target []float64, sampleRate int) (float64, float64) {
	cross, specR, specT, n := crossSpectrum(ref, target)
	whitened := make([]complex128, len(cross))
	for i := range cross {
		denom := math.Sqrt(cmplx.Abs(specR[i])*cmplx.Abs(specR[i])*cmplx.Abs(specT[i])*cmplx.Abs(specT[i])) + 1e-20
		whitened[i] = cross[i] / complex(denom, 0)
	}
	corr := ifftReal(whitened, n)
	lag, peak := argmaxLag(corr, n)

	mean := 0.0
	for _, v := range corr {
		mean += math.Abs(v)
	}
	mean /= float64(len(corr))
	conf := 0.0
	if mean > 0 {
		conf = clamp(math.Abs(peak)/mean*10, 0, 100)
	}
	return float64(lag) / float64(sampleRate) * 1000, conf
}

// WhitenedCC normalizes each spectrum by its own magnitude before the
// conjugate multiply (as opposed to GCC-PHAT's post-multiply division),
// then applies the common peak-based confidence norm.
func WhitenedCC(ref, target []float64, sampleRate int) (float64, float64) {
	n := nextPow2(len(ref) + len(target))
	pr := make([]float64, n)
	pt := make([]float64, n)
	copy(pr, ref)
	copy(pt, target)

	fftr := fourier.NewFFT(n)
	specR := fftr.Coefficients(nil, pr)
	specT := fftr.Coefficients(nil, pt)

	for i := range specR {
		if m := cmplx.Abs(specR[i]); m > 0 {
			specR[i] /= complex(m, 0)
		}
		if m := cmplx.Abs(specT[i]); m > 0 {
			specT[i] /= complex(m, 0)
		}
	}
	cross := make([]complex128, len(specR))
	for i := range cross {
		cross[i] = specR[i] * cmplx.Conj(specT[i])
	}
	corr := ifftReal(cross, n)
	lag, _ := argmaxLag(corr, n)
	peakIdx := lag
	if peakIdx < 0 {
		peakIdx += n
	}
	conf := confidenceNorm(corr, peakIdx)
	return float64(lag) / float64(sampleRate) * 1000, conf
}
