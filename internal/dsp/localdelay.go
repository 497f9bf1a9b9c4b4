package dsp

import (
	"math"
	"math/cmplx"
	"sort"
)

// LocalDelay cross-correlates ref against target and restricts the peak
// search to lags within ±maxLagS, returning the best delay and the
// peak-over-median confidence ratio the stepping coarse scan gates on
//. A ratio near 1 means silence or low-content windows;
// callers reject those points rather than trusting a random peak.
func LocalDelay(ref, target []float64, sampleRate int, maxLagS float64) (delayMs float64, peakRatio float64) {
	cross, _, _, n := crossSpectrum(ref, target)
	for i, c := range cross {
		mag := cmplx.Abs(c)
		if mag == 0 {
			cross[i] = 0
			continue
		}
		cross[i] = c / complex(mag, 0)
	}
	corr := ifftReal(cross, n)

	maxLag := int(maxLagS * float64(sampleRate))
	if maxLag < 1 || maxLag > n/2 {
		maxLag = n / 2
	}

	bestLag, bestVal := 0, math.Inf(-1)
	consider := func(idx, lag int) {
		if v := math.Abs(corr[idx]); v > bestVal {
			bestVal = v
			bestLag = lag
		}
	}
	for lag := 0; lag <= maxLag; lag++ {
		consider(lag, lag)
	}
	for lag := 1; lag <= maxLag; lag++ {
		consider(n-lag, -lag)
	}

	abs := make([]float64, 0, 2*maxLag+1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		idx := lag
		if idx < 0 {
			idx += n
		}
		abs = append(abs, math.Abs(corr[idx]))
	}
	sort.Float64s(abs)
	median := abs[len(abs)/2]
	if median > 0 {
		peakRatio = bestVal / median
	}

	return float64(bestLag) / float64(sampleRate) * 1000, peakRatio
}

// RMSdB computes the RMS level of a window in dBFS for float samples in
// [-1, 1]. Digital silence clamps at the -96 dB floor the RMS silence
// detector uses.
func RMSdB(window []float64) float64 {
	if len(window) == 0 {
		return -96
	}
	var sum float64
	for _, v := range window {
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(window)))
	if rms <= 0 {
		return -96
	}
	db := 20 * math.Log10(rms)
	if db < -96 {
		db = -96
	}
	return db
}
