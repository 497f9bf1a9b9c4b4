package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	frameSize = 2048
	hopSize   = 512
	melBands  = 26
	mfccCoefs = 13
)

// frame splits x into overlapping windows of frameSize with hopSize stride,
// each multiplied by a Hann window, returning the magnitude spectrum (first
// frameSize/2+1 bins) of every frame.
func frame(x []float64) [][]float64 {
	if len(x) < frameSize {
		return nil
	}
	win := hann(frameSize)
	fftr := fourier.NewFFT(frameSize)

	n := (len(x)-frameSize)/hopSize + 1
	out := make([][]float64, 0, n)
	buf := make([]float64, frameSize)
	for start := 0; start+frameSize <= len(x); start += hopSize {
		for i := 0; i < frameSize; i++ {
			buf[i] = x[start+i] * win[i]
		}
		spec := fftr.Coefficients(nil, buf)
		mag := make([]float64, len(spec))
		for i, c := range spec {
			mag[i] = cabs(c)
		}
		out = append(out, mag)
	}
	return out
}

func cabs(c complex128) float64 {
	re, im := real(c), imag(c)
	return math.Sqrt(re*re + im*im)
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// melFilterbank builds a triangular mel filterbank of melBands filters over
// nBins linear-frequency FFT bins covering [0, sampleRate/2].
func melFilterbank(nBins, sampleRate int) [][]float64 {
	toMel := func(f float64) float64 { return 2595 * math.Log10(1+f/700) }
	toHz := func(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

	maxHz := float64(sampleRate) / 2
	maxMel := toMel(maxHz)
	points := make([]float64, melBands+2)
	for i := range points {
		points[i] = toHz(maxMel * float64(i) / float64(melBands+1))
	}
	binFreq := func(i int) float64 { return float64(i) * maxHz / float64(nBins-1) }

	filters := make([][]float64, melBands)
	for m := 0; m < melBands; m++ {
		lo, mid, hi := points[m], points[m+1], points[m+2]
		filt := make([]float64, nBins)
		for i := 0; i < nBins; i++ {
			f := binFreq(i)
			switch {
			case f >= lo && f <= mid && mid > lo:
				filt[i] = (f - lo) / (mid - lo)
			case f > mid && f <= hi && hi > mid:
				filt[i] = (hi - f) / (hi - mid)
			}
		}
		filters[m] = filt
	}
	return filters
}

// melSpectrogram reduces x to a melBands x numFrames log-power spectrogram.
func melSpectrogram(x []float64, sampleRate int) [][]float64 {
	frames := frame(x)
	if len(frames) == 0 {
		return nil
	}
	fb := melFilterbank(len(frames[0]), sampleRate)

	out := make([][]float64, len(frames))
	for fi, mag := range frames {
		bands := make([]float64, melBands)
		for m, filt := range fb {
			var e float64
			for i, v := range filt {
				e += v * mag[i] * mag[i]
			}
			bands[m] = 10 * math.Log10(e+1e-10)
		}
		out[fi] = bands
	}
	return out
}

// dctII applies the first mfccCoefs coefficients of a type-II DCT to x.
func dctII(x []float64) []float64 {
	n := len(x)
	out := make([]float64, mfccCoefs)
	for k := 0; k < mfccCoefs; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += x[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		out[k] = sum
	}
	return out
}

// mfcc computes one mfccCoefs-dimensional feature vector per frame.
func mfcc(x []float64, sampleRate int) [][]float64 {
	mel := melSpectrogram(x, sampleRate)
	out := make([][]float64, len(mel))
	for i, bands := range mel {
		out[i] = dctII(bands)
	}
	return out
}

// onsetEnvelope computes a spectral-flux onset-strength curve, one value
// per STFT frame: the sum of positive magnitude increases frame-to-frame.
func onsetEnvelope(x []float64) []float64 {
	frames := frame(x)
	if len(frames) < 2 {
		return nil
	}
	env := make([]float64, len(frames))
	for i := 1; i < len(frames); i++ {
		var flux float64
		for b := range frames[i] {
			d := frames[i][b] - frames[i-1][b]
			if d > 0 {
				flux += d
			}
		}
		env[i] = flux
	}
	return env
}

// OnsetEnvelope correlates onset-strength envelopes via GCC-PHAT and maps
// the frame-domain lag back to milliseconds through hop/sampleRate
//.
func OnsetEnvelope(ref, target []float64, sampleRate int) (float64, float64) {
	er := onsetEnvelope(ref)
	et := onsetEnvelope(target)
	if len(er) == 0 || len(et) == 0 {
		return 0, 0
	}
	lagMs, conf := GCCPHAT(er, et, 1) // sampleRate=1: lag comes back in frames x 1000
	lagFrames := lagMs / 1000
	return lagFrames * float64(hopSize) / float64(sampleRate) * 1000, conf
}

// meanAcrossBands collapses a melBands x numFrames spectrogram to one
// value per frame by averaging across mel bands.
func meanAcrossBands(spec [][]float64) []float64 {
	out := make([]float64, len(spec))
	for i, bands := range spec {
		var sum float64
		for _, v := range bands {
			sum += v
		}
		if len(bands) > 0 {
			out[i] = sum / float64(len(bands))
		}
	}
	return out
}

// MelSpectrogram reduces both signals to mel-dB spectrograms, averages
// across mel bands into 1-D sequences, and correlates those via GCC-PHAT
//.
func MelSpectrogram(ref, target []float64, sampleRate int) (float64, float64) {
	sr := melSpectrogram(ref, sampleRate)
	st := melSpectrogram(target, sampleRate)
	if len(sr) == 0 || len(st) == 0 {
		return 0, 0
	}
	seqRef := meanAcrossBands(sr)
	seqTgt := meanAcrossBands(st)
	lagMs, conf := GCCPHAT(seqRef, seqTgt, 1)
	lagFrames := lagMs / 1000
	return lagFrames * float64(hopSize) / float64(sampleRate) * 1000, conf
}

// dtwPath runs classic dynamic time warping with a Euclidean local cost
// over two sequences of feature vectors, returning the median
// (targetFrame - refFrame) offset of the optimal warping path and the
// mean per-step cost along that path.
func dtwPath(a, b [][]float64) (medianOffset float64, avgCost float64) {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return 0, math.Inf(1)
	}
	cost := make([][]float64, n+1)
	for i := range cost {
		cost[i] = make([]float64, m+1)
		for j := range cost[i] {
			cost[i][j] = math.Inf(1)
		}
	}
	cost[0][0] = 0

	dist := func(i, j int) float64 {
		var s float64
		for k := range a[i] {
			d := a[i][k] - b[j][k]
			s += d * d
		}
		return math.Sqrt(s)
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			d := dist(i-1, j-1)
			best := cost[i-1][j]
			if cost[i][j-1] < best {
				best = cost[i][j-1]
			}
			if cost[i-1][j-1] < best {
				best = cost[i-1][j-1]
			}
			cost[i][j] = d + best
		}
	}

	// backtrack from (n,m) to (0,0)
	i, j := n, m
	var offsets []float64
	var steps int
	var totalCost float64
	for i > 0 && j > 0 {
		offsets = append(offsets, float64(j-1-(i-1)))
		totalCost += dist(i-1, j-1)
		steps++
		// choose the predecessor with minimal cost
		up, left, diag := cost[i-1][j], cost[i][j-1], cost[i-1][j-1]
		switch {
		case diag <= up && diag <= left:
			i--
			j--
		case up <= left:
			i--
		default:
			j--
		}
	}
	sort.Float64s(offsets)
	median := offsets[len(offsets)/2]
	if steps > 0 {
		avgCost = totalCost / float64(steps)
	}
	return median, avgCost
}

// DTWMFCC aligns MFCC frame sequences of ref/target with dynamic time
// warping and reports the median frame offset of the warping path,
// converted to milliseconds via hop/sampleRate. Confidence is
// clamp(100 - avg_path_cost/2).
func DTWMFCC(ref, target []float64, sampleRate int) (float64, float64) {
	mr := mfcc(ref, sampleRate)
	mt := mfcc(target, sampleRate)
	if len(mr) == 0 || len(mt) == 0 {
		return 0, 0
	}
	medianOffset, avgCost := dtwPath(mr, mt)
	delayMs := medianOffset * float64(hopSize) / float64(sampleRate) * 1000
	conf := clamp(100-avgCost/2, 0, 100)
	return delayMs, conf
}
