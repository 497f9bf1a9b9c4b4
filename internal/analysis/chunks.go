package analysis

// chunkWindow is one correlation chunk's placement: a start time on the
// reference timeline and the sample range both buffers are sliced at.
type chunkWindow struct {
	startS      float64
	startSample int
	numSamples  int
}

// placeChunks distributes count chunks of durationS uniformly over
// [startPct*total, endPct*total - durationS] of a buffer of totalSamples
// at sampleRate. Chunks that would overrun either buffer are
// dropped here rather than silently misaligned, so the returned window
// list already respects refSamples and tgtSamples.
func placeChunks(count int, durationS, startPct, endPct float64, sampleRate, refSamples, tgtSamples int) []chunkWindow {
	if count < 1 {
		return nil
	}
	totalS := float64(refSamples) / float64(sampleRate)

	lo := totalS * startPct / 100
	hi := totalS*endPct/100 - durationS
	if hi < lo {
		hi = lo
	}

	chunkSamples := int(durationS * float64(sampleRate))
	var out []chunkWindow
	for i := 0; i < count; i++ {
		var startS float64
		if count == 1 {
			startS = lo
		} else {
			startS = lo + (hi-lo)*float64(i)/float64(count-1)
		}
		startSample := int(startS * float64(sampleRate))
		if startSample+chunkSamples > refSamples || startSample+chunkSamples > tgtSamples {
			continue // would overrun one of the buffers
		}
		out = append(out, chunkWindow{startS: startS, startSample: startSample, numSamples: chunkSamples})
	}
	return out
}

// sliceCopy returns an owned copy of buf[start:start+n]; each chunk gets
// independent slices
// so a kernel can never alias another chunk's window.
func sliceCopy(buf []float64, start, n int) []float64 {
	out := make([]float64, n)
	copy(out, buf[start:start+n])
	return out
}
