package correction

import (
	"context"
	"math"
	"sort"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/dsp"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
)

// silenceZone is one candidate snap target on the target timeline.
type silenceZone struct {
	startS  float64
	endS    float64
	depthDB float64
	score   float64
}

func (z silenceZone) centerS() float64   { return (z.startS + z.endS) / 2 }
func (z silenceZone) durationS() float64 { return z.endS - z.startS }

func (z silenceZone) contains(t float64) bool {
	return t >= z.startS && t <= z.endS
}

// rmsWindowS is the RMS silence detector's analysis window").
const rmsWindowS = 0.05

// detectSilenceRMS scans pcm over [fromS, toS] with 50 ms RMS windows,
// merging consecutive windows below the threshold into zones and keeping
// those that last at least minDurationS.
func detectSilenceRMS(pcm []float64, sampleRate int, fromS, toS, thresholdDB, minDurationS float64) []silenceZone {
	win := int(rmsWindowS * float64(sampleRate))
	if win < 1 {
		return nil
	}
	start := int(fromS * float64(sampleRate))
	end := int(toS * float64(sampleRate))
	if start < 0 {
		start = 0
	}
	if end > len(pcm) {
		end = len(pcm)
	}

	var zones []silenceZone
	var open bool
	var zoneStart int
	var depths []float64
	for pos := start; pos+win <= end; pos += win {
		db := dsp.RMSdB(pcm[pos : pos+win])
		if db <= thresholdDB {
			if !open {
				open = true
				zoneStart = pos
				depths = depths[:0]
			}
			depths = append(depths, db)
			continue
		}
		if open {
			open = false
			zones = appendZone(zones, zoneStart, pos, sampleRate, depths, minDurationS)
		}
	}
	if open {
		zones = appendZone(zones, zoneStart, end, sampleRate, depths, minDurationS)
	}
	return zones
}

func appendZone(zones []silenceZone, startSample, endSample, sampleRate int, depths []float64, minDurationS float64) []silenceZone {
	z := silenceZone{
		startS:  float64(startSample) / float64(sampleRate),
		endS:    float64(endSample) / float64(sampleRate),
		depthDB: dsp.Mean(depths),
	}
	if z.durationS() < minDurationS {
		return zones
	}
	return append(zones, z)
}

// fusion scoring weights, tuned empirically on stepped-source corpora:
// deeper silence and proximity to the unsnapped boundary dominate, longer
// zones and the absence of speech or transients break ties.
const (
	weightDepth        = 0.35
	weightDistance     = 0.30
	weightDuration     = 0.15
	bonusNoSpeech      = 0.12
	bonusNoTransient   = 0.08
	transientWindowS   = 0.02
	transientJumpRatio = 4.0
)

// scoreZones ranks candidate zones around originS with the smart-fusion
// weighting.
func scoreZones(zones []silenceZone, originS, searchWindowS float64, pcm []float64, sampleRate int, avoidSpeech bool) []silenceZone {
	if len(zones) == 0 {
		return nil
	}
	maxDepth := -96.0
	for _, z := range zones {
		if z.depthDB < maxDepth || maxDepth == -96.0 {
			maxDepth = z.depthDB
		}
	}
	scored := make([]silenceZone, len(zones))
	for i, z := range zones {
		depthScore := 0.0
		if maxDepth < 0 {
			depthScore = z.depthDB / maxDepth // deeper (more negative) -> closer to 1
			if depthScore > 1 {
				depthScore = 1
			}
		}
		dist := math.Abs(z.centerS() - originS)
		distScore := 1 - dist/searchWindowS
		if distScore < 0 {
			distScore = 0
		}
		durScore := z.durationS() / 1.0
		if durScore > 1 {
			durScore = 1
		}

		score := weightDepth*depthScore + weightDistance*distScore + weightDuration*durScore
		if avoidSpeech && !looksLikeSpeech(pcm, sampleRate, z) {
			score += bonusNoSpeech
		}
		if !hasTransientAtEdges(pcm, sampleRate, z) {
			score += bonusNoTransient
		}
		z.score = score
		scored[i] = z
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

// looksLikeSpeech is a cheap energy-modulation VAD: speech-adjacent
// silence shows strong 4-8 Hz envelope modulation in the surrounding
// second of audio.
func looksLikeSpeech(pcm []float64, sampleRate int, z silenceZone) bool {
	pad := 0.5
	start := int((z.startS - pad) * float64(sampleRate))
	end := int((z.endS + pad) * float64(sampleRate))
	if start < 0 {
		start = 0
	}
	if end > len(pcm) {
		end = len(pcm)
	}
	if end-start < sampleRate/2 {
		return false
	}
	win := int(rmsWindowS * float64(sampleRate))
	var env []float64
	for pos := start; pos+win <= end; pos += win {
		env = append(env, dsp.RMSdB(pcm[pos:pos+win]))
	}
	if len(env) < 4 {
		return false
	}
	// modulation depth: speech alternates loud syllables and gaps
	return dsp.StdDev(env) > 8.0
}

// hasTransientAtEdges reports an abrupt level jump right at either zone
// edge — cutting there would click.
func hasTransientAtEdges(pcm []float64, sampleRate int, z silenceZone) bool {
	check := func(atS float64) bool {
		win := int(transientWindowS * float64(sampleRate))
		at := int(atS * float64(sampleRate))
		if at-win < 0 || at+win > len(pcm) {
			return false
		}
		before := math.Abs(dsp.RMSdB(pcm[at-win : at]))
		after := math.Abs(dsp.RMSdB(pcm[at : at+win]))
		if before == 0 || after == 0 {
			return false
		}
		ratio := before / after
		if ratio < 1 {
			ratio = 1 / ratio
		}
		return ratio > transientJumpRatio
	}
	return check(z.startS) || check(z.endS)
}

// snapToSilence finds the best silence zone within ±searchWindowS of
// boundaryS on the target timeline and returns its center plus the zone
// itself. ok is false when no zone qualifies; the caller
// keeps the unsnapped boundary.
func snapToSilence(ctx context.Context, job *core.Job, s *config.Settings, targetPath string, streamIndex int, pcm []float64, sampleRate int, boundaryS float64) (float64, silenceZone, bool) {
	fromS := boundaryS - s.SteppingSilenceSearchWindowS
	toS := boundaryS + s.SteppingSilenceSearchWindowS
	if fromS < 0 {
		fromS = 0
	}

	var zones []silenceZone
	switch s.SteppingSilenceDetection {
	case "external":
		zones = externalZones(ctx, job, targetPath, streamIndex, fromS, toS, s)
	case "rms":
		zones = detectSilenceRMS(pcm, sampleRate, fromS, toS, s.SteppingSilenceThresholdDB, s.SteppingSilenceMinDurationS)
	default: // smart fusion: union of both detectors, deduplicated by overlap
		zones = fuseZones(
			externalZones(ctx, job, targetPath, streamIndex, fromS, toS, s),
			detectSilenceRMS(pcm, sampleRate, fromS, toS, s.SteppingSilenceThresholdDB, s.SteppingSilenceMinDurationS),
		)
	}
	if len(zones) == 0 {
		return boundaryS, silenceZone{}, false
	}

	avoidSpeech := s.SteppingSilenceDetection == "smart"
	ranked := scoreZones(zones, boundaryS, s.SteppingSilenceSearchWindowS, pcm, sampleRate, avoidSpeech)
	best := ranked[0]
	return best.centerS(), best, true
}

func externalZones(ctx context.Context, job *core.Job, path string, streamIndex int, fromS, toS float64, s *config.Settings) []silenceZone {
	ranges, err := media.DetectSilence(ctx, path, streamIndex, fromS, toS, s.SteppingSilenceThresholdDB, s.SteppingSilenceMinDurationS)
	if err != nil {
		return nil
	}
	zones := make([]silenceZone, 0, len(ranges))
	for _, r := range ranges {
		zones = append(zones, silenceZone{startS: r.StartS, endS: r.EndS, depthDB: r.ThreshDB})
	}
	return zones
}

// fuseZones merges two detector outputs: overlapping zones collapse into
// their intersection-leaning union, keeping the deeper depth estimate.
func fuseZones(a, b []silenceZone) []silenceZone {
	all := append(append([]silenceZone(nil), a...), b...)
	sort.Slice(all, func(i, j int) bool { return all[i].startS < all[j].startS })
	var out []silenceZone
	for _, z := range all {
		if len(out) > 0 && z.startS <= out[len(out)-1].endS {
			last := &out[len(out)-1]
			if z.endS > last.endS {
				last.endS = z.endS
			}
			if z.depthDB < last.depthDB {
				last.depthDB = z.depthDB
			}
			continue
		}
		out = append(out, z)
	}
	return out
}
