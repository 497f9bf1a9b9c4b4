package analysis

import (
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// ApplyGlobalShift lifts the most negative delay to zero when the sync
// mode requires non-negative outputs. Only delays of audio tracks
// that will actually be muxed, plus Source 1's own audio container delays,
// participate in the minimum.
func ApplyGlobalShift(job *core.Job, syncMode string) {
	if syncMode == "allow_negative" || syncMode == "preserve_existing" {
		return
	}

	minRounded, minRaw := 0, 0.0
	consider := func(rounded int, raw float64) {
		if rounded < minRounded {
			minRounded = rounded
		}
		if raw < minRaw {
			minRaw = raw
		}
	}

	// Secondary sources contributing audio to the mux.
	audioSources := make(map[string]bool)
	for _, li := range job.Spec.Layout {
		if li.Kind == core.Audio {
			audioSources[li.Source] = true
		}
	}
	for source, d := range job.Delays.SourceDelaysMs {
		if !audioSources[source] {
			continue
		}
		consider(d, job.Delays.RawSourceDelaysMs[source])
	}

	// Source 1's container-declared audio delays are preserved verbatim at
	// mux, so they participate in the non-negativity guarantee.
	if cd, ok := job.ContainerDelays["Source 1"]; ok {
		for _, d := range cd.AudioDelaysMs {
			consider(d, float64(d))
		}
	}

	if minRounded >= 0 {
		return
	}

	job.Delays.GlobalShiftMs = -minRounded
	job.Delays.RawGlobalShiftMs = -minRaw
	job.Delays.GlobalShiftApplied = true

	for source := range job.Delays.SourceDelaysMs {
		job.Delays.SourceDelaysMs[source] += job.Delays.GlobalShiftMs
		job.Delays.RawSourceDelaysMs[source] += job.Delays.RawGlobalShiftMs
	}
}
