package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

func jobWithDelays(t *testing.T, delays map[string]int) *core.Job {
	t.Helper()
	job := core.NewJob(core.JobSpec{
		SourceFiles: map[string]string{"Source 1": "/ref.mkv", "Source 2": "/a.mkv", "Source 3": "/b.mkv"},
		Layout: []core.LayoutItem{
			{Source: "Source 1", TrackID: 0, Kind: core.Video},
			{Source: "Source 2", TrackID: 1, Kind: core.Audio},
			{Source: "Source 3", TrackID: 1, Kind: core.Audio},
		},
	}, nil, core.ToolPaths{}, nil)
	for s, d := range delays {
		job.Delays.Set(s, d, float64(d))
	}
	return job
}

func TestGlobalShiftLiftsNegativeDelays(t *testing.T) {
	job := jobWithDelays(t, map[string]int{"Source 2": -180, "Source 3": 40})
	ApplyGlobalShift(job, "positive_only")

	assert.Equal(t, 180, job.Delays.GlobalShiftMs)
	assert.True(t, job.Delays.GlobalShiftApplied)
	assert.Equal(t, 0, job.Delays.SourceDelaysMs["Source 2"])
	assert.Equal(t, 220, job.Delays.SourceDelaysMs["Source 3"])

	// min(all considered delays) + global_shift >= 0
	for _, d := range job.Delays.SourceDelaysMs {
		assert.GreaterOrEqual(t, d, 0)
	}
}

func TestGlobalShiftNoopWhenAllNonNegative(t *testing.T) {
	job := jobWithDelays(t, map[string]int{"Source 2": 250})
	ApplyGlobalShift(job, "positive_only")
	assert.Equal(t, 0, job.Delays.GlobalShiftMs)
	assert.False(t, job.Delays.GlobalShiftApplied)
	assert.Equal(t, 250, job.Delays.SourceDelaysMs["Source 2"])
}

func TestGlobalShiftSkippedInAllowNegativeMode(t *testing.T) {
	job := jobWithDelays(t, map[string]int{"Source 2": -300})
	ApplyGlobalShift(job, "allow_negative")
	assert.Equal(t, 0, job.Delays.GlobalShiftMs)
	assert.Equal(t, -300, job.Delays.SourceDelaysMs["Source 2"])
}

func TestGlobalShiftConsidersSource1ContainerDelays(t *testing.T) {
	job := jobWithDelays(t, map[string]int{"Source 2": 10})
	cd := core.NewContainerDelayInfo()
	cd.AudioDelaysMs[1] = -50
	job.ContainerDelays["Source 1"] = cd

	ApplyGlobalShift(job, "positive_only")
	assert.Equal(t, 50, job.Delays.GlobalShiftMs)
	assert.Equal(t, 60, job.Delays.SourceDelaysMs["Source 2"])
}

func TestGlobalShiftIgnoresSubtitleOnlySources(t *testing.T) {
	// Source 3 contributes no audio to the layout; its negative delay
	// must not force a shift.
	job := core.NewJob(core.JobSpec{
		SourceFiles: map[string]string{"Source 1": "/ref.mkv", "Source 2": "/a.mkv", "Source 3": "/subs.mkv"},
		Layout: []core.LayoutItem{
			{Source: "Source 1", TrackID: 0, Kind: core.Video},
			{Source: "Source 2", TrackID: 1, Kind: core.Audio},
			{Source: "Source 3", TrackID: 2, Kind: core.Subtitles},
		},
	}, nil, core.ToolPaths{}, nil)
	job.Delays.Set("Source 2", 100, 100)
	job.Delays.Set("Source 3", -400, -400)

	ApplyGlobalShift(job, "positive_only")
	assert.Equal(t, 0, job.Delays.GlobalShiftMs)
}

func TestChunkPlacementSkipsOverruns(t *testing.T) {
	const sr = 1000
	// ref buffer 100 s, target only 50 s: chunks placed past ~45 s
	// cannot fit a 5 s window in the target and must be skipped, not
	// silently misaligned
	windows := placeChunks(10, 5, 0, 100, sr, 100*sr, 50*sr)
	for _, w := range windows {
		assert.LessOrEqual(t, w.startSample+w.numSamples, 50*sr)
	}
	assert.NotEmpty(t, windows)
	assert.Less(t, len(windows), 10)
}

func TestChunkPlacementUniformCoverage(t *testing.T) {
	const sr = 1000
	windows := placeChunks(5, 10, 5, 95, sr, 1000*sr, 1000*sr)
	assert.Len(t, windows, 5)
	assert.InDelta(t, 50.0, windows[0].startS, 1e-9)
	for i := 1; i < len(windows); i++ {
		assert.Greater(t, windows[i].startS, windows[i-1].startS)
	}
	last := windows[len(windows)-1]
	assert.LessOrEqual(t, last.startS+10, 950.0+1e-9)
}
