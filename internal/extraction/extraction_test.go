package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/probe"
)

func TestExtForCodec(t *testing.T) {
	assert.Equal(t, "h264", ExtForCodec("V_MPEG4/ISO/AVC"))
	assert.Equal(t, "flac", ExtForCodec("A_FLAC"))
	assert.Equal(t, "ass", ExtForCodec("S_TEXT/ASS"))
	assert.Equal(t, "wav", ExtForCodec("A_MS/ACM"))
	assert.Equal(t, "bin", ExtForCodec("X_UNKNOWN"))
}

func probeResultWith(tracks ...probe.TrackInfo) *probe.Result {
	return &probe.Result{Tracks: tracks}
}

func audioTrack(id int, minTimestampNs int64) probe.TrackInfo {
	return probe.TrackInfo{
		ID:   id,
		Type: "audio",
		Properties: probe.TrackProperties{
			CodecID:          "A_AAC",
			MinimumTimestamp: minTimestampNs,
		},
	}
}

func videoTrack(id int, minTimestampNs int64) probe.TrackInfo {
	return probe.TrackInfo{
		ID:   id,
		Type: "video",
		Properties: probe.TrackProperties{
			CodecID:          "V_MPEG4/ISO/AVC",
			MinimumTimestamp: minTimestampNs,
		},
	}
}

func newTestJob() *core.Job {
	return core.NewJob(core.JobSpec{
		SourceFiles: map[string]string{"Source 1": "/ref.mkv", "Source 2": "/sec.mkv"},
		Layout:      []core.LayoutItem{{Source: "Source 1", Kind: core.Video}},
	}, nil, core.ToolPaths{}, nil)
}

// For Source 1 the video track's container delay is subtracted so
// audio delays are stored relative to the video timeline.
func TestContainerDelaysRebasedToVideoForSource1(t *testing.T) {
	job := newTestJob()
	pr := probeResultWith(videoTrack(0, 80_000_000), audioTrack(1, 100_000_000))

	err := recordContainerDelays(job, "Source 1", pr)
	assert.NoError(t, err)

	info := job.ContainerDelays["Source 1"]
	assert.Equal(t, 80, info.VideoDelayMs)
	assert.Equal(t, 20, info.AudioDelaysMs[1], "100ms - 80ms video delay")
}

func TestContainerDelaysVerbatimForSecondaries(t *testing.T) {
	job := newTestJob()
	pr := probeResultWith(videoTrack(0, 80_000_000), audioTrack(1, 100_000_000))

	err := recordContainerDelays(job, "Source 2", pr)
	assert.NoError(t, err)
	assert.Equal(t, 100, job.ContainerDelays["Source 2"].AudioDelaysMs[1])
}

func TestProbeDelayRounding(t *testing.T) {
	tr := audioTrack(1, 1_500_000) // exactly 1.5 ms
	assert.Equal(t, 2, tr.DelayMs())
	tr = audioTrack(1, -1_500_000)
	assert.Equal(t, -2, tr.DelayMs())
	tr = audioTrack(1, 1_499_999)
	assert.Equal(t, 1, tr.DelayMs())
}
