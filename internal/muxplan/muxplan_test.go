package muxplan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

type recordingHandler struct{}

func (recordingHandler) ZeroLog() core.Logger                       { return nil }
func (recordingHandler) UpdateProgress(string, int, int, string)    {}
func (recordingHandler) Cancelled() bool                            { return false }

func testJob(items []core.PlanItem) *core.Job {
	job := core.NewJob(core.JobSpec{
		SourceFiles: map[string]string{"Source 1": "/ref.mkv", "Source 2": "/sec.mkv"},
		Layout:      []core.LayoutItem{{Source: "Source 1", Kind: core.Video}},
	}, nil, core.ToolPaths{}, recordingHandler{})
	job.PlanItems = items
	return job
}

func videoItem() core.PlanItem {
	return core.PlanItem{
		Track:         core.Track{Source: "Source 1", ID: 0, Kind: core.Video, Language: "und"},
		ExtractedPath: "/tmp/video.h264",
	}
}

func audioItem(source string, id int, def bool) core.PlanItem {
	return core.PlanItem{
		Track:         core.Track{Source: source, ID: id, Kind: core.Audio, CodecID: "A_FLAC", Language: "jpn"},
		ExtractedPath: "/tmp/audio.flac",
		IsDefault:     def,
	}
}

func subItem(source string, id int, def, forced bool) core.PlanItem {
	return core.PlanItem{
		Track:           core.Track{Source: source, ID: id, Kind: core.Subtitles, CodecID: "S_TEXT/ASS", Language: "eng"},
		ExtractedPath:   "/tmp/subs.ass",
		IsDefault:       def,
		IsForcedDisplay: forced,
	}
}

// tokensAfter extracts the value following each occurrence of flag.
func tokensAfter(tokens []string, flag string) []string {
	var out []string
	for i, tok := range tokens {
		if tok == flag && i+1 < len(tokens) {
			out = append(out, tokens[i+1])
		}
	}
	return out
}

func settings() *config.Settings {
	return &config.Settings{}
}

func TestSyncForConstantDelay(t *testing.T) {
	job := testJob([]core.PlanItem{videoItem(), audioItem("Source 2", 1, true)})
	job.Delays.Set("Source 2", 250, 250.2)
	job.Settings = settings()

	require.NoError(t, Build(job))
	syncs := tokensAfter(job.MuxTokens, "--sync")
	assert.Equal(t, []string{"0:+0", "0:+250"}, syncs)
}

func TestGlobalShiftAppearsOnSource1(t *testing.T) {
	// Scenario: Source 2 delayed by -180 ms with positive_only sync.
	job := testJob([]core.PlanItem{videoItem(), audioItem("Source 2", 1, true)})
	job.Settings = settings()
	job.Delays.Set("Source 2", -180, -180)
	job.Delays.GlobalShiftMs = 180
	job.Delays.RawGlobalShiftMs = 180
	job.Delays.GlobalShiftApplied = true
	job.Delays.SourceDelaysMs["Source 2"] = 0
	job.Delays.RawSourceDelaysMs["Source 2"] = 0

	require.NoError(t, Build(job))
	syncs := tokensAfter(job.MuxTokens, "--sync")
	assert.Equal(t, "0:+180", syncs[0], "Source 1 video carries the global shift")
	assert.Equal(t, "0:+0", syncs[1], "Source 2 audio is lifted to zero")
}

func TestPreservedItemsGroupAfterLastAudio(t *testing.T) {
	corrected := audioItem("Source 2", 1, true)
	corrected.IsCorrected = true
	preserved := audioItem("Source 2", 1, false)
	preserved.IsPreserved = true
	preserved.Track.Name = "Surround (Original)"

	items := []core.PlanItem{videoItem(), corrected, subItem("Source 2", 3, true, false), preserved}
	out := Reorder(items)

	require.Len(t, out, 4)
	assert.Equal(t, core.Video, out[0].Track.Kind)
	assert.True(t, out[1].IsCorrected)
	assert.True(t, out[2].IsPreserved, "preserved item sits immediately after the last audio item")
	assert.Equal(t, core.Subtitles, out[3].Track.Kind)
}

func TestPreservedItemsAppendWhenNoAudio(t *testing.T) {
	preserved := audioItem("Source 2", 1, false)
	preserved.IsPreserved = true
	items := []core.PlanItem{videoItem(), subItem("Source 1", 2, true, false), preserved}
	out := Reorder(items)
	assert.True(t, out[len(out)-1].IsPreserved)
}

func TestExactlyOneDefaultPerType(t *testing.T) {
	job := testJob([]core.PlanItem{
		videoItem(),
		audioItem("Source 2", 1, true),
		audioItem("Source 2", 2, true), // also flagged, must not win
		subItem("Source 1", 3, true, false),
		subItem("Source 1", 4, true, false),
	})
	job.Settings = settings()
	require.NoError(t, Build(job))

	flags := tokensAfter(job.MuxTokens, "--default-track-flag")
	yes := 0
	for _, f := range flags {
		if f == "0:yes" {
			yes++
		}
	}
	assert.Equal(t, 3, yes, "one default each for video, audio, subtitles")
	assert.Equal(t, []string{"0:yes", "0:yes", "0:no", "0:yes", "0:no"}, flags)
}

func TestForcedDisplayOnlyOnFirstForcedSubtitle(t *testing.T) {
	job := testJob([]core.PlanItem{
		videoItem(),
		subItem("Source 1", 3, true, true),
		subItem("Source 1", 4, false, true),
	})
	job.Settings = settings()
	require.NoError(t, Build(job))

	count := 0
	for _, tok := range job.MuxTokens {
		if tok == "--forced-display-flag" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSteppingAdjustedSubtitleGetsZeroSync(t *testing.T) {
	sub := subItem("Source 2", 3, true, false)
	sub.SteppingAdjusted = true
	job := testJob([]core.PlanItem{videoItem(), sub})
	job.Settings = settings()
	job.Delays.Set("Source 2", 240, 240)

	require.NoError(t, Build(job))
	syncs := tokensAfter(job.MuxTokens, "--sync")
	assert.Equal(t, "0:+0", syncs[1], "event timestamps already carry the shift")
}

func TestExternalSubtitleTracksItsSyncAnchor(t *testing.T) {
	sub := subItem("Source 2", 3, true, false)
	sub.SyncTo = "Source 3"
	job := testJob([]core.PlanItem{videoItem(), sub})
	job.Settings = settings()
	job.Delays.Set("Source 3", 90, 90)

	require.NoError(t, Build(job))
	syncs := tokensAfter(job.MuxTokens, "--sync")
	assert.Equal(t, "0:+90", syncs[1])
}

func TestSource1AudioKeepsContainerDelay(t *testing.T) {
	a := audioItem("Source 1", 1, true)
	a.ContainerDelayMs = 7
	job := testJob([]core.PlanItem{videoItem(), a})
	job.Settings = settings()

	require.NoError(t, Build(job))
	syncs := tokensAfter(job.MuxTokens, "--sync")
	assert.Equal(t, "0:+7", syncs[1])
}

func TestDialogNormRemovalOnlyForAC3(t *testing.T) {
	ac3 := audioItem("Source 2", 1, true)
	ac3.Track.CodecID = "A_AC3"
	dts := audioItem("Source 2", 2, false)
	dts.Track.CodecID = "A_DTS"
	job := testJob([]core.PlanItem{videoItem(), ac3, dts})
	job.Settings = settings()
	job.Settings.ApplyDialogNormGain = true

	require.NoError(t, Build(job))
	count := 0
	for _, tok := range job.MuxTokens {
		if tok == "--remove-dialog-normalization-gain" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTrackOrderListsEveryItem(t *testing.T) {
	job := testJob([]core.PlanItem{videoItem(), audioItem("Source 2", 1, true)})
	job.Settings = settings()
	require.NoError(t, Build(job))

	last := job.MuxTokens[len(job.MuxTokens)-1]
	assert.Equal(t, "0:0,1:0", last)
	assert.Equal(t, "--track-order", job.MuxTokens[len(job.MuxTokens)-2])
}

func TestChapterFlagPrefix(t *testing.T) {
	job := testJob([]core.PlanItem{videoItem()})
	job.Settings = settings()
	job.ChaptersXML = "/tmp/chapters.xml"
	job.Settings.DisableTrackStatisticsTags = true

	require.NoError(t, Build(job))
	assert.Equal(t, "--chapters", job.MuxTokens[0])
	assert.Equal(t, "/tmp/chapters.xml", job.MuxTokens[1])
	assert.Equal(t, "--disable-track-statistics-tags", job.MuxTokens[2])
}

func TestPathsWrappedInParens(t *testing.T) {
	job := testJob([]core.PlanItem{videoItem()})
	job.Settings = settings()
	require.NoError(t, Build(job))

	joined := strings.Join(job.MuxTokens, " ")
	assert.Contains(t, joined, "( /tmp/video.h264 )")
}

func TestEmptyAttachmentsProduceNoFlags(t *testing.T) {
	job := testJob([]core.PlanItem{videoItem()})
	job.Settings = settings()
	require.NoError(t, Build(job))
	assert.NotContains(t, job.MuxTokens, "--attach-file")
}
