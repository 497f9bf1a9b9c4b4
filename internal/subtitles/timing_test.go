package subtitles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	astisub "github.com/tassa-yoniso-manasi-karoto/go-astisub"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

func fileWithEvents(events []Event) *File {
	subs := astisub.NewSubtitles()
	for _, ev := range events {
		item := &astisub.Item{
			StartAt: time.Duration(ev.StartMs * float64(time.Millisecond)),
			EndAt:   time.Duration(ev.EndMs * float64(time.Millisecond)),
		}
		if ev.StyleName != "" {
			item.Style = &astisub.Style{ID: ev.StyleName}
		}
		subs.Items = append(subs.Items, item)
	}
	return &File{subs: subs, Format: "ass", Events: events}
}

func TestSteppingEDLShiftsPiecewise(t *testing.T) {
	edl := core.EDL{
		{StartS: 0, DelayMs: 0, DelayRawMs: 0},
		{StartS: 600, DelayMs: 120, DelayRawMs: 120.3},
		{StartS: 1500, DelayMs: 240, DelayRawMs: 240.1},
	}
	f := fileWithEvents([]Event{
		{StartMs: 10_000, EndMs: 12_000},    // segment 0
		{StartMs: 700_000, EndMs: 702_500},  // segment 1
		{StartMs: 1600_000, EndMs: 1603_000}, // segment 2
	})

	moved := f.ApplySteppingEDL(edl, 0)
	assert.True(t, moved)
	assert.Equal(t, 10_000.0, f.Events[0].StartMs, "segment 0 carries zero delay")
	assert.InDelta(t, 700_120.3, f.Events[1].StartMs, 1e-9)
	assert.InDelta(t, 702_620.3, f.Events[1].EndMs, 1e-9, "duration preserved")
	assert.InDelta(t, 1600_240.1, f.Events[2].StartMs, 1e-9)
}

func TestSteppingEDLAllZeroOffsetsLeavesTimesIdentical(t *testing.T) {
	edl := core.EDL{{StartS: 0, DelayMs: 0, DelayRawMs: 0}}
	events := []Event{{StartMs: 10_000.25, EndMs: 12_000.75}}
	f := fileWithEvents(events)

	moved := f.ApplySteppingEDL(edl, 0)
	assert.False(t, moved, "zero offsets must not set stepping_adjusted")
	assert.Equal(t, 10_000.25, f.Events[0].StartMs)
	assert.Equal(t, 12_000.75, f.Events[0].EndMs)
}

func TestSteppingEDLFoldsGlobalShift(t *testing.T) {
	edl := core.EDL{{StartS: 0, DelayMs: -180, DelayRawMs: -180}}
	f := fileWithEvents([]Event{{StartMs: 1000, EndMs: 2000}})
	moved := f.ApplySteppingEDL(edl, 180)
	assert.False(t, moved, "delay and shift cancel to zero")
	assert.Equal(t, 1000.0, f.Events[0].StartMs)
}

func TestApplyOffsetCountsNegativeStarts(t *testing.T) {
	f := fileWithEvents([]Event{
		{StartMs: 100, EndMs: 500},
		{StartMs: 900, EndMs: 1200},
	})
	f.ApplyOffset(-250.5)
	assert.Equal(t, 1, f.NegativeStarts)
	assert.InDelta(t, -150.5, f.MinStartMs, 1e-9)
	assert.InDelta(t, -150.5, f.Events[0].StartMs, 1e-9, "raw value survives for the auditor")
}

func TestRounding(t *testing.T) {
	// ASS centisecond unit
	cases := []struct {
		mode RoundingMode
		raw  float64
		want int64
	}{
		{RoundFloor, 1234.9, 123},
		{RoundHalf, 1234.9, 123},
		{RoundHalf, 1235.0, 124}, // 123.5 cs rounds half away... math.Round(123.5)=124
		{RoundCeil, 1230.1, 124},
		{RoundFloor, 1239.9, 123},
	}
	for _, c := range cases {
		got := applyRounding(c.raw, 10, c.mode)
		assert.Equal(t, c.want, got, "mode=%s raw=%v", c.mode, c.raw)
	}

	// SRT millisecond unit
	assert.Equal(t, int64(1234), applyRounding(1234.4, 1, RoundHalf))
	assert.Equal(t, int64(1235), applyRounding(1234.5, 1, RoundHalf))
	assert.Equal(t, int64(1234), applyRounding(1234.9, 1, RoundFloor))
	assert.Equal(t, int64(1235), applyRounding(1234.1, 1, RoundCeil))
}

func TestStyleFilterExcludeWithForcedInclude(t *testing.T) {
	f := fileWithEvents([]Event{
		{StyleName: "Main", Text: "dialogue"},
		{StyleName: "Sign", Text: "sign"},
		{StyleName: "Karaoke", Text: "kara"},
		{StyleName: "Alt", Text: "alt"},
	})
	f.ApplyStyleFilter(&core.SubtitleFilter{
		Mode:          "exclude",
		Styles:        []string{"Sign", "Karaoke"},
		ForcedInclude: []string{"Main"},
	}, testLogger{})

	var kept []string
	for _, ev := range f.Events {
		kept = append(kept, ev.StyleName)
	}
	assert.Equal(t, []string{"Main", "Alt"}, kept)
	assert.Len(t, f.subs.Items, 2, "astisub items stay parallel to the overlay")
}

func TestStyleFilterIncludeMode(t *testing.T) {
	f := fileWithEvents([]Event{
		{StyleName: "Main"},
		{StyleName: "Sign"},
	})
	f.ApplyStyleFilter(&core.SubtitleFilter{Mode: "include", Styles: []string{"Main"}}, testLogger{})
	assert.Len(t, f.Events, 1)
	assert.Equal(t, "Main", f.Events[0].StyleName)
}

func TestStyleFilterForcedExcludeBeatsInclude(t *testing.T) {
	f := fileWithEvents([]Event{{StyleName: "Main"}, {StyleName: "Spoiler"}})
	f.ApplyStyleFilter(&core.SubtitleFilter{
		Mode:          "include",
		Styles:        []string{"Main", "Spoiler"},
		ForcedExclude: []string{"Spoiler"},
	}, testLogger{})
	assert.Len(t, f.Events, 1)
}

func TestStyleFilterNilIsNoop(t *testing.T) {
	f := fileWithEvents([]Event{{StyleName: "Main"}})
	f.ApplyStyleFilter(nil, testLogger{})
	assert.Len(t, f.Events, 1)
}

// testLogger satisfies core.Logger.
type testLogger struct{}
type testEvent struct{}

func (testLogger) Trace() core.LogEvent { return testEvent{} }
func (testLogger) Debug() core.LogEvent { return testEvent{} }
func (testLogger) Info() core.LogEvent  { return testEvent{} }
func (testLogger) Warn() core.LogEvent  { return testEvent{} }
func (testLogger) Error() core.LogEvent { return testEvent{} }

func (e testEvent) Err(error) core.LogEvent               { return e }
func (e testEvent) Str(string, string) core.LogEvent      { return e }
func (e testEvent) Int(string, int) core.LogEvent         { return e }
func (e testEvent) Float64(string, float64) core.LogEvent { return e }
func (e testEvent) Bool(string, bool) core.LogEvent       { return e }
func (testEvent) Msg(string)                              {}
func (testEvent) Msgf(string, ...interface{})             {}
