package chapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

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

func TestChapterTimeRoundTrip(t *testing.T) {
	cases := []string{
		"00:00:00.000000000",
		"01:23:45.678900000",
		"00:05:00.000000001",
	}
	for _, ts := range cases {
		ns, err := parseChapterTime(ts)
		require.NoError(t, err)
		assert.Equal(t, ts, formatChapterTime(ns))
	}
}

func TestParseChapterTimeShortFraction(t *testing.T) {
	ns, err := parseChapterTime("00:00:01.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), ns)
}

func TestParseChapterTimeMalformed(t *testing.T) {
	_, err := parseChapterTime("12:34")
	assert.Error(t, err)
}

func TestFormatDeltaUnits(t *testing.T) {
	assert.Equal(t, "+500ns", FormatDelta(500))
	assert.Equal(t, "-12.3µs", FormatDelta(-12_345))
	assert.Equal(t, "+42.0ms", FormatDelta(42_000_000))
	assert.Equal(t, "0ns", FormatDelta(0))
}

func docWith(starts ...string) *chapterXML {
	doc := &chapterXML{Editions: []editionXML{{}}}
	for _, s := range starts {
		doc.Editions[0].Atoms = append(doc.Editions[0].Atoms, chapterAtom{
			Start:    s,
			Displays: []chapterDisplay{{Text: "x", Language: "eng"}},
		})
	}
	return doc
}

func TestShiftAll(t *testing.T) {
	doc := docWith("00:00:10.000000000")
	shiftAll(doc, 180*1_000_000)
	assert.Equal(t, "00:00:10.180000000", doc.Editions[0].Atoms[0].Start)
}

func TestNormalizeSortsDedupsAndSeals(t *testing.T) {
	doc := docWith(
		"00:10:00.000000000",
		"00:00:00.000000000",
		"00:10:00.000000000", // duplicate start
		"00:20:00.000000000",
	)
	normalize(doc, testLogger{})

	atoms := doc.Editions[0].Atoms
	require.Len(t, atoms, 3, "duplicate start dropped")
	assert.Equal(t, "00:00:00.000000000", atoms[0].Start)
	assert.Equal(t, atoms[1].Start, atoms[0].End, "seamless: end equals next start")
	assert.Equal(t, atoms[2].Start, atoms[1].End)
	// final end = start + 1 s when no longer original end exists
	assert.Equal(t, "00:20:01.000000000", atoms[2].End)
}

func TestNormalizeKeepsLongerFinalEnd(t *testing.T) {
	doc := docWith("00:00:00.000000000")
	doc.Editions[0].Atoms[0].End = "00:25:00.000000000"
	normalize(doc, testLogger{})
	assert.Equal(t, "00:25:00.000000000", doc.Editions[0].Atoms[0].End)
}

func TestNormalizeCompletesLanguageCodes(t *testing.T) {
	doc := docWith("00:00:00.000000000")
	doc.Editions[0].Atoms[0].Displays = []chapterDisplay{{Text: "Intro", Language: "fre"}}
	normalize(doc, testLogger{})
	d := doc.Editions[0].Atoms[0].Displays[0]
	assert.Equal(t, "fre", d.Language)
	assert.Equal(t, "fr", d.LanguageIETF)
}

func TestNormalizeDerivesLegacyFromIETF(t *testing.T) {
	doc := docWith("00:00:00.000000000")
	doc.Editions[0].Atoms[0].Displays = []chapterDisplay{{Text: "Intro", LanguageIETF: "de"}}
	normalize(doc, testLogger{})
	d := doc.Editions[0].Atoms[0].Displays[0]
	assert.Equal(t, "ger", d.Language)
}

func TestNormalizeSynthesizesMissingDisplay(t *testing.T) {
	doc := &chapterXML{Editions: []editionXML{{Atoms: []chapterAtom{{Start: "00:00:00.000000000"}}}}}
	normalize(doc, testLogger{})
	require.Len(t, doc.Editions[0].Atoms[0].Displays, 1)
	assert.Equal(t, "und", doc.Editions[0].Atoms[0].Displays[0].Language)
}

func TestSnapAllRespectsThreshold(t *testing.T) {
	keyframes := []float64{9.9, 60.0}
	doc := docWith("00:00:10.000000000", "00:01:30.000000000")
	snapAll(doc, keyframes, "previous", 250, true, testLogger{})

	// 10.0 s snaps back to the 9.9 s keyframe (100 ms < 250 ms)
	assert.Equal(t, "00:00:09.900000000", doc.Editions[0].Atoms[0].Start)
	// 90 s is 30 s past the last keyframe: too far, unchanged
	assert.Equal(t, "00:01:30.000000000", doc.Editions[0].Atoms[1].Start)
}

func TestSnapNearestMode(t *testing.T) {
	keyframes := []float64{9.8, 10.1}
	doc := docWith("00:00:10.000000000")
	snapAll(doc, keyframes, "nearest", 250, true, testLogger{})
	assert.Equal(t, "00:00:10.100000000", doc.Editions[0].Atoms[0].Start)
}

func TestRenameAllKeepsLanguage(t *testing.T) {
	doc := docWith("00:00:00.000000000", "00:10:00.000000000")
	renameAll(doc)
	assert.Equal(t, "Chapter 01", doc.Editions[0].Atoms[0].Displays[0].Text)
	assert.Equal(t, "Chapter 02", doc.Editions[0].Atoms[1].Displays[0].Text)
	assert.Equal(t, "eng", doc.Editions[0].Atoms[0].Displays[0].Language)
}
