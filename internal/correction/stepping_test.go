package correction

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/analysis"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

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

func TestBuildEDLMonotonic(t *testing.T) {
	transitions := []transition{
		{boundaryRefS: 600, beforeMs: 0, afterMs: 120, afterRaw: 120.3},
		{boundaryRefS: 1500, beforeMs: 120, afterMs: 240, afterRaw: 240.1},
	}
	edl := buildEDL(0, 0.0, transitions)

	require.Len(t, edl, 3)
	assert.True(t, edl.Valid())
	assert.Equal(t, 0.0, edl[0].StartS)
	assert.Equal(t, 0, edl[0].DelayMs)
	// boundary moves to the target timeline via the before-delay
	assert.InDelta(t, 600.0, edl[1].StartS, 1e-9)
	assert.Equal(t, 120, edl[1].DelayMs)
	assert.InDelta(t, 1500.12, edl[2].StartS, 1e-9)
	assert.Equal(t, 240, edl[2].DelayMs)
	// explicit end fields chain to the next start
	assert.Equal(t, edl[1].StartS, edl[0].EndS)
	assert.Equal(t, edl[2].StartS, edl[1].EndS)
}

func TestBuildEDLDropsOutOfOrderTransition(t *testing.T) {
	transitions := []transition{
		{boundaryRefS: 600, beforeMs: 0, afterMs: 120},
		{boundaryRefS: 10, beforeMs: 120, afterMs: 240}, // refinement artifact
	}
	edl := buildEDL(0, 0.0, transitions)
	assert.Len(t, edl, 2)
	assert.True(t, edl.Valid())
}

func TestBuildEDLAnchorOnly(t *testing.T) {
	edl := buildEDL(250, 250.2, nil)
	require.Len(t, edl, 1)
	assert.True(t, edl.Valid())
	assert.Equal(t, 250, edl[0].DelayMs)
	assert.Equal(t, 250.2, edl[0].DelayRawMs)
}

func TestBuildEDLStructure(t *testing.T) {
	transitions := []transition{
		{boundaryRefS: 300, beforeMs: 50, afterMs: 170, afterRaw: 170.05},
	}
	got := buildEDL(50, 50.01, transitions)
	want := core.EDL{
		{StartS: 0, EndS: 300.05, DelayMs: 50, DelayRawMs: 50.01},
		{StartS: 300.05, DelayMs: 170, DelayRawMs: 170.05},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("EDL mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterInvalidRangesDropsInsidePoints(t *testing.T) {
	points := []coarsePoint{
		{timeS: 10}, {timeS: 100}, {timeS: 200}, {timeS: 300},
	}
	ranges := [][2]float64{{90, 210}}
	out := filterInvalidRanges(points, ranges, testLogger{})
	require.Len(t, out, 2)
	assert.Equal(t, 10.0, out[0].timeS)
	assert.Equal(t, 300.0, out[1].timeS)
}

func TestFilterInvalidRangesNoRangesNoop(t *testing.T) {
	points := []coarsePoint{{timeS: 10}}
	assert.Equal(t, points, filterInvalidRanges(points, nil, testLogger{}))
}

func TestQAToleranceRelaxedInFilteredSkipMode(t *testing.T) {
	assert.Equal(t, 20.0, qaTolerance(nil))
	assert.Equal(t, 20.0, qaTolerance(&analysis.ClusterValidation{CorrectionMode: "full"}))
	assert.Equal(t, 100.0, qaTolerance(&analysis.ClusterValidation{
		CorrectionMode: "filtered", FallbackMode: "skip",
	}))
	assert.Equal(t, 20.0, qaTolerance(&analysis.ClusterValidation{
		CorrectionMode: "filtered", FallbackMode: "nearest",
	}))
}

func TestNearestKeyframe(t *testing.T) {
	kf := []float64{10, 20, 30}
	got, ok := nearestKeyframe(kf, 21, 2)
	require.True(t, ok)
	assert.Equal(t, 20.0, got)

	_, ok = nearestKeyframe(kf, 25, 2)
	assert.False(t, ok, "beyond max offset")

	_, ok = nearestKeyframe(nil, 25, 2)
	assert.False(t, ok)
}

func TestLayoutForChannels(t *testing.T) {
	assert.Equal(t, "mono", layoutForChannels(1))
	assert.Equal(t, "stereo", layoutForChannels(2))
	assert.Equal(t, "5.1", layoutForChannels(6))
	assert.Equal(t, "7.1", layoutForChannels(8))
	assert.Equal(t, "", layoutForChannels(3))
}

func TestMonoSliceBounds(t *testing.T) {
	buf := make([]float64, 1000)
	_, ok := monoSlice(buf, 100, 5, 10)
	assert.False(t, ok, "slice would overrun the buffer")
	out, ok := monoSlice(buf, 100, 1, 5)
	require.True(t, ok)
	assert.Len(t, out, 500)
}

// refineTransitions boundary behavior: a jump of exactly the triage
// threshold is not promoted to a transition.
func TestTriageThresholdBoundaryNotPromoted(t *testing.T) {
	sc := &steppingScan{
		settings:   &config.Settings{SegmentTriageStdDevMs: 15.0},
		log:        testLogger{},
		sampleRate: 48000,
	}
	points := []coarsePoint{
		{timeS: 0, delayMs: 0, delayRaw: 0},
		{timeS: 30, delayMs: 15, delayRaw: 15.0}, // exactly the threshold
	}
	out := sc.refineTransitions(nil, points)
	assert.Empty(t, out)
}
