package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// nopLogger satisfies core.Logger for tests.
type nopLogger struct{}
type nopEvent struct{}

func (nopLogger) Trace() core.LogEvent { return nopEvent{} }
func (nopLogger) Debug() core.LogEvent { return nopEvent{} }
func (nopLogger) Info() core.LogEvent  { return nopEvent{} }
func (nopLogger) Warn() core.LogEvent  { return nopEvent{} }
func (nopLogger) Error() core.LogEvent { return nopEvent{} }

func (e nopEvent) Err(error) core.LogEvent               { return e }
func (e nopEvent) Str(string, string) core.LogEvent      { return e }
func (e nopEvent) Int(string, int) core.LogEvent         { return e }
func (e nopEvent) Float64(string, float64) core.LogEvent { return e }
func (e nopEvent) Bool(string, bool) core.LogEvent       { return e }
func (nopEvent) Msg(string)                              {}
func (nopEvent) Msgf(string, ...interface{})             {}

func baseParams() DiagnoseParams {
	return DiagnoseParams{
		ReferenceFPS:           23.976,
		DBSCANEpsilonMs:        20,
		DBSCANMinSamples:       2,
		SlopeThresholdLossless: 0.5,
		SlopeThresholdLossy:    1.5,
		R2Threshold:            0.92,
		R2ThresholdLossless:    0.85,
		CorrectionMode:         "full",
		FallbackMode:           "nearest",
		Thresholds:             qualityPresets["lenient"],
		MinTotalClusters:       2,
	}
}

func seriesChunk(t, raw float64) core.ChunkResult {
	return core.ChunkResult{
		StartTimeS: t, DelayRawMs: raw, DelayMs: roundMs(raw),
		Confidence: 95, Accepted: true,
	}
}

func TestDiagnosePALDrift(t *testing.T) {
	p := baseParams()
	p.ReferenceFPS = 25.0
	var chunks []core.ChunkResult
	for i := 0; i < 10; i++ {
		ts := float64(i * 200)
		chunks = append(chunks, seriesChunk(ts, 40.9*ts))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, PALDrift, d.Kind)
	assert.InDelta(t, 40.9, d.RateMsPerS, 0.5)
}

func TestDiagnosePALRequires25FPS(t *testing.T) {
	p := baseParams() // 23.976 fps reference
	var chunks []core.ChunkResult
	for i := 0; i < 10; i++ {
		ts := float64(i * 200)
		chunks = append(chunks, seriesChunk(ts, 40.9*ts))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.NotEqual(t, PALDrift, d.Kind)
}

func TestDiagnoseLinearDrift(t *testing.T) {
	p := baseParams()
	var chunks []core.ChunkResult
	for i := 0; i < 12; i++ {
		ts := float64(i * 100)
		chunks = append(chunks, seriesChunk(ts, 100+2.0*ts))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, LinearDrift, d.Kind)
	assert.InDelta(t, 2.0, d.RateMsPerS, 0.1)
}

func TestDiagnoseLosslessUsesStricterSlope(t *testing.T) {
	p := baseParams()
	var chunks []core.ChunkResult
	for i := 0; i < 12; i++ {
		ts := float64(i * 100)
		chunks = append(chunks, seriesChunk(ts, 100+1.0*ts)) // 1.0 ms/s
	}
	p.Lossless = false
	assert.Equal(t, Uniform, Diagnose(chunks, p, nopLogger{}).Kind,
		"1.0 ms/s is below the 1.5 lossy threshold")

	p.Lossless = true
	assert.Equal(t, LinearDrift, Diagnose(chunks, p, nopLogger{}).Kind,
		"1.0 ms/s exceeds the 0.5 lossless threshold")
}

func TestDiagnoseStepping(t *testing.T) {
	p := baseParams()
	var chunks []core.ChunkResult
	// two dense plateaus 120 ms apart, each long and well-matched
	for i := 0; i < 8; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 0))
	}
	for i := 8; i < 16; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 120))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, Stepping, d.Kind)
	assert.NotNil(t, d.Clusters)
	assert.Len(t, d.Clusters.Clusters, 2)
	assert.Len(t, d.Clusters.Valid, 2)
}

func TestDiagnoseSteppingDisabled(t *testing.T) {
	p := baseParams()
	p.CorrectionMode = "disabled"
	var chunks []core.ChunkResult
	for i := 0; i < 8; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 0))
	}
	for i := 8; i < 16; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 120))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.NotEqual(t, Stepping, d.Kind)
}

func TestDiagnoseSteppingStrictRejectsInvalidCluster(t *testing.T) {
	p := baseParams()
	p.Thresholds = qualityPresets["strict"] // min 5 chunks per cluster
	var chunks []core.ChunkResult
	for i := 0; i < 10; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 0))
	}
	// tiny second cluster: only 2 chunks
	chunks = append(chunks, seriesChunk(700, 120), seriesChunk(760, 120))
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, Uniform, d.Kind, "full/strict mode rejects stepping on any invalid cluster")
}

func TestDiagnoseSteppingFilteredKeepsValidClusters(t *testing.T) {
	p := baseParams()
	p.CorrectionMode = "filtered"
	p.FallbackMode = "skip"
	p.Thresholds = qualityPresets["lenient"]
	var chunks []core.ChunkResult
	for i := 0; i < 8; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 0))
	}
	for i := 8; i < 16; i++ {
		chunks = append(chunks, seriesChunk(float64(i*60), 120))
	}
	// a one-chunk blip that DBSCAN will call noise
	chunks = append(chunks, seriesChunk(1000, 500))
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, Stepping, d.Kind)
	assert.Equal(t, "skip", d.Clusters.FallbackMode)
}

func TestDiagnoseUniformDefault(t *testing.T) {
	p := baseParams()
	var chunks []core.ChunkResult
	for i := 0; i < 10; i++ {
		chunks = append(chunks, seriesChunk(float64(i*100), 250))
	}
	d := Diagnose(chunks, p, nopLogger{})
	assert.Equal(t, Uniform, d.Kind)
}

func TestDiagnoseTooFewChunks(t *testing.T) {
	d := Diagnose([]core.ChunkResult{seriesChunk(0, 10)}, baseParams(), nopLogger{})
	assert.Equal(t, Uniform, d.Kind)
}
