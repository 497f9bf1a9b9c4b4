package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDBSCAN1DTwoClusters(t *testing.T) {
	values := []float64{0, 2, 1, 3, 120, 122, 121, 119}
	labels := DBSCAN1D(values, 20, 2)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[0], labels[3])
	assert.Equal(t, labels[4], labels[5])
	assert.NotEqual(t, labels[0], labels[4])
	for _, l := range labels {
		assert.NotEqual(t, DBSCANNoise, l)
	}
}

func TestDBSCAN1DNoise(t *testing.T) {
	values := []float64{0, 1, 2, 500}
	labels := DBSCAN1D(values, 20, 2)
	assert.Equal(t, DBSCANNoise, labels[3], "isolated point is noise")
	assert.NotEqual(t, DBSCANNoise, labels[0])
}

func TestDBSCAN1DSingleCluster(t *testing.T) {
	values := []float64{10, 11, 12, 9, 10.5}
	labels := DBSCAN1D(values, 20, 2)
	for _, l := range labels {
		assert.Equal(t, 0, l)
	}
}

func TestDBSCAN1DEmpty(t *testing.T) {
	assert.Empty(t, DBSCAN1D(nil, 20, 2))
}

func TestRegressionRecoversSlope(t *testing.T) {
	var x, y []float64
	for i := 0; i < 50; i++ {
		x = append(x, float64(i))
		y = append(y, 40.9*float64(i)+12)
	}
	slope, intercept, r2 := LinearFit(x, y)
	assert.InDelta(t, 40.9, slope, 1e-9)
	assert.InDelta(t, 12.0, intercept, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)
}

func TestRejectOutliers(t *testing.T) {
	vals := []float64{10, 10.5, 9.8, 10.2, 200}
	kept, idx := RejectOutliers(vals, 1.5)
	assert.NotContains(t, kept, 200.0)
	assert.Len(t, kept, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, idx)
}

func TestMedianOddAndEmpty(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 0.0, Median(nil))
}
