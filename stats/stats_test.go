package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/torquesign/models"
)

func spec() *models.Specification {
	return &models.Specification{ID: "spec-1", Target: 150, LowerBound: 140, UpperBound: 160, Unit: "Nm"}
}

func passing(values ...float64) []Sample {
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{Value: v, Pass: true}
	}
	return out
}

func TestComputeSampleStandardDeviation(t *testing.T) {
	r := Compute(spec(), passing(150, 148, 152, 140, 160))

	assert.Equal(t, 5, r.TotalValidations)
	assert.InDelta(t, 150.0, r.AverageTorque, 1e-9)
	assert.InDelta(t, math.Sqrt(52), r.StandardDeviation, 1e-9)
	assert.InDelta(t, 7.2111, r.StandardDeviation, 1e-4)
	assert.Equal(t, 140.0, r.MinTorque)
	assert.Equal(t, 160.0, r.MaxTorque)
}

func TestComputePassRate(t *testing.T) {
	samples := []Sample{
		{Value: 150, Pass: true},
		{Value: 165},
		{Value: 151, Pass: true},
		{Value: -1, Error: true},
	}
	r := Compute(spec(), samples)

	assert.Equal(t, 4, r.TotalValidations)
	assert.Equal(t, 2, r.PassCount)
	assert.Equal(t, 2, r.FailCount)
	assert.Equal(t, 1, r.ErrorCount)
	assert.InDelta(t, 50.0, r.PassRate, 1e-9)
	// The error sample is excluded from dispersion.
	assert.InDelta(t, (150.0+165+151)/3, r.AverageTorque, 1e-9)

	summary := r.Summary()
	assert.Equal(t, 2, summary.OutOfSpecEvents)
	assert.InDelta(t, 50.0, summary.PassRate, 1e-9)
}

func TestComputeEmptyAndSingle(t *testing.T) {
	r := Compute(spec(), nil)
	assert.Zero(t, r.PassRate)
	assert.Equal(t, Stable, r.Trends.Direction)

	r = Compute(spec(), passing(151))
	assert.Equal(t, 151.0, r.AverageTorque)
	assert.Zero(t, r.StandardDeviation)
	assert.Equal(t, ProcessCapability{}, r.ProcessCapability)
}

func TestProcessCapability(t *testing.T) {
	r := Compute(spec(), passing(150, 148, 152, 140, 160))
	sigma := math.Sqrt(52)

	assert.InDelta(t, 20/(6*sigma), r.ProcessCapability.Cp, 1e-9)
	assert.InDelta(t, 10/(3*sigma), r.ProcessCapability.Cpk, 1e-9)

	flat := Compute(spec(), passing(150, 150, 150))
	assert.Equal(t, ProcessCapability{}, flat.ProcessCapability, "zero sigma yields zero capability")
}

func TestTrends(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Direction
	}{
		{"converging on target", []float64{160, 157, 155, 152, 151}, Improving},
		{"drifting away", []float64{150, 151, 153, 156, 159}, Declining},
		{"too few samples", []float64{140, 160}, Stable},
		{"constant deviation", []float64{155, 145, 155, 145}, Stable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compute(spec(), passing(tt.values...))
			assert.Equal(t, tt.want, r.Trends.Direction)
			assert.GreaterOrEqual(t, r.Trends.Strength, 0.0)
			assert.LessOrEqual(t, r.Trends.Strength, 1.0)
		})
	}
}

func TestEngineCachesUntilInvalidated(t *testing.T) {
	e := NewEngine(0)
	loads := 0
	load := func() []Sample {
		loads++
		return passing(150, 151)
	}

	first := e.Report("s-1", spec(), load)
	second := e.Report("s-1", spec(), load)
	require.Equal(t, 1, loads)
	assert.Equal(t, first, second)
	assert.True(t, e.Cached("s-1"))

	e.Invalidate("s-1")
	assert.False(t, e.Cached("s-1"))
	e.Report("s-1", spec(), load)
	assert.Equal(t, 2, loads)
}

func TestEngineTTL(t *testing.T) {
	e := NewEngine(10 * time.Millisecond)
	e.Report("s-1", spec(), func() []Sample { return nil })
	time.Sleep(25 * time.Millisecond)
	assert.False(t, e.Cached("s-1"))
}
