// Package stats computes session statistics, process capability and deviation
// trends over validation outcomes.
package stats

import (
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gonum.org/v1/gonum/stat"

	"github.com/liamcoop/torquesign/models"
)

type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// minTrendStrength is the |r| below which a trend is reported as stable
const minTrendStrength = 0.1

// Sample is one validation outcome as seen by the statistics engine
type Sample struct {
	Value float64
	Pass  bool
	Error bool // guard failure; counted but excluded from dispersion
}

type ProcessCapability struct {
	Cp  float64 `json:"cp"`
	Cpk float64 `json:"cpk"`
}

type Trends struct {
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Slope     float64   `json:"slope"`
}

type Report struct {
	TotalValidations  int               `json:"totalValidations"`
	PassCount         int               `json:"passCount"`
	FailCount         int               `json:"failCount"`
	ErrorCount        int               `json:"errorCount"`
	PassRate          float64           `json:"passRate"`
	AverageTorque     float64           `json:"averageTorque"`
	StandardDeviation float64           `json:"standardDeviation"`
	MinTorque         float64           `json:"minTorque"`
	MaxTorque         float64           `json:"maxTorque"`
	ProcessCapability ProcessCapability `json:"processCapability"`
	Trends            Trends            `json:"trends"`
}

// Summary condenses the report for approval documents
func (r Report) Summary() models.ReportSummary {
	return models.ReportSummary{
		TotalValidations: r.TotalValidations,
		PassCount:        r.PassCount,
		OutOfSpecEvents:  r.FailCount,
		PassRate:         r.PassRate,
	}
}

// Compute builds a report from samples in validation order. Dispersion, capability
// and trend use only non-error samples; standard deviation is the sample (n-1)
// estimator.
func Compute(spec *models.Specification, samples []Sample) Report {
	r := Report{TotalValidations: len(samples)}

	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		switch {
		case s.Error:
			r.ErrorCount++
		case s.Pass:
			r.PassCount++
		}
		if !s.Error {
			values = append(values, s.Value)
		}
	}
	r.FailCount = r.TotalValidations - r.PassCount
	if r.TotalValidations > 0 {
		r.PassRate = float64(r.PassCount) / float64(r.TotalValidations) * 100
	}
	if len(values) == 0 {
		r.Trends.Direction = Stable
		return r
	}

	r.MinTorque, r.MaxTorque = values[0], values[0]
	for _, v := range values[1:] {
		r.MinTorque = math.Min(r.MinTorque, v)
		r.MaxTorque = math.Max(r.MaxTorque, v)
	}

	if len(values) == 1 {
		r.AverageTorque = values[0]
	} else {
		r.AverageTorque, r.StandardDeviation = stat.MeanStdDev(values, nil)
	}

	if spec != nil {
		r.ProcessCapability = capability(spec.LowerBound, spec.UpperBound, r.AverageTorque, r.StandardDeviation, len(values))
		r.Trends = trend(values, spec.Target)
	} else {
		r.Trends.Direction = Stable
	}
	return r
}

func capability(lsl, usl, mean, sigma float64, n int) ProcessCapability {
	if n < 2 || sigma == 0 || math.IsNaN(sigma) {
		return ProcessCapability{}
	}
	return ProcessCapability{
		Cp:  (usl - lsl) / (6 * sigma),
		Cpk: math.Min(usl-mean, mean-lsl) / (3 * sigma),
	}
}

// trend regresses |value - target| on the sample index. A falling deviation is
// an improving process.
func trend(values []float64, target float64) Trends {
	if len(values) < 3 {
		return Trends{Direction: Stable}
	}
	xs := make([]float64, len(values))
	ys := make([]float64, len(values))
	for i, v := range values {
		xs[i] = float64(i)
		ys[i] = math.Abs(v - target)
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		r = 0
	}
	if math.IsNaN(slope) {
		slope = 0
	}

	t := Trends{Strength: math.Min(math.Abs(r), 1), Slope: slope}
	switch {
	case t.Strength < minTrendStrength || slope == 0:
		t.Direction = Stable
	case slope < 0:
		t.Direction = Improving
	default:
		t.Direction = Declining
	}
	return t
}

// Engine caches reports per session until Invalidate is called or the TTL passes
type Engine struct {
	cache *gocache.Cache
}

func NewEngine(ttl time.Duration) *Engine {
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = gocache.NoExpiration
		cleanup = 0
	}
	return &Engine{cache: gocache.New(ttl, cleanup)}
}

// Report returns the cached report for sessionID or computes it from load
func (e *Engine) Report(sessionID string, spec *models.Specification, load func() []Sample) Report {
	if cached, ok := e.cache.Get(sessionID); ok {
		return cached.(Report)
	}
	r := Compute(spec, load())
	e.cache.SetDefault(sessionID, r)
	return r
}

func (e *Engine) Invalidate(sessionID string) {
	e.cache.Delete(sessionID)
}

// Cached reports whether a report for sessionID is held
func (e *Engine) Cached(sessionID string) bool {
	_, ok := e.cache.Get(sessionID)
	return ok
}
