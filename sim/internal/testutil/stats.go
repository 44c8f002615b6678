// Package testutil provides shared test infrastructure for the simulator:
// tolerance comparisons and statistical assertions over repeated draws.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertBinomial checks that observed counts are consistent with
// Binomial(n, p): the sample mean must lie within zTol standard errors of
// n*p and the sample variance within 35% of n*p*(1-p).
func AssertBinomial(t *testing.T, name string, n int, p float64, observed []float64, zTol float64) {
	t.Helper()
	if len(observed) < 2 {
		t.Fatalf("%s: need at least 2 observations, got %d", name, len(observed))
	}
	dist := distuv.Binomial{N: float64(n), P: p}
	mean, variance := stat.MeanVariance(observed, nil)
	stdErr := dist.StdDev() / math.Sqrt(float64(len(observed)))
	if z := math.Abs(mean-dist.Mean()) / stdErr; z > zTol {
		t.Errorf("%s: mean %v vs expected %v is %.2f standard errors away (tolerance %.1f)", name, mean, dist.Mean(), z, zTol)
	}
	AssertFloat64Equal(t, name+" variance", dist.Variance(), variance, 0.35)
}
