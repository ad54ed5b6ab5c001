// Package stats provides the closed-form statistical primitives of the
// experiment engine: a pooled two-proportion z-test with confidence
// bucketing, and the Wilson score interval for binomial proportions.
//
// All functions are pure and allocation-free; numerical edge cases (zero
// sample size, zero standard error) return defined sentinel results instead
// of dividing by zero.
package stats

import "math"

// Confidence buckets returned by ZScore.
const (
	BucketInsufficientData = "Insufficient Data"
	BucketInvalidData      = "Invalid Data"
	BucketLow              = "Low (<80%)"
	BucketMedium           = "Medium (80-90%)"
	BucketHigh             = "High (90-98%)"
	BucketVeryHigh         = "Very High (>98%)"
)

// minSampleSize is the smallest per-comparison sample size for which the
// normal approximation behind the z-test is considered valid.
const minSampleSize = 30

// significanceZ is the two-sided 95% critical value; it drives both the
// significance flag and the Wilson interval width.
const significanceZ = 1.96

// ZResult is the outcome of a pooled two-proportion z-test.
type ZResult struct {
	Z           float64 `json:"z"`
	Bucket      string  `json:"bucket"`
	Significant bool    `json:"significant"` // z > 1.96, two-sided 95%
}

// ZScore compares two conversion rates observed over n samples each using a
// pooled-proportion z-test. Below minSampleSize it reports Insufficient Data
// with z = 0; a zero pooled standard error (both rates 0 or both 1) reports
// Invalid Data.
func ZScore(rateA, rateB float64, n int) ZResult {
	if n < minSampleSize {
		return ZResult{Z: 0, Bucket: BucketInsufficientData}
	}

	pooled := (rateA + rateB) / 2
	se := math.Sqrt(2 * pooled * (1 - pooled) / float64(n))
	if se == 0 {
		return ZResult{Z: 0, Bucket: BucketInvalidData}
	}

	z := math.Abs(rateA-rateB) / se
	return ZResult{
		Z:           z,
		Bucket:      bucketFor(z),
		Significant: z > significanceZ,
	}
}

// bucketFor maps a z statistic to its confidence bucket.
func bucketFor(z float64) string {
	switch {
	case z < 1.28:
		return BucketLow
	case z < 1.64:
		return BucketMedium
	case z < 2.33:
		return BucketHigh
	default:
		return BucketVeryHigh
	}
}

// Interval is a two-sided confidence interval for a binomial proportion.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// WilsonScoreInterval returns the 95% Wilson score interval for a proportion
// p observed over n trials. For n == 0 the proportion is maximally uncertain
// and the full [0, 1] interval is returned.
func WilsonScoreInterval(p float64, n int) Interval {
	if n == 0 {
		return Interval{Lower: 0, Upper: 1}
	}

	z := significanceZ
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	adj := (z / (2 * nf)) * math.Sqrt(4*nf*p*(1-p)+z*z)
	spread := adj / denom

	return Interval{
		Lower: math.Max(center-spread, 0),
		Upper: math.Min(center+spread, 1),
	}
}

// Rate computes a conversion rate guarded against zero assignments:
// conversions / max(assignments, 1). Both the bandit and the adaptive
// allocator read rates through this single accessor so their zero-handling
// can never diverge.
func Rate(conversions, assignments int64) float64 {
	if assignments < 1 {
		assignments = 1
	}
	return float64(conversions) / float64(assignments)
}
