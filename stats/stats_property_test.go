package stats

import (
	"testing"

	"pgregory.net/rapid"
)

// Wilson interval invariants: always within [0, 1], ordered, and containing
// the observed proportion.
func TestWilsonIntervalProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.Float64Range(0, 1).Draw(t, "p")
		n := rapid.IntRange(0, 1_000_000).Draw(t, "n")

		iv := WilsonScoreInterval(p, n)

		if iv.Lower < 0 || iv.Upper > 1 {
			t.Fatalf("interval [%f, %f] escapes [0, 1]", iv.Lower, iv.Upper)
		}
		if iv.Lower > iv.Upper {
			t.Fatalf("inverted interval [%f, %f]", iv.Lower, iv.Upper)
		}
		if n > 0 && (p < iv.Lower-1e-9 || p > iv.Upper+1e-9) {
			t.Fatalf("interval [%f, %f] does not contain p=%f (n=%d)", iv.Lower, iv.Upper, p, n)
		}
	})
}

// Interval width shrinks (weakly) as the sample grows.
func TestWilsonIntervalNarrowsWithSamples(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.Float64Range(0, 1).Draw(t, "p")
		n := rapid.IntRange(1, 100_000).Draw(t, "n")

		small := WilsonScoreInterval(p, n)
		large := WilsonScoreInterval(p, n*10)

		if (large.Upper - large.Lower) > (small.Upper - small.Lower + 1e-9) {
			t.Fatalf("interval widened with more samples: n=%d width %f, n=%d width %f",
				n, small.Upper-small.Lower, n*10, large.Upper-large.Lower)
		}
	})
}

// The z statistic is symmetric in its arguments and never negative.
func TestZScoreSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(0, 1).Draw(t, "a")
		b := rapid.Float64Range(0, 1).Draw(t, "b")
		n := rapid.IntRange(30, 1_000_000).Draw(t, "n")

		ab := ZScore(a, b, n)
		ba := ZScore(b, a, n)

		if ab.Z != ba.Z || ab.Bucket != ba.Bucket {
			t.Fatalf("asymmetric z-test: ZScore(%f,%f)=%v, ZScore(%f,%f)=%v", a, b, ab, b, a, ba)
		}
		if ab.Z < 0 {
			t.Fatalf("negative z: %f", ab.Z)
		}
	})
}
