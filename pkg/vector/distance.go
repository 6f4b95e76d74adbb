package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Metric selects the distance function used for graph construction and
// search. Smaller distances mean closer vectors for every variant.
type Metric uint8

const (
	// Euclidean is the L2 distance sqrt(sum((a-b)^2)), range [0, inf).
	Euclidean Metric = iota

	// Cosine is 1 - cos(a, b), range [0, 2]. Defined as 1 when either
	// vector has zero norm.
	Cosine

	// NormalizedCosine is 1 - dot(a, b), assuming both vectors are
	// already unit length. It does not re-normalize: feeding non-unit
	// vectors yields distances outside [0, 2].
	NormalizedCosine
)

func (m Metric) valid() bool {
	return m <= NormalizedCosine
}

// String returns the canonical metric name.
func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Cosine:
		return "cosine"
	case NormalizedCosine:
		return "normalized-cosine"
	default:
		return "unknown"
	}
}

// ParseMetric maps a canonical name back to its Metric.
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "euclidean", "l2":
		return Euclidean, nil
	case "cosine", "cos":
		return Cosine, nil
	case "normalized-cosine", "norm-cosine":
		return NormalizedCosine, nil
	default:
		return 0, newErrorf(KindInvalidConfig, "unknown distance metric %q", name)
	}
}

// Distance computes the metric between two equal-dimension vectors.
// The hot inner products go through vek32, which dispatches to SIMD
// when the CPU supports it and falls back to scalar loops otherwise.
func (m Metric) Distance(a, b Vector) float32 {
	switch m {
	case Euclidean:
		return vek32.Distance(a, b)
	case Cosine:
		dot := vek32.Dot(a, b)
		na := vek32.Dot(a, a)
		nb := vek32.Dot(b, b)
		if na == 0 || nb == 0 {
			return 1
		}
		sim := dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
		// Clamp accumulated rounding so the result stays in [0, 2].
		if sim > 1 {
			sim = 1
		} else if sim < -1 {
			sim = -1
		}
		return 1 - sim
	case NormalizedCosine:
		return 1 - vek32.Dot(a, b)
	default:
		return float32(math.NaN())
	}
}

// Normalize scales v to unit length in place. Zero vectors are left
// untouched. Callers using NormalizedCosine are expected to run their
// inputs through this (or equivalent) before insert and search.
func Normalize(v Vector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// lessDist is the total order used for ranking: NaN sorts after every
// finite distance, so a NaN can never win a candidate slot.
func lessDist(a, b float32) bool {
	aNaN := math.IsNaN(float64(a))
	bNaN := math.IsNaN(float64(b))
	if aNaN {
		return false
	}
	if bNaN {
		return true
	}
	return a < b
}

// lessCandidate orders by distance with ties broken by smaller ID, so
// ranking is deterministic for equidistant records.
func lessCandidate(aDist float32, aID VectorID, bDist float32, bID VectorID) bool {
	if aDist == bDist {
		return aID < bID
	}
	return lessDist(aDist, bDist)
}
