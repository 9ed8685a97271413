package embedding

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects the distance function used to compare embeddings.
type Metric int

const (
	// Cosine distance = 1 - cosine similarity, in [0, 2].
	Cosine Metric = iota
	// Euclidean distance between the unit vectors, in [0, 2].
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric converts a configuration value into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "":
		return Cosine, nil
	case "euclidean", "l2":
		return Euclidean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Distance computes the distance between a and b under metric m.
func Distance(a, b Vector, m Metric) (float64, error) {
	if len(a.values) != len(b.values) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a.values), len(b.values))
	}

	switch m {
	case Euclidean:
		return euclidean(a.values, b.values), nil
	default:
		return cosine(a.values, b.values), nil
	}
}

// cosine assumes unit vectors, so similarity is the dot product.
func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	// Clamp to [-1, 1] to absorb float32 rounding on identical vectors.
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}

	return 1 - dot
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
