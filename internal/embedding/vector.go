// Package embedding holds the fixed-length face feature vector and its distance functions.
//
// A Vector is L2-normalized when it is created and never mutated afterwards, so
// the cosine distance between two vectors reduces to 1 minus their dot product.
package embedding

import (
	"fmt"
	"math"
)

// NormEpsilon is the tolerance accepted on |norm - 1| for a vector that claims
// to be normalized. Embeddings arrive as float32, hence the loose bound.
const NormEpsilon = 1e-3

// Vector is an immutable, L2-normalized embedding.
type Vector struct {
	values []float32
}

// New normalizes values into a Vector. The input slice is copied.
func New(values []float32) (Vector, error) {
	norm, err := l2Norm(values)
	if err != nil {
		return Vector{}, err
	}

	normalized := make([]float32, len(values))
	for i, v := range values {
		normalized[i] = float32(float64(v) / norm)
	}

	return Vector{values: normalized}, nil
}

// FromNormalized wraps values that must already satisfy the normalization
// invariant. Nothing is rescaled; a vector off the unit sphere is rejected.
func FromNormalized(values []float32) (Vector, error) {
	norm, err := l2Norm(values)
	if err != nil {
		return Vector{}, err
	}

	if math.Abs(norm-1) > NormEpsilon {
		return Vector{}, fmt.Errorf("%w: norm %.6f", ErrNotNormalized, norm)
	}

	copied := make([]float32, len(values))
	copy(copied, values)

	return Vector{values: copied}, nil
}

// Dim returns the number of components.
func (v Vector) Dim() int {
	return len(v.values)
}

// IsZero reports whether v is the zero Vector (never constructed).
func (v Vector) IsZero() bool {
	return len(v.values) == 0
}

// Values returns a copy of the components.
func (v Vector) Values() []float32 {
	out := make([]float32, len(v.values))
	copy(out, v.values)
	return out
}

func l2Norm(values []float32) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}

	var sum float64
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: component %d", ErrNonFinite, i)
		}
		sum += f * f
	}

	if sum == 0 {
		return 0, ErrZeroNorm
	}

	return math.Sqrt(sum), nil
}
