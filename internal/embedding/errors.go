package embedding

import "errors"

var (
	// ErrDimensionMismatch is returned when two vectors of different length are compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmpty is returned for a vector with no components.
	ErrEmpty = errors.New("embedding is empty")

	// ErrZeroNorm is returned for an all-zero vector, which cannot be normalized.
	ErrZeroNorm = errors.New("embedding has zero norm")

	// ErrNonFinite is returned when a component is NaN or infinite.
	ErrNonFinite = errors.New("embedding has non-finite component")

	// ErrNotNormalized is returned by FromNormalized for vectors off the unit sphere.
	ErrNotNormalized = errors.New("embedding is not L2-normalized")

	// ErrUnknownMetric is returned when parsing an unsupported metric name.
	ErrUnknownMetric = errors.New("unknown distance metric")
)
