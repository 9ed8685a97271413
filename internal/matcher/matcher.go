// Package matcher finds the enrolled identity closest to a probe embedding and
// classifies the result as accepted, ambiguous or rejected.
//
// The exact linear scan is the reference behavior. An optional HNSW index only
// narrows the identities that get scored. Anything short of an accepted match
// among at least two candidates is decided again by the linear scan, so both
// modes classify every probe the same way.
package matcher

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

// maxDistance bounds both metrics over unit vectors.
const maxDistance = 2.0

// Source is the read side of the enrollment store.
type Source interface {
	AllActive() iter.Seq[domain.Identity]
	Get(id string) (domain.Identity, error)
	Version() uint64
}

// Config holds the classification thresholds.
type Config struct {
	Metric             embedding.Metric
	AcceptThreshold    float64
	AmbiguousThreshold float64
	TieEpsilon         float64
}

func (c Config) Validate() error {
	if c.AcceptThreshold < 0 || c.AcceptThreshold > maxDistance {
		return fmt.Errorf("accept threshold %.4f out of range [0, %.0f]", c.AcceptThreshold, maxDistance)
	}
	if c.AmbiguousThreshold < c.AcceptThreshold || c.AmbiguousThreshold > maxDistance {
		return fmt.Errorf("ambiguous threshold %.4f must be in [accept threshold, %.0f]", c.AmbiguousThreshold, maxDistance)
	}
	if c.TieEpsilon < 0 {
		return errors.New("tie epsilon must not be negative")
	}
	return nil
}

type Option func(*Matcher)

// WithIndex enables the HNSW candidate index, scoring the identities owning
// the k nearest references.
func WithIndex(k int) Option {
	return func(m *Matcher) {
		m.index = newIndex(m.cfg.Metric, k)
	}
}

// Matcher is read-only over the source and safe for concurrent use.
type Matcher struct {
	source Source
	cfg    Config
	index  *index
}

func New(source Source, cfg Config, opts ...Option) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Matcher{source: source, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Match scores every candidate identity by its closest reference and classifies
// the global minimum. An empty store yields a rejection.
func (m *Matcher) Match(probe embedding.Vector) (domain.MatchResult, error) {
	if probe.IsZero() {
		return domain.MatchResult{}, domain.ErrInvalidEmbedding.WithError(embedding.ErrEmpty)
	}

	if m.index == nil {
		return m.classify(probe, m.source.AllActive())
	}

	candidates, err := m.index.candidates(m.source, probe)
	if err != nil {
		return domain.MatchResult{}, err
	}

	result, err := m.classify(probe, slices.Values(candidates))
	if err != nil {
		return domain.MatchResult{}, err
	}
	if result.Tier == domain.TierAccepted && len(candidates) >= 2 {
		return result, nil
	}

	return m.classify(probe, m.source.AllActive())
}

// MatchLinear always uses the exact scan, whatever the configured mode.
func (m *Matcher) MatchLinear(probe embedding.Vector) (domain.MatchResult, error) {
	if probe.IsZero() {
		return domain.MatchResult{}, domain.ErrInvalidEmbedding.WithError(embedding.ErrEmpty)
	}
	return m.classify(probe, m.source.AllActive())
}

func (m *Matcher) classify(probe embedding.Vector, candidates iter.Seq[domain.Identity]) (domain.MatchResult, error) {
	var (
		best     domain.Identity
		bestDist = math.Inf(1)
		second   = math.Inf(1)
	)

	for identity := range candidates {
		d, ok, err := m.score(probe, identity)
		if err != nil {
			return domain.MatchResult{}, err
		}
		if !ok {
			continue
		}

		switch {
		case d < bestDist:
			second = bestDist
			best, bestDist = identity, d
		case d < second:
			second = d
		}
	}

	if math.IsInf(bestDist, 1) {
		return domain.MatchResult{Distance: maxDistance, Tier: domain.TierRejected}, nil
	}

	result := domain.MatchResult{Distance: bestDist}

	switch {
	case !math.IsInf(second, 1) && second-bestDist <= m.cfg.TieEpsilon:
		result.Tier = domain.TierAmbiguous
	case bestDist <= m.cfg.AcceptThreshold:
		result.Tier = domain.TierAccepted
		result.IdentityID = best.ID
		result.Label = best.Label
	case bestDist <= m.cfg.AmbiguousThreshold:
		result.Tier = domain.TierAmbiguous
	default:
		result.Tier = domain.TierRejected
	}

	return result, nil
}

// score is the best-pose distance of one identity. ok is false when it has no references.
func (m *Matcher) score(probe embedding.Vector, identity domain.Identity) (float64, bool, error) {
	best := math.Inf(1)
	for _, ref := range identity.Embeddings {
		d, err := embedding.Distance(probe, ref, m.cfg.Metric)
		if err != nil {
			return 0, false, domain.ErrDimensionMismatch.WithError(err)
		}
		if d < best {
			best = d
		}
	}
	return best, !math.IsInf(best, 1), nil
}
