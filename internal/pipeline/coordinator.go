// Package pipeline turns probe embeddings into deduplicated, durably queued
// attendance records.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/chamada/internal/dedup"
	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

type Matcher interface {
	Match(probe embedding.Vector) (domain.MatchResult, error)
}

type Deduplicator interface {
	Admit(ctx context.Context, id string, at time.Time, emit dedup.EmitFunc) (bool, error)
}

type Queue interface {
	Enqueue(ctx context.Context, record domain.AttendanceRecord) (domain.OutboxEntry, error)
}

// Observer receives pipeline metrics.
type Observer interface {
	ObserveMatch(d time.Duration, tier domain.Tier)
	ObserveOutcome(kind domain.OutcomeKind)
	StageError(stage string)
	FrameDropped()
}

type noopObserver struct{}

func (noopObserver) ObserveMatch(time.Duration, domain.Tier) {}
func (noopObserver) ObserveOutcome(domain.OutcomeKind)       {}
func (noopObserver) StageError(string)                       {}
func (noopObserver) FrameDropped()                           {}

// Listener is told about every outcome, e.g. to drive a live display. It must
// not block.
type Listener interface {
	OutcomeProcessed(outcome domain.Outcome)
}

// Stages reported to Observer.StageError.
const (
	StageEmbed   = "embed"
	StageMatch   = "match"
	StageEnqueue = "enqueue"
)

type Config struct {
	DeviceID string
}

type Coordinator struct {
	matcher   Matcher
	dedup     Deduplicator
	queue     Queue
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	listeners []Listener
	now       func() time.Time
}

type Option func(*Coordinator)

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(matcher Matcher, deduper Deduplicator, queue Queue, cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		matcher:  matcher,
		dedup:    deduper,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessFrameEmbedding runs one probe through match, deduplication and enqueue.
// When a stage fails the probe is dropped without a record, and the error is
// logged, counted and returned.
func (c *Coordinator) ProcessFrameEmbedding(ctx context.Context, probe []float32, at time.Time) (domain.Outcome, error) {
	if at.IsZero() {
		at = c.now()
	}

	vec, err := embedding.New(probe)
	if err != nil {
		return c.drop(StageEmbed, domain.ErrInvalidEmbedding.WithError(err))
	}

	start := c.now()
	result, err := c.matcher.Match(vec)
	if err != nil {
		return c.drop(StageMatch, err)
	}
	c.observer.ObserveMatch(c.now().Sub(start), result.Tier)

	switch result.Tier {
	case domain.TierAmbiguous:
		c.logger.Info("ambiguous match, no check-in recorded", "distance", result.Distance, "at", at)
		return c.outcome(domain.Outcome{Kind: domain.OutcomeAmbiguous, Distance: result.Distance}), nil
	case domain.TierRejected:
		return c.outcome(domain.Outcome{Kind: domain.OutcomeRejected, Distance: result.Distance}), nil
	}

	var entry domain.OutboxEntry
	emitted, err := c.dedup.Admit(ctx, result.IdentityID, at, func(ctx context.Context) error {
		var err error
		entry, err = c.queue.Enqueue(ctx, domain.AttendanceRecord{
			ID:         uuid.New(),
			IdentityID: result.IdentityID,
			Label:      result.Label,
			Kind:       domain.EventCheckIn,
			Timestamp:  at,
			DeviceID:   c.cfg.DeviceID,
			Distance:   result.Distance,
			Status:     domain.StatusPending,
		})
		return err
	})
	if err != nil {
		return c.drop(StageEnqueue, err, "identity_id", result.IdentityID)
	}

	if !emitted {
		c.logger.Debug("check-in suppressed", "identity_id", result.IdentityID, "at", at)
		return c.outcome(domain.Outcome{
			Kind:       domain.OutcomeSuppressed,
			IdentityID: result.IdentityID,
			Distance:   result.Distance,
		}), nil
	}

	c.logger.Info("check-in recorded",
		"identity_id", result.IdentityID,
		"seq", entry.Record.Seq,
		"record_id", entry.Record.ID,
		"distance", result.Distance,
	)

	return c.outcome(domain.Outcome{
		Kind:       domain.OutcomeAccepted,
		IdentityID: result.IdentityID,
		RecordID:   entry.Record.ID,
		Seq:        entry.Record.Seq,
		Distance:   result.Distance,
	}), nil
}

func (c *Coordinator) outcome(o domain.Outcome) domain.Outcome {
	c.observer.ObserveOutcome(o.Kind)
	for _, l := range c.listeners {
		l.OutcomeProcessed(o)
	}
	return o
}

func (c *Coordinator) drop(stage string, err error, attrs ...any) (domain.Outcome, error) {
	c.observer.StageError(stage)

	level := slog.LevelWarn
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		level = slog.LevelError
	}
	c.logger.Log(context.Background(), level, "probe dropped",
		append([]any{"stage", stage, "error", err}, attrs...)...,
	)

	return domain.Outcome{}, err
}
