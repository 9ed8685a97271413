// Package outbox is the durable delivery queue for attendance records.
//
// Enqueue appends to storage and returns once the record is durable, whatever
// the state of the transport. A single worker delivers the oldest pending entry,
// retrying with exponential backoff until it is acknowledged or its attempts
// run out, then moves on to the next one.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// Store is the durable side of the queue.
type Store interface {
	Append(ctx context.Context, record *domain.AttendanceRecord) (domain.OutboxEntry, error)
	Pending(ctx context.Context) ([]domain.OutboxEntry, error)
	MarkDelivered(ctx context.Context, seq int64, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, seq int64, attempts int, nextRetryAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, seq int64, attempts int, lastErr string) error
	Requeue(ctx context.Context, seq int64, at time.Time) (*domain.OutboxEntry, error)
	Failed(ctx context.Context, limit int) ([]domain.OutboxEntry, error)
}

// Publisher is the transport. A nil error means the broker acknowledged the event.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// FailureNotifier receives entries whose attempts are exhausted.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, entry domain.OutboxEntry) error
}

// Observer receives delivery metrics.
type Observer interface {
	Enqueued()
	Delivered(sinceCreated time.Duration)
	AttemptFailed()
	FailedPermanently()
	Depth(n int)
}

type noopObserver struct{}

func (noopObserver) Enqueued()               {}
func (noopObserver) Delivered(time.Duration) {}
func (noopObserver) AttemptFailed()          {}
func (noopObserver) FailedPermanently()      {}
func (noopObserver) Depth(int)               {}

type Option func(*Queue)

func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

func WithNotifier(n FailureNotifier) Option {
	return func(q *Queue) { q.notifiers = append(q.notifiers, n) }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

const (
	failuresBuffer = 16
	// a frame waits at most this many storage attempts for its record
	enqueueAttempts = 3
)

type Queue struct {
	store     Store
	publisher Publisher
	policy    Policy
	logger    *slog.Logger
	observer  Observer
	notifiers []FailureNotifier
	now       func() time.Time

	appendMu sync.Mutex

	mu    sync.Mutex
	sched *schedule

	wake     chan struct{}
	failures chan domain.OutboxEntry
}

func New(store Store, publisher Publisher, policy Policy, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
		observer:  noopObserver{},
		now:       time.Now,
		sched:     newSchedule(),
		wake:      make(chan struct{}, 1),
		failures:  make(chan domain.OutboxEntry, failuresBuffer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start reloads every pending entry. They become due immediately and keep their
// attempt counts. A storage error here is fatal to the caller.
func (q *Queue) Start(ctx context.Context) error {
	entries, err := q.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("reload pending entries: %w", err)
	}

	now := q.now()
	q.mu.Lock()
	for _, entry := range entries {
		q.sched.add(entry, now)
	}
	depth := q.sched.Len()
	q.mu.Unlock()

	q.observer.Depth(depth)
	q.signal()

	q.logger.Info("outbox reloaded", "pending", len(entries))
	return nil
}

// Enqueue durably appends record. Appends are serialized so sequence numbers
// follow commit order. Transient storage errors are retried with backoff.
func (q *Queue) Enqueue(ctx context.Context, record domain.AttendanceRecord) (domain.OutboxEntry, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	var entry domain.OutboxEntry
	err := q.retryStorage(ctx, "append", enqueueAttempts, func(ctx context.Context) error {
		var err error
		entry, err = q.store.Append(ctx, &record)
		return err
	})
	if err != nil {
		return domain.OutboxEntry{}, err
	}

	q.mu.Lock()
	q.sched.add(entry, q.now())
	depth := q.sched.Len()
	q.mu.Unlock()

	q.observer.Enqueued()
	q.observer.Depth(depth)
	q.signal()

	return entry, nil
}

// Run delivers entries until ctx is cancelled. Pending entries stay in storage
// for the next start.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("delivery worker started")
	defer q.logger.Info("delivery worker stopped")

	for {
		q.mu.Lock()
		entry, due, ok := q.sched.head()
		q.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}

		if wait := due.Sub(q.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-q.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		q.deliver(ctx, entry)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (q *Queue) deliver(ctx context.Context, entry domain.OutboxEntry) {
	seq := entry.Record.Seq

	payload, err := EncodeEvent(entry.Record)
	if err != nil {
		q.fail(ctx, entry, entry.Attempts, err)
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, q.policy.AttemptTimeout)
	err = q.publisher.Publish(attemptCtx, payload)
	cancel()

	if err == nil {
		q.delivered(ctx, entry)
		return
	}

	if ctx.Err() != nil {
		// shutdown, not a failed attempt
		return
	}

	q.observer.AttemptFailed()
	attempts := entry.Attempts + 1

	if attempts >= q.policy.MaxAttempts {
		q.fail(ctx, entry, attempts, err)
		return
	}

	delay := q.policy.Delay(attempts)
	next := q.now().Add(delay)

	q.logger.Warn("delivery attempt failed",
		"seq", seq,
		"attempts", attempts,
		"retry_in", delay,
		"error", err,
	)

	storeErr := q.retryStorage(ctx, "record failure", 0, func(ctx context.Context) error {
		return q.store.RecordFailure(ctx, seq, attempts, next, err.Error())
	})
	if storeErr != nil && ctx.Err() != nil {
		return
	}

	entry.Attempts = attempts
	entry.NextRetryAt = next
	entry.LastError = err.Error()

	q.mu.Lock()
	if storeErr != nil {
		q.logger.Error("dropping entry from retry set", "seq", seq, "error", storeErr)
		q.sched.remove(seq)
	} else {
		q.sched.add(entry, next)
	}
	q.mu.Unlock()
}

func (q *Queue) delivered(ctx context.Context, entry domain.OutboxEntry) {
	seq := entry.Record.Seq
	now := q.now()

	var changed bool
	err := q.retryStorage(ctx, "mark delivered", 0, func(ctx context.Context) error {
		var err error
		changed, err = q.store.MarkDelivered(ctx, seq, now)
		return err
	})
	if err != nil {
		// still pending in storage; it is sent again after the next start
		q.logger.Error("failed to mark delivered", "seq", seq, "error", err)
		if ctx.Err() != nil {
			return
		}
	}
	if err == nil && !changed {
		q.logger.Warn("entry was no longer pending", "seq", seq)
	}

	q.mu.Lock()
	q.sched.remove(seq)
	depth := q.sched.Len()
	q.mu.Unlock()

	if err == nil && changed {
		q.observer.Delivered(now.Sub(entry.Record.CreatedAt))
	}
	q.observer.Depth(depth)

	q.logger.Debug("event delivered", "seq", seq, "record_id", entry.Record.ID)
}

func (q *Queue) fail(ctx context.Context, entry domain.OutboxEntry, attempts int, cause error) {
	seq := entry.Record.Seq

	err := q.retryStorage(ctx, "mark failed", 0, func(ctx context.Context) error {
		return q.store.MarkFailed(ctx, seq, attempts, cause.Error())
	})
	if err != nil && ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	q.sched.remove(seq)
	depth := q.sched.Len()
	q.mu.Unlock()

	entry.Attempts = attempts
	entry.LastError = cause.Error()
	entry.Record.Status = domain.StatusFailedPermanently
	entry.UpdatedAt = q.now()

	q.observer.FailedPermanently()
	q.observer.Depth(depth)

	q.logger.Error("delivery failed permanently",
		"seq", seq,
		"record_id", entry.Record.ID,
		"identity_id", entry.Record.IdentityID,
		"attempts", attempts,
		"error", domain.ErrPermanentDeliveryFailure.WithError(cause),
	)

	select {
	case q.failures <- entry:
	default:
		q.logger.Warn("failure channel full, operator notification dropped", "seq", seq)
	}

	for _, n := range q.notifiers {
		if err := n.NotifyFailure(ctx, entry); err != nil {
			q.logger.Warn("failure notification not sent", "seq", seq, "error", err)
		}
	}
}

// Requeue puts a permanently failed entry back into the retry set with a fresh
// attempt budget.
func (q *Queue) Requeue(ctx context.Context, seq int64) (domain.OutboxEntry, error) {
	entry, err := q.store.Requeue(ctx, seq, q.now())
	if err != nil {
		return domain.OutboxEntry{}, err
	}

	q.mu.Lock()
	q.sched.add(*entry, q.now())
	depth := q.sched.Len()
	q.mu.Unlock()

	q.observer.Depth(depth)
	q.signal()

	q.logger.Info("entry requeued", "seq", seq)
	return *entry, nil
}

// Failed lists permanently failed entries.
func (q *Queue) Failed(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	return q.store.Failed(ctx, limit)
}

// Depth is the number of entries awaiting delivery.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sched.Len()
}

// Failures is the operator channel for exhausted entries. Sends never block;
// notifications are dropped while nobody reads.
func (q *Queue) Failures() <-chan domain.OutboxEntry {
	return q.failures
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// retryStorage runs fn until it succeeds, ctx ends, it returns a domain error
// or limit attempts are used (0 means no limit). Waits follow the delivery backoff.
func (q *Queue) retryStorage(ctx context.Context, op string, limit int, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return err
		}
		if limit > 0 && attempt >= limit {
			return fmt.Errorf("%s: %w", op, err)
		}

		delay := q.policy.Delay(attempt)
		q.logger.Warn("storage operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}
