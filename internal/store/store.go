package store

import (
	"context"
	"errors"
	"time"

	"maxprint.app/orderflow/core/bq"
	"maxprint.app/orderflow/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// EventStore covers the append-only webhook event log.
type EventStore interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	InsertEvent(ctx context.Context, event *model.Event) error
	// MarkEventProcessed records the processing outcome. Best effort: the
	// freshly streamed event row may still sit in the streaming buffer, so
	// failures are logged and swallowed rather than surfaced.
	MarkEventProcessed(ctx context.Context, eventID string, extractionTriggered bool, errorMessage *string)
}

// CardStore covers the immutable master log and the mutable current
// snapshot.
type CardStore interface {
	CardExistsInMaster(ctx context.Context, cardID string) (bool, error)
	InsertCardMaster(ctx context.Context, card *model.Card, eventID string) (bool, error)
	GetCurrentCard(ctx context.Context, cardID string) (*model.Card, error)
	UpsertCardCurrent(ctx context.Context, card *model.Card, eventID string, extractionTriggered bool, eventType string) error
}

// LineItemStore covers both line-item mirrors.
type LineItemStore interface {
	InsertLineItemsMaster(ctx context.Context, cardID string, items []model.LineItem) error
	ReplaceLineItemsCurrent(ctx context.Context, cardID string, items []model.LineItem) error
}

// QueueStore drains the pending-operation queue. Concurrent drain runs are
// not safe; callers must serialize invocations.
type QueueStore interface {
	ProcessRetryQueue(ctx context.Context, maxItems int) (model.DrainStats, error)
}

// Store implements every persistence concern of the pipeline on BigQuery:
// idempotent existence checks, insert-only writers, the atomic current-card
// merge, and the retry/backoff/enqueue protocol around the streaming-buffer
// restriction.
type Store struct {
	client *bq.Client
	retry  retryRunner

	queueBackoffBase time.Duration
	queueMaxRetries  int64

	now func() time.Time

	// Seams for the drain loop; New binds them to the real methods.
	replayFn     func(ctx context.Context, row claimedRow) error
	setStatusFn  func(ctx context.Context, updateID string, status model.PendingStatus, errorMessage *string) error
	rescheduleFn func(ctx context.Context, updateID string, retryCount int64, cause error) error
}

type Option func(*Store)

// WithSleep overrides the delay function used between inline retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Store) { s.retry.sleep = sleep }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(client *bq.Client, retry RetryPolicy, queueMaxRetries int, opts ...Option) *Store {
	s := &Store{
		client: client,
		retry: retryRunner{
			policy: retry,
			sleep:  sleepContext,
		},
		queueBackoffBase: 5 * time.Minute,
		queueMaxRetries:  int64(queueMaxRetries),
		now:              time.Now,
	}
	s.replayFn = s.replay
	s.setStatusFn = s.setPendingStatus
	s.rescheduleFn = s.reschedulePending
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ EventStore    = (*Store)(nil)
	_ CardStore     = (*Store)(nil)
	_ LineItemStore = (*Store)(nil)
	_ QueueStore    = (*Store)(nil)
)
