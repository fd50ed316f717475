package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/routing"
)

// Queue is the unbounded multi-producer single-consumer write queue.
//
// Thread Safety:
//   - Enqueue is safe for concurrent use from any goroutine.
//   - Start and Stop must be called from the owning goroutine.
type Queue struct {
	store              Store
	clock              clockwork.Clock
	logger             *logging.Logger
	retryDelay         time.Duration
	checkpointInterval time.Duration

	mu     sync.Mutex
	items  []Item
	closed bool
	wake   chan struct{}

	// rows caches resolved row identifiers. Consumer-only; producers
	// never touch row IDs.
	rows map[string]int64

	done chan struct{}
}

// NewQueue creates a Queue writing to the given store.
//
// Parameters:
//   - store: Storage backend; only the consumer goroutine calls it
//   - retryDelay: Pause after a storage failure
//   - checkpointInterval: Wall-clock cadence for WAL checkpoints
//   - clock: Time source for the pause and checkpoint schedule
//   - logger: Lifecycle and failure logging
func NewQueue(store Store, retryDelay, checkpointInterval time.Duration, clock clockwork.Clock, logger *logging.Logger) *Queue {
	return &Queue{
		store:              store,
		clock:              clock,
		logger:             logger.With("component", "persist"),
		retryDelay:         retryDelay,
		checkpointInterval: checkpointInterval,
		wake:               make(chan struct{}, 1),
		rows:               make(map[string]int64),
		done:               make(chan struct{}),
	}
}

// ProvisionRows upserts one row per route and group in the table so
// display names and units reflect the current configuration, and warms
// the consumer's row cache. Call before Start; it writes directly.
func (q *Queue) ProvisionRows(ctx context.Context, table *routing.Table) error {
	for _, route := range table.Routes() {
		id, err := q.store.GetOrCreateRow(ctx, route.SourceKey, displayName(route), route.Unit)
		if err != nil {
			return fmt.Errorf("provisioning row %s: %w", route.SourceKey, err)
		}
		q.rows[route.SourceKey] = id
	}
	for _, group := range table.Groups() {
		id, err := q.store.GetOrCreateRow(ctx, group.ID, group.Title, group.Unit)
		if err != nil {
			return fmt.Errorf("provisioning group row %s: %w", group.ID, err)
		}
		q.rows[group.ID] = id
	}
	return nil
}

func displayName(r *routing.Route) string {
	return r.DeviceName + " " + r.StatusName
}

// Enqueue adds an item to the queue without blocking. Returns
// ErrQueueClosed once Stop has begun.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of items waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the consumer goroutine.
func (q *Queue) Start() {
	go q.consume()
}

// Stop refuses further enqueues, waits for the consumer to drain
// everything already queued, and returns.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// consume is the single writer. It drains the queue, pausing after
// failures and checkpointing on schedule, until the queue is closed
// and empty.
func (q *Queue) consume() {
	defer close(q.done)

	q.logger.Info("persistence consumer started")
	lastCheckpoint := q.clock.Now()

	for {
		item, ok := q.dequeue()
		if !ok {
			q.mu.Lock()
			closed := q.closed
			empty := len(q.items) == 0
			q.mu.Unlock()
			if closed && empty {
				q.logger.Info("persistence consumer drained and stopped")
				return
			}
			<-q.wake
			continue
		}

		if err := q.process(item); err != nil {
			q.handleFailure(item, err)
		}

		if q.clock.Since(lastCheckpoint) >= q.checkpointInterval {
			if err := q.store.Checkpoint(context.Background()); err != nil {
				q.logger.Error("checkpoint failed", "error", err)
			} else {
				q.logger.Info("wal checkpoint completed")
			}
			lastCheckpoint = q.clock.Now()
		}
	}
}

func (q *Queue) dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) process(item Item) error {
	ctx := context.Background()

	switch it := item.(type) {
	case ValueItem:
		rowID, ok := q.rows[it.RowName]
		if !ok {
			id, err := q.store.GetOrCreateRow(ctx, it.RowName, it.DisplayName, it.Unit)
			if err != nil {
				return fmt.Errorf("resolving row %s: %w", it.RowName, err)
			}
			q.rows[it.RowName] = id
			rowID = id
		}
		if err := q.store.AppendRecord(ctx, rowID, it.Value, it.UnixSeconds); err != nil {
			return fmt.Errorf("appending record for %s: %w", it.RowName, err)
		}
		return nil

	case ErrorItem:
		if err := q.store.AppendError(ctx, it); err != nil {
			return fmt.Errorf("appending error entry: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown item type %T", item)
	}
}

// handleFailure drops the failing item, records the failure in the
// errors table when the item was not itself an error entry, and pauses
// so a struggling database gets air. The pause also delays the drain
// during Stop, which is intentional.
func (q *Queue) handleFailure(item Item, err error) {
	q.logger.Error("persistence write failed, dropping item", "error", err)

	if _, wasError := item.(ErrorItem); !wasError {
		q.mu.Lock()
		q.items = append(q.items, ErrorItem{
			Timestamp: q.clock.Now().Format(TimestampLayout),
			Source:    "persist",
			Message:   "write failed",
			Detail:    err.Error(),
		})
		q.mu.Unlock()
	}

	<-q.clock.After(q.retryDelay)
}
