package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Decision is what a processing function made of an item.
type Decision int

const (
	// DecisionSuccess is returned when an item was processed.
	DecisionSuccess Decision = iota

	// DecisionSkipped is returned when an item was left alone on purpose.
	DecisionSkipped

	// DecisionFailed is returned when processing an item went wrong.
	DecisionFailed

	// DecisionRequeue is returned when an item needs another attempt.
	DecisionRequeue
)

// Queue is a first-in first-out queue that remembers the outcome of every
// item taken from it. It is safe for concurrent use.
type Queue[T comparable] struct {
	sync.RWMutex

	started    time.Time
	finished   time.Time
	head       int
	items      []T
	success    []T
	skipped    []T
	failed     []T
	inProgress map[T]struct{}
	bytes      uint64
}

// New returns a pointer to a new [Queue].
func New[T comparable]() *Queue[T] {
	return &Queue[T]{
		inProgress: make(map[T]struct{}),
	}
}

// Enqueue appends items to the queue.
func (q *Queue[T]) Enqueue(items ...T) {
	q.Lock()
	defer q.Unlock()

	q.finished = time.Time{}

	for _, item := range items {
		delete(q.inProgress, item)
		q.items = append(q.items, item)
	}
}

// Dequeue takes the next item and marks it in progress.
func (q *Queue[T]) Dequeue() (T, bool) { //nolint:ireturn
	q.Lock()
	defer q.Unlock()

	if q.head >= len(q.items) {
		var zero T

		return zero, false
	}

	if q.started.IsZero() {
		q.started = time.Now()
	}

	item := q.items[q.head]
	q.head++
	q.inProgress[item] = struct{}{}

	return item, true
}

// Remaining reports how many items were never taken.
func (q *Queue[T]) Remaining() int {
	q.RLock()
	defer q.RUnlock()

	return len(q.items) - q.head
}

// Settle records the decision made for an in-progress item.
func (q *Queue[T]) Settle(item T, d Decision) {
	if d == DecisionRequeue {
		q.Enqueue(item)

		return
	}

	q.Lock()
	defer q.Unlock()

	delete(q.inProgress, item)

	switch d {
	case DecisionSuccess:
		q.success = append(q.success, item)
	case DecisionSkipped:
		q.skipped = append(q.skipped, item)
	default:
		q.failed = append(q.failed, item)
	}

	if q.head == len(q.items) && len(q.inProgress) == 0 {
		q.finished = time.Now()
	}
}

// AddBytes counts bytes moved on behalf of the queue's items.
func (q *Queue[T]) AddBytes(n uint64) {
	q.Lock()
	defer q.Unlock()

	q.bytes += n
}

// Successful returns a copy of the items processed successfully.
func (q *Queue[T]) Successful() []T {
	q.RLock()
	defer q.RUnlock()

	return append([]T(nil), q.success...)
}

// Failed returns a copy of the items that failed.
func (q *Queue[T]) Failed() []T {
	q.RLock()
	defer q.RUnlock()

	return append([]T(nil), q.failed...)
}

// Progress returns the [Progress] of the queue.
func (q *Queue[T]) Progress() Progress {
	q.RLock()
	defer q.RUnlock()

	total := len(q.items) - q.head + len(q.inProgress) + len(q.success) + len(q.skipped) + len(q.failed)
	processed := len(q.success) + len(q.skipped) + len(q.failed)

	p := Progress{
		HasStarted:      !q.started.IsZero(),
		HasFinished:     !q.finished.IsZero(),
		StartTime:       q.started,
		FinishTime:      q.finished,
		TotalItems:      total,
		ProcessedItems:  processed,
		InProgressItems: len(q.inProgress),
		SuccessItems:    len(q.success),
		SkippedItems:    len(q.skipped),
		FailedItems:     len(q.failed),
		Bytes:           q.bytes,
	}

	if total > 0 {
		p.ProgressPct = max(0, min(float64(processed)/float64(total)*100, 100)) //nolint:mnd
	}

	if p.HasStarted && processed > 0 {
		end := time.Now()
		if p.HasFinished {
			end = q.finished
		}
		elapsed := max(end.Sub(q.started).Seconds(), 1)

		p.ItemsPerSec = float64(processed) / elapsed
		p.BytesPerSec = float64(q.bytes) / elapsed

		if processed < total {
			p.TimeLeft = time.Duration(float64(total-processed) / p.ItemsPerSec * float64(time.Second))
			p.ETA = time.Now().Add(p.TimeLeft)
		}
	}

	return p
}

// Process takes items one at a time and hands them to fn until the queue
// is empty or ctx is done. Only the cancellation is returned as an error;
// fn reports its outcome as a [Decision].
func (q *Queue[T]) Process(ctx context.Context, fn func(T) Decision) error {
	for ctx.Err() == nil {
		item, ok := q.Dequeue()
		if !ok {
			return nil
		}

		q.Settle(item, fn(item))
	}

	return fmt.Errorf("(queue-proc) %w", ctx.Err())
}

// ProcessConc is [Queue.Process] with up to workers items handled at once.
// fn must be safe for concurrent use.
func (q *Queue[T]) ProcessConc(ctx context.Context, workers int, fn func(T) Decision) error {
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, max(workers, 1))

	for {
		select {
		case <-ctx.Done():
			wg.Wait()

			return fmt.Errorf("(queue-concproc) %w", ctx.Err())
		case semaphore <- struct{}{}:
		}

		item, ok := q.Dequeue()
		if !ok {
			<-semaphore
			wg.Wait()

			// Requeued items may have arrived after the last worker left.
			if q.Remaining() > 0 {
				continue
			}

			if ctx.Err() != nil {
				return fmt.Errorf("(queue-concproc) %w", ctx.Err())
			}

			return nil
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-semaphore }()

			q.Settle(item, fn(item))
		}(item)
	}
}
