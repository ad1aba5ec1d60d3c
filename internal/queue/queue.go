// Package queue implements the priority-aware in-memory queue with
// at-most-once-per-robot concurrency described in spec §4.3.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// bandOrder is the strict total order urgent > high > normal > low.
var bandOrder = []models.Priority{
	models.PriorityUrgent,
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityLow,
}

// pollSlice bounds how long a single wait iteration blocks before
// re-checking the deadline, so a Dequeue call with a short timeout
// doesn't overshoot it waiting on a notify that never arrives.
const pollSlice = 25 * time.Millisecond

// Queue is the bounded, priority-banded, per-robot-serializing queue.
// All exported methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	bands    map[models.Priority]*list.List // FIFO list of *models.Message, band-scoped
	busy     map[string]bool                // robot_id -> currently running
	inFlight map[string]*models.Message     // command id -> dequeued message
	count    int                            // pending + in-flight, checked against capacity
	capacity int
	notify   chan struct{} // best-effort wakeup for blocked Dequeue callers
}

// New creates a Queue with the given total capacity across all bands.
func New(capacity int) *Queue {
	q := &Queue{
		bands:    make(map[models.Priority]*list.List, len(bandOrder)),
		busy:     make(map[string]bool),
		inFlight: make(map[string]*models.Message),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	for _, p := range bandOrder {
		q.bands[p] = list.New()
	}
	return q
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue adds msg to its priority band. Returns ERR_QUEUE_FULL if the
// queue is at capacity.
func (q *Queue) Enqueue(msg *models.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.capacity {
		return apperr.New(apperr.CodeQueueFull, "queue is at capacity")
	}
	band, ok := q.bands[msg.Command.Priority]
	if !ok {
		return apperr.New(apperr.CodeValidation, "unknown priority band")
	}
	band.PushBack(msg)
	q.count++
	q.wake()
	return nil
}

// eligibleElement scans bands from urgent to low, FIFO within a band,
// and returns the first element whose target robot is not busy. Must be
// called with q.mu held.
func (q *Queue) eligibleElement() (models.Priority, *list.Element) {
	for _, p := range bandOrder {
		band := q.bands[p]
		for e := band.Front(); e != nil; e = e.Next() {
			msg := e.Value.(*models.Message)
			if !q.busy[msg.Command.Target.RobotID] {
				return p, e
			}
		}
	}
	return "", nil
}

// Dequeue blocks up to timeout for the highest-priority message whose
// target robot is currently free (head-of-line avoidance, spec §4.3).
// Returns (nil, nil) on timeout with nothing eligible.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		band, elem := q.eligibleElement()
		if elem != nil {
			msg := elem.Value.(*models.Message)
			q.bands[band].Remove(elem)
			q.busy[msg.Command.Target.RobotID] = true
			q.inFlight[msg.Command.ID] = msg
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := remaining
		if wait > pollSlice {
			wait = pollSlice
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		case <-q.notify:
		}
	}
}

// Peek returns the message Dequeue would return next, without removing
// it or marking its robot busy.
func (q *Queue) Peek() *models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, elem := q.eligibleElement()
	if elem == nil {
		return nil
	}
	return elem.Value.(*models.Message)
}

// Ack releases the per-robot lock held by the in-flight command id and
// removes it from in-flight tracking. Call on reaching a terminal state.
func (q *Queue) Ack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inFlight[id]
	if !ok {
		return
	}
	delete(q.inFlight, id)
	delete(q.busy, msg.Command.Target.RobotID)
	q.count--
	q.wake()
}

// Nack reports a failed dispatch for the in-flight command id. If
// requeue is true and the message has retry budget remaining, it bumps
// AttemptCount and schedules a re-enqueue after the exponential backoff
// of spec §4.3, returning (true, nil). Otherwise it releases the
// command's queue ownership entirely and returns (false, nil) — the
// caller (worker pool) is responsible for transitioning the command's
// store record to failed.
func (q *Queue) Nack(id string, requeue bool) (bool, error) {
	q.mu.Lock()
	msg, ok := q.inFlight[id]
	if !ok {
		q.mu.Unlock()
		return false, apperr.New(apperr.CodeInternal, "nack for unknown command id")
	}
	delete(q.inFlight, id)
	delete(q.busy, msg.Command.Target.RobotID)

	if requeue && msg.AttemptCount < msg.MaxRetries {
		msg.AttemptCount++
		attempt := msg.AttemptCount
		q.mu.Unlock()

		delay := computeBackoff(attempt)
		time.AfterFunc(delay, func() {
			q.mu.Lock()
			q.bands[msg.Command.Priority].PushBack(msg)
			q.mu.Unlock()
			q.wake()
		})
		return true, nil
	}

	q.count--
	q.mu.Unlock()
	q.wake()
	return false, nil
}

// BandCounts is the per-band pending count returned by Size.
type BandCounts struct {
	Counts map[models.Priority]int
	Total  int
}

// Size returns the pending count per band plus the total (pending +
// in-flight) against which capacity is enforced.
func (q *Queue) Size() BandCounts {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[models.Priority]int, len(bandOrder))
	for _, p := range bandOrder {
		counts[p] = q.bands[p].Len()
	}
	return BandCounts{Counts: counts, Total: q.count}
}

// Clear empties all bands and in-flight tracking.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range bandOrder {
		q.bands[p] = list.New()
	}
	q.busy = make(map[string]bool)
	q.inFlight = make(map[string]*models.Message)
	q.count = 0
}

// RemovePending removes a still-pending message (not yet dequeued) from
// its band, e.g. for cancellation. Returns true if found and removed.
func (q *Queue) RemovePending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range bandOrder {
		band := q.bands[p]
		for e := band.Front(); e != nil; e = e.Next() {
			msg := e.Value.(*models.Message)
			if msg.Command.ID == id {
				band.Remove(e)
				q.count--
				return true
			}
		}
	}
	return false
}

// BumpToUrgent moves a still-pending command into the urgent band,
// appending it to the back of that band behind every command already
// queued as urgent (the admin priority bump of SPEC_FULL.md §5). Returns
// false if the id is not pending in a lower band, including a command
// that is already in the urgent band.
func (q *Queue) BumpToUrgent(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range bandOrder {
		if p == models.PriorityUrgent {
			continue
		}
		band := q.bands[p]
		for e := band.Front(); e != nil; e = e.Next() {
			msg := e.Value.(*models.Message)
			if msg.Command.ID == id {
				band.Remove(e)
				msg.Command.Priority = models.PriorityUrgent
				q.bands[models.PriorityUrgent].PushBack(msg)
				return true
			}
		}
	}
	return false
}

// InFlightRobots returns a snapshot of robot ids currently holding the
// per-robot running lock. Used by admin introspection.
func (q *Queue) InFlightRobots() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.busy))
	for r := range q.busy {
		out = append(out, r)
	}
	return out
}
