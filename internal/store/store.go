// Package store holds the in-memory command lifecycle records (spec
// §4.6), indexed by command id and by trace id, with TTL-based eviction
// of terminal records.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// Store is a concurrency-safe command record table. It owns no queue or
// transport concerns — callers (the worker pool, the HTTP handlers) are
// responsible for driving state transitions through Transition.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.Message // command id -> record
	byTrace map[string][]string        // trace id -> command ids
	ttl     time.Duration
}

// New creates a Store that evicts terminal records ttl after completion.
func New(ttl time.Duration) *Store {
	return &Store{
		records: make(map[string]*models.Message),
		byTrace: make(map[string][]string),
		ttl:     ttl,
	}
}

// Put inserts a newly admitted message. Returns ERR_VALIDATION if the
// command id already exists (spec §4.1 duplicate id rejection).
func (s *Store) Put(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[msg.Command.ID]; exists {
		return apperr.New(apperr.CodeValidation, "duplicate command id").WithDetail("command_id", msg.Command.ID)
	}
	s.records[msg.Command.ID] = msg
	s.byTrace[msg.TraceID] = append(s.byTrace[msg.TraceID], msg.Command.ID)
	return nil
}

// Get returns the record for a command id, or ERR_ROUTING if unknown.
func (s *Store) Get(id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.records[id]
	if !ok {
		return nil, apperr.New(apperr.CodeRouting, "unknown command id").WithDetail("command_id", id)
	}
	return msg, nil
}

// ByTrace returns every record submitted under the given trace id.
func (s *Store) ByTrace(traceID string) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTrace[traceID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.records[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// Transition moves a record from its current state to `to`, rejecting
// invariant-violating transitions (spec §4.6). setters may mutate
// additional fields (LastError, Result, StartedAt, CompletedAt) while
// the store's write lock is held, so callers should not touch the
// record outside of this method once it has been Put.
func (s *Store) Transition(id string, to models.State, setters ...func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.records[id]
	if !ok {
		return apperr.New(apperr.CodeRouting, "unknown command id").WithDetail("command_id", id)
	}
	if !models.CanTransition(msg.State, to) {
		return apperr.New(apperr.CodeInternal, "invalid state transition").
			WithDetail("from", string(msg.State)).
			WithDetail("to", string(to))
	}
	msg.State = to
	for _, set := range setters {
		set(msg)
	}
	return nil
}

// WithStartedNow sets StartedAt to now; pass to Transition when moving
// to running.
func WithStartedNow() func(*models.Message) {
	return func(m *models.Message) { m.StartedAt = time.Now() }
}

// WithCompletedNow sets CompletedAt to now; pass to Transition when
// moving to a terminal state.
func WithCompletedNow() func(*models.Message) {
	return func(m *models.Message) { m.CompletedAt = time.Now() }
}

// WithResult attaches a success result payload.
func WithResult(result []byte) func(*models.Message) {
	return func(m *models.Message) { m.Result = result }
}

// WithLastError attaches the terminal or retried failure detail.
func WithLastError(code, message string, details map[string]interface{}) func(*models.Message) {
	return func(m *models.Message) {
		m.LastError = &models.LastError{Code: code, Message: message, Details: details}
	}
}

// List returns a snapshot of every record, optionally filtered by state.
// Used by the admin queue-introspection endpoint.
func (s *Store) List(filter func(*models.Message) bool) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0, len(s.records))
	for _, msg := range s.records {
		if filter == nil || filter(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// RunEvictor blocks, periodically sweeping terminal records whose
// CompletedAt is older than the configured TTL, until ctx is cancelled.
func (s *Store) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.records {
		if msg.State.Terminal() && !msg.CompletedAt.IsZero() && msg.CompletedAt.Before(cutoff) {
			delete(s.records, id)
			ids := s.byTrace[msg.TraceID]
			for i, tid := range ids {
				if tid == id {
					s.byTrace[msg.TraceID] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			if len(s.byTrace[msg.TraceID]) == 0 {
				delete(s.byTrace, msg.TraceID)
			}
		}
	}
}

// Len reports the current record count, terminal and non-terminal.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
