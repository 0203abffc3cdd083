// Package jobs holds workflow job records in memory with bounded retention.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

// DefaultRetention is how long a record is kept after it was created.
const DefaultRetention = 2 * time.Hour

var (
	// ErrNotFound is returned for unknown or expired job ids.
	ErrNotFound = eris.New("job not found")
	// ErrInvalidTransition is returned when an update would move a job
	// backwards or out of a terminal state.
	ErrInvalidTransition = eris.New("invalid job status transition")
)

// Store maps job id to record. Records handed out are deep copies; only
// Update mutates a stored record.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*model.JobRecord
	retention time.Duration

	nowFunc func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithIDFunc overrides job id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a store that evicts records older than retention.
func NewStore(retention time.Duration, opts ...Option) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{
		jobs:      make(map[string]*model.JobRecord),
		retention: retention,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create allocates a record in the started state.
func (s *Store) Create(params model.Params) model.JobRecord {
	rec := &model.JobRecord{
		ID:        s.newID(),
		Status:    model.JobStatusStarted,
		Progress:  model.Progress{Step: 0, Message: "Workflow started", Total: 0},
		StartTime: s.nowFunc().UTC(),
		Params:    params.Clone(),
	}

	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.mu.Unlock()

	return rec.Clone()
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return model.JobRecord{}, eris.Wrapf(ErrNotFound, "jobs: get %s", id)
	}
	return rec.Clone(), nil
}

// Update applies fn to a copy of the record and stores it if the status
// change, if any, is allowed. Entering a terminal state stamps CompletedAt.
func (s *Store) Update(id string, fn func(*model.JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "jobs: update %s", id)
	}

	next := rec.Clone()
	fn(&next)
	next.ID = rec.ID

	if next.Status != rec.Status && !rec.Status.CanTransition(next.Status) {
		return eris.Wrapf(ErrInvalidTransition, "jobs: %s %s -> %s", id, rec.Status, next.Status)
	}
	if rec.Status.IsTerminal() && next.Status == rec.Status {
		return eris.Wrapf(ErrInvalidTransition, "jobs: %s is %s", id, rec.Status)
	}
	if next.Status.IsTerminal() && next.CompletedAt == nil {
		t := s.nowFunc().UTC()
		next.CompletedAt = &t
	}

	s.jobs[id] = &next
	return nil
}

// List returns copies of all records, newest first.
func (s *Store) List() []model.JobRecord {
	s.mu.RLock()
	out := make([]model.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Delete removes a record. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Sweep evicts every record created more than the retention window before
// now, whatever its status, and returns how many were evicted.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, rec := range s.jobs {
		if rec.StartTime.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// RunSweeper sweeps on every tick until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.nowFunc()); n > 0 {
				zap.L().Debug("jobs: evicted expired records", zap.Int("count", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}
