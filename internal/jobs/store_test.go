package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	n := 0
	s := NewStore(2*time.Hour, WithClock(clock.Now), WithIDFunc(func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}))
	return s, clock
}

func TestStore_CreateGet(t *testing.T) {
	s, clock := newTestStore()
	params := model.Params{Criteria: model.SearchCriteria{JobTitles: []string{"CTO"}}}

	rec := s.Create(params)
	assert.Equal(t, "job-1", rec.ID)
	assert.Equal(t, model.JobStatusStarted, rec.Status)
	assert.Equal(t, clock.Now(), rec.StartTime)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CTO"}, got.Params.Criteria.JobTitles)

	params.Criteria.JobTitles[0] = "CEO"
	got, _ = s.Get(rec.ID)
	assert.Equal(t, "CTO", got.Params.Criteria.JobTitles[0])
}

func TestStore_GetUnknown(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReadersGetCopies(t *testing.T) {
	s, _ := newTestStore()
	rec := s.Create(model.Params{})
	require.NoError(t, s.Update(rec.ID, func(r *model.JobRecord) {
		r.Status = model.JobStatusCompleted
		r.Result = &model.WorkflowResult{Count: 1, Leads: []model.Contact{{Name: "A"}}}
	}))

	got, _ := s.Get(rec.ID)
	got.Result.Leads[0].Name = "mutated"

	again, _ := s.Get(rec.ID)
	assert.Equal(t, "A", again.Result.Leads[0].Name)
}

func TestStore_UpdateMonotonic(t *testing.T) {
	s, clock := newTestStore()
	rec := s.Create(model.Params{})

	require.NoError(t, s.Update(rec.ID, func(r *model.JobRecord) { r.Status = model.JobStatusScraping }))
	err := s.Update(rec.ID, func(r *model.JobRecord) { r.Status = model.JobStatusGeneratingURL })
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := s.Get(rec.ID)
	assert.Equal(t, model.JobStatusScraping, got.Status)

	clock.Advance(time.Minute)
	require.NoError(t, s.Update(rec.ID, func(r *model.JobRecord) {
		r.Status = model.JobStatusFailed
		r.Error = "boom"
	}))
	got, _ = s.Get(rec.ID)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, clock.Now(), *got.CompletedAt)

	err = s.Update(rec.ID, func(r *model.JobRecord) { r.Status = model.JobStatusCompleted })
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = s.Update(rec.ID, func(r *model.JobRecord) { r.Error = "rewritten" })
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ = s.Get(rec.ID)
	assert.Equal(t, "boom", got.Error)
}

func TestStore_UpdateUnknown(t *testing.T) {
	s, _ := newTestStore()
	err := s.Update("nope", func(*model.JobRecord) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateCannotChangeID(t *testing.T) {
	s, _ := newTestStore()
	rec := s.Create(model.Params{})
	require.NoError(t, s.Update(rec.ID, func(r *model.JobRecord) { r.ID = "other" }))
	_, err := s.Get(rec.ID)
	assert.NoError(t, err)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s, clock := newTestStore()
	s.Create(model.Params{})
	clock.Advance(time.Second)
	s.Create(model.Params{})
	clock.Advance(time.Second)
	s.Create(model.Params{})

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "job-3", list[0].ID)
	assert.Equal(t, "job-1", list[2].ID)
}

func TestStore_SweepEvictsRegardlessOfStatus(t *testing.T) {
	s, clock := newTestStore()
	running := s.Create(model.Params{})
	done := s.Create(model.Params{})
	require.NoError(t, s.Update(done.ID, func(r *model.JobRecord) { r.Status = model.JobStatusCompleted }))

	clock.Advance(time.Hour)
	fresh := s.Create(model.Params{})

	clock.Advance(time.Hour + time.Second)
	assert.Equal(t, 2, s.Sweep(clock.Now()))

	_, err := s.Get(running.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestStore_RunSweeper(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(time.Minute, WithClock(clock.Now))
	s.Create(model.Params{})
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore()
	rec := s.Create(model.Params{})
	s.Delete(rec.ID)
	s.Delete("unknown")
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s, _ := newTestStore()
	rec := s.Create(model.Params{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Get(rec.ID)
			_ = s.List()
		}()
		go func(i int) {
			defer wg.Done()
			_ = s.Update(rec.ID, func(r *model.JobRecord) { r.Progress.Step = i })
		}(i)
	}
	wg.Wait()
}
