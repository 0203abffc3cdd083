package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/model"
)

// MetricsSnapshot holds a point-in-time view of workflow health.
type MetricsSnapshot struct {
	// Jobs started within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsRunning   int     `json:"jobs_running"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsDegraded  int     `json:"jobs_degraded"`
	JobsStuck     int     `json:"jobs_stuck"`
	FailRate      float64 `json:"fail_rate"`
	LeadsProduced int     `json:"leads_produced"`

	// Degradations by stage ("enrich", "persist", "dispatch").
	Degradations map[string]int `json:"degradations,omitempty"`

	ActiveLocks int `json:"active_locks"`

	LookbackMins int       `json:"lookback_mins"`
	CollectedAt  time.Time `json:"collected_at"`
}

// JobLister is the part of the job store the collector reads.
type JobLister interface {
	List() []model.JobRecord
}

// LockLister is the part of the campaign locks the collector reads.
type LockLister interface {
	ListActive() ([]lock.Record, error)
}

// Collector gathers metrics from the job store and campaign locks.
type Collector struct {
	jobs       JobLister
	locks      LockLister
	stuckAfter time.Duration
	nowFunc    func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithStuckAfter sets how long a job may run before it counts as stuck.
func WithStuckAfter(d time.Duration) CollectorOption {
	return func(c *Collector) { c.stuckAfter = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.nowFunc = now }
}

// NewCollector creates a new metrics collector. locks may be nil.
func NewCollector(jobs JobLister, locks LockLister, opts ...CollectorOption) *Collector {
	c := &Collector{
		jobs:       jobs,
		locks:      locks,
		stuckAfter: 90 * time.Minute,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect gathers a snapshot of jobs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: collect")
	}
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackMins: int(lookback / time.Minute),
		CollectedAt:  now,
	}
	cutoff := now.Add(-lookback)

	for _, j := range c.jobs.List() {
		if lookback > 0 && j.StartTime.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		default:
			snap.JobsRunning++
			if c.stuckAfter > 0 && now.Sub(j.StartTime) > c.stuckAfter {
				snap.JobsStuck++
			}
		}
		if j.Result == nil {
			continue
		}
		snap.LeadsProduced += j.Result.Count
		if len(j.Result.Metadata.Degradations) > 0 {
			snap.JobsDegraded++
			if snap.Degradations == nil {
				snap.Degradations = make(map[string]int)
			}
			for _, d := range j.Result.Metadata.Degradations {
				snap.Degradations[d.Stage]++
			}
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.locks != nil {
		recs, err := c.locks.ListActive()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list campaign locks")
		}
		snap.ActiveLocks = len(recs)
	}
	return snap, nil
}
