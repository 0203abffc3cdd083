// Package workflow runs prospecting jobs end to end: query, remote scrape,
// chunked filtering and enrichment, then optional persistence and dispatch.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/chunk"
	"github.com/sells-group/prospector/internal/jobs"
	"github.com/sells-group/prospector/internal/model"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = jobs.ErrNotFound
	// ErrJobNotComplete is returned when a result is requested while the
	// job is still running.
	ErrJobNotComplete = eris.New("job not complete")
	// ErrJobFailed is returned when a result is requested for a failed job.
	ErrJobFailed = eris.New("job failed")
	// ErrRemoteJobExpired is returned when the scrape service no longer
	// knows the polled job id. It is never retried.
	ErrRemoteJobExpired = eris.New("remote scrape job not found or expired")
	// ErrPollingFailed is returned when status checks keep failing.
	ErrPollingFailed = eris.New("polling failed")
)

// ScrapeFailedError is a remote job that finished in the failed state.
// Message is the remote error text, unchanged.
type ScrapeFailedError struct {
	RemoteJobID string
	Message     string
}

func (e *ScrapeFailedError) Error() string {
	return e.Message
}

// QueryBuilder turns search criteria into a provider search URL.
type QueryBuilder interface {
	BuildURL(ctx context.Context, criteria model.SearchCriteria) (string, error)
}

// Scraper drives a remote asynchronous scrape job.
type Scraper interface {
	Start(ctx context.Context, searchURL string, limit int) (string, error)
	Status(ctx context.Context, remoteJobID string) (model.ScrapeStatus, error)
	Result(ctx context.Context, remoteJobID string) (model.ScrapeResult, error)
	Page(ctx context.Context, sessionID string, offset, limit int) (model.Page, error)
}

// Persister saves leads to the shared lead store.
type Persister interface {
	Persist(ctx context.Context, leads []model.Contact) (model.PersistResult, error)
}

// Dispatcher sends outreach to leads.
type Dispatcher interface {
	Dispatch(ctx context.Context, leads []model.Contact, req model.DispatchRequest) (model.DispatchResult, error)
}

// Config tunes a workflow run.
type Config struct {
	ChunkSize     int
	ChunkDelay    time.Duration
	PollInterval  time.Duration
	PollMaxErrors int
	PollTimeout   time.Duration
	MaxRecordsCap int
	PageSize      int
	DefaultRules  chunk.Rules
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     chunk.DefaultSize,
		ChunkDelay:    500 * time.Millisecond,
		PollInterval:  5 * time.Second,
		PollMaxErrors: 5,
		PollTimeout:   time.Hour,
		MaxRecordsCap: 10000,
		PageSize:      1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollMaxErrors <= 0 {
		c.PollMaxErrors = def.PollMaxErrors
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.MaxRecordsCap <= 0 {
		c.MaxRecordsCap = def.MaxRecordsCap
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	return c
}

// recordLimit resolves a requested record cap: zero or less means as many
// as the system allows, never zero records.
func (c Config) recordLimit(requested int) int {
	if requested <= 0 || requested > c.MaxRecordsCap {
		return c.MaxRecordsCap
	}
	return requested
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func chunkMessage(done, total, leads int) string {
	return fmt.Sprintf("Processed chunk %d/%d (%d leads so far)", done, total, leads)
}
