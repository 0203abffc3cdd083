package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

// PollOption configures a Poller.
type PollOption func(*Poller)

// WithPollInterval overrides the fixed delay between status checks.
func WithPollInterval(d time.Duration) PollOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollMaxErrors overrides how many consecutive failed status checks are
// tolerated. The poll fails on the check after the last tolerated one.
func WithPollMaxErrors(n int) PollOption {
	return func(p *Poller) { p.maxErrors = n }
}

// WithPollTimeout bounds the whole poll when the parent context has no
// deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(p *Poller) { p.timeout = d }
}

// Tick is reported after every status check.
type Tick struct {
	Elapsed time.Duration
	Status  model.ScrapeStatus
	Err     error // set when the check itself failed
}

// Poller drives a remote scrape job to a terminal state.
type Poller struct {
	scraper   Scraper
	interval  time.Duration
	maxErrors int
	timeout   time.Duration

	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller with a 5s interval tolerating 5 consecutive
// failed checks.
func NewPoller(s Scraper, opts ...PollOption) *Poller {
	def := DefaultConfig()
	p := &Poller{
		scraper:   s,
		interval:  def.PollInterval,
		maxErrors: def.PollMaxErrors,
		timeout:   def.PollTimeout,
		nowFunc:   time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Poll checks the remote job every interval until it completes, then fetches
// its result once. A failed remote job returns *ScrapeFailedError; an
// unknown job id returns ErrRemoteJobExpired immediately.
func (p *Poller) Poll(ctx context.Context, remoteJobID string, onTick func(Tick)) (model.ScrapeResult, error) {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	log := zap.L().With(zap.String("remote_job_id", remoteJobID))
	start := p.nowFunc()
	consecutive := 0

	for {
		status, err := p.scraper.Status(ctx, remoteJobID)
		tick := Tick{Elapsed: p.nowFunc().Sub(start), Status: status, Err: err}
		if onTick != nil {
			onTick(tick)
		}

		switch {
		case err != nil && errors.Is(err, ErrRemoteJobExpired):
			return model.ScrapeResult{}, eris.Wrapf(err, "workflow: poll %s", remoteJobID)
		case err != nil && ctx.Err() != nil:
			return model.ScrapeResult{}, eris.Wrapf(ctx.Err(), "workflow: poll %s", remoteJobID)
		case err != nil:
			consecutive++
			log.Warn("workflow: status check failed",
				zap.Int("consecutive_errors", consecutive),
				zap.Int("max_errors", p.maxErrors),
				zap.Error(err),
			)
			if consecutive > p.maxErrors {
				return model.ScrapeResult{}, eris.Wrapf(ErrPollingFailed, "%d consecutive status errors, last: %v", consecutive, err)
			}
		case status.Failed():
			msg := status.Error
			if msg == "" {
				msg = "remote scrape job failed"
			}
			return model.ScrapeResult{}, &ScrapeFailedError{RemoteJobID: remoteJobID, Message: msg}
		case status.Succeeded():
			log.Info("workflow: remote scrape complete", zap.Duration("elapsed", tick.Elapsed))
			res, err := p.scraper.Result(ctx, remoteJobID)
			if err != nil {
				return model.ScrapeResult{}, eris.Wrapf(err, "workflow: fetch result %s", remoteJobID)
			}
			return res, nil
		default:
			consecutive = 0
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return model.ScrapeResult{}, eris.Wrapf(err, "workflow: poll %s timed out", remoteJobID)
		}
	}
}
