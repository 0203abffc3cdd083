package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/chunk"
	"github.com/sells-group/prospector/internal/jobs"
	"github.com/sells-group/prospector/internal/model"
)

// Deps are the collaborators of an Orchestrator. Persister and Dispatcher
// are optional; runs that ask for them without one record a degradation.
type Deps struct {
	Store      *jobs.Store
	Query      QueryBuilder
	Scraper    Scraper
	Enricher   chunk.Enricher
	Persister  Persister
	Dispatcher Dispatcher
}

// Orchestrator starts workflow runs in the background and answers status
// and result queries for them. Each run is one goroutine owning its job
// record.
type Orchestrator struct {
	deps      Deps
	cfg       Config
	poller    *Poller
	processor *chunk.Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator's time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowFunc = now
		o.poller.nowFunc = now
	}
}

// WithSleep overrides how the orchestrator and its poller wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
		o.poller.sleep = fn
	}
}

// New creates an Orchestrator. Store, Query and Scraper are required.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil || deps.Query == nil || deps.Scraper == nil {
		return nil, eris.New("workflow: store, query builder and scraper are required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:      deps,
		cfg:       cfg,
		processor: chunk.NewProcessor(deps.Enricher),
		poller: NewPoller(deps.Scraper,
			WithPollInterval(cfg.PollInterval),
			WithPollMaxErrors(cfg.PollMaxErrors),
			WithPollTimeout(cfg.PollTimeout),
		),
		ctx:     ctx,
		cancel:  cancel,
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartOption configures one run.
type StartOption func(*startConfig)

type startConfig struct {
	onDone []func(model.JobRecord)
}

// WithOnDone registers a callback invoked with the terminal record once the
// run finishes, whether it completed or failed.
func WithOnDone(fn func(model.JobRecord)) StartOption {
	return func(c *startConfig) { c.onDone = append(c.onDone, fn) }
}

// Start validates params, allocates a job record and runs the workflow in
// the background. It returns the job id without waiting.
func (o *Orchestrator) Start(params model.Params, opts ...StartOption) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	var sc startConfig
	for _, opt := range opts {
		opt(&sc)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", eris.New("workflow: orchestrator is closed")
	}

	rec := o.deps.Store.Create(params)
	o.wg.Add(1)
	go o.run(rec, sc)

	zap.L().Info("workflow: job started",
		zap.String("job_id", rec.ID),
		zap.Int("max_records", params.MaxRecords),
		zap.Bool("enrich", params.EnrichEnabled),
		zap.Bool("save_leads", params.SaveLeads),
		zap.Bool("send_emails", params.SendEmails),
	)
	return rec.ID, nil
}

// Status returns the polling view of a job.
func (o *Orchestrator) Status(id string) (model.JobStatusView, error) {
	rec, err := o.deps.Store.Get(id)
	if err != nil {
		return model.JobStatusView{}, err
	}
	return rec.View(), nil
}

// Result returns the payload of a completed job. Running jobs return
// ErrJobNotComplete and failed jobs ErrJobFailed; partial data is never
// returned.
func (o *Orchestrator) Result(id string) (*model.WorkflowResult, error) {
	rec, err := o.deps.Store.Get(id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case model.JobStatusCompleted:
		if rec.Result == nil {
			return &model.WorkflowResult{Leads: []model.Contact{}}, nil
		}
		return rec.Result, nil
	case model.JobStatusFailed:
		return nil, eris.Wrapf(ErrJobFailed, "workflow: job %s: %s", id, rec.Error)
	default:
		return nil, eris.Wrapf(ErrJobNotComplete, "workflow: job %s is %s", id, rec.Status)
	}
}

// List returns the polling views of all retained jobs, newest first.
func (o *Orchestrator) List() []model.JobStatusView {
	recs := o.deps.Store.List()
	out := make([]model.JobStatusView, len(recs))
	for i, r := range recs {
		out[i] = r.View()
	}
	return out
}

// Close cancels all in-flight runs and waits for them to record their
// terminal state.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// Wait blocks until every run started so far has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(rec model.JobRecord, sc startConfig) {
	defer o.wg.Done()

	r := &run{
		o:      o,
		id:     rec.ID,
		params: rec.Params,
		start:  o.nowFunc(),
		log:    zap.L().With(zap.String("job_id", rec.ID)),
		last:   rec,
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("workflow: run panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			r.fail(eris.Errorf("internal error: %v", p))
		}
		o.finish(r, sc)
	}()

	for state := stateGenerateURL; state != nil; {
		state = state(o.ctx, r)
	}
}

func (o *Orchestrator) finish(r *run, sc startConfig) {
	rec, err := o.deps.Store.Get(r.id)
	if err != nil {
		// Evicted mid-run: callbacks still get the record as the run left it.
		r.log.Warn("workflow: job record gone before completion", zap.Error(err))
		rec = r.last.Clone()
	}
	r.log.Info("workflow: job finished",
		zap.String("status", string(rec.Status)),
		zap.Duration("duration", o.nowFunc().Sub(r.start)),
		zap.String("error", rec.Error),
	)
	for _, fn := range sc.onDone {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("workflow: on-done callback panicked", zap.Any("panic", p))
				}
			}()
			fn(rec)
		}()
	}
}

// run is the mutable state of one workflow execution. Only its goroutine
// touches it.
type run struct {
	o      *Orchestrator
	id     string
	params model.Params
	start  time.Time
	log    *zap.Logger

	searchURL   string
	remoteJobID string
	scraped     model.ScrapeResult
	contacts    []model.Contact
	leads       []model.Contact
	meta        model.ResultMetadata

	// last mirrors the stored record, and outlives it if the store evicts
	// the job before the run ends.
	last model.JobRecord
}

// update applies a mutation to the job record, logging rejected updates.
func (r *run) update(fn func(*model.JobRecord)) {
	err := r.o.deps.Store.Update(r.id, fn)
	switch {
	case err == nil:
		if cur, gerr := r.o.deps.Store.Get(r.id); gerr == nil {
			r.last = cur
		}
	case errors.Is(err, ErrJobNotFound):
		fn(&r.last)
		if r.last.Status.IsTerminal() && r.last.CompletedAt == nil {
			t := r.o.nowFunc().UTC()
			r.last.CompletedAt = &t
		}
	}
	if err != nil {
		r.log.Warn("workflow: job update rejected", zap.Error(err))
	}
}

func (r *run) advance(status model.JobStatus, msg string) {
	r.update(func(j *model.JobRecord) {
		j.Status = status
		j.Progress = model.Progress{Message: msg}
	})
}

func (r *run) degrade(stage string, chunkIdx int, err error) {
	r.meta.Degradations = append(r.meta.Degradations, model.Degradation{
		Stage:   stage,
		Chunk:   chunkIdx,
		Message: err.Error(),
	})
}

// fail records the terminal failure. The job error is the remote message
// for failed scrapes and the full error text otherwise.
func (r *run) fail(err error) {
	msg := err.Error()
	var sfe *ScrapeFailedError
	if errors.As(err, &sfe) {
		msg = sfe.Message
	}
	r.log.Error("workflow: job failed", zap.Error(err))
	r.update(func(j *model.JobRecord) {
		j.Status = model.JobStatusFailed
		j.Error = msg
		j.Progress.Elapsed = nil
	})
}

func (r *run) complete() {
	r.meta.RemoteJobID = r.remoteJobID
	r.meta.FinalCount = len(r.leads)
	r.meta.DurationMs = r.o.nowFunc().Sub(r.start).Milliseconds()
	if r.leads == nil {
		r.leads = []model.Contact{}
	}
	result := &model.WorkflowResult{
		Count:    len(r.leads),
		Leads:    r.leads,
		Metadata: r.meta,
	}
	r.update(func(j *model.JobRecord) {
		j.Status = model.JobStatusCompleted
		j.Result = result
		j.Progress = model.Progress{
			Step:    j.Progress.Total,
			Total:   j.Progress.Total,
			Message: fmt.Sprintf("Completed with %d leads", len(r.leads)),
		}
	})
}
