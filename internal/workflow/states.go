package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/chunk"
	"github.com/sells-group/prospector/internal/dedupe"
	"github.com/sells-group/prospector/internal/model"
)

// stateFn is one stage of a run. It returns the next stage, or nil once the
// job record is terminal.
type stateFn func(ctx context.Context, r *run) stateFn

func stateGenerateURL(ctx context.Context, r *run) stateFn {
	r.advance(model.JobStatusGeneratingURL, "Building search query")

	url, err := r.o.deps.Query.BuildURL(ctx, r.params.Criteria)
	if err != nil {
		r.fail(eris.Wrap(err, "workflow: build query"))
		return nil
	}
	r.searchURL = url
	r.log.Debug("workflow: search url built", zap.String("url", url))
	return stateScrape
}

func stateScrape(ctx context.Context, r *run) stateFn {
	limit := r.o.cfg.recordLimit(r.params.MaxRecords)
	r.advance(model.JobStatusScraping, fmt.Sprintf("Starting scrape for up to %d records", limit))

	remoteID, err := r.o.deps.Scraper.Start(ctx, r.searchURL, limit)
	if err != nil {
		r.fail(eris.Wrap(err, "workflow: start scrape"))
		return nil
	}
	r.remoteJobID = remoteID
	r.log = r.log.With(zap.String("remote_job_id", remoteID))

	res, err := r.o.poller.Poll(ctx, remoteID, func(t Tick) {
		secs := int(t.Elapsed / time.Second)
		msg := fmt.Sprintf("Scraping in progress (%ds elapsed)", secs)
		if t.Err == nil && t.Status.Scraped > 0 {
			msg = fmt.Sprintf("Scraping in progress, %d records so far (%ds elapsed)", t.Status.Scraped, secs)
		}
		r.update(func(j *model.JobRecord) {
			j.Progress.Message = msg
			j.Progress.Elapsed = &secs
		})
	})
	if err != nil {
		r.fail(err)
		return nil
	}
	r.scraped = res
	return stateCollect
}

// stateCollect gathers the raw leads, inline or page by page.
func stateCollect(ctx context.Context, r *run) stateFn {
	res := r.scraped
	r.meta.SourceMetadata = res.Metadata

	limit := r.o.cfg.recordLimit(r.params.MaxRecords)
	if !res.Paginated() {
		r.contacts = res.Leads
		if len(r.contacts) > limit {
			r.contacts = r.contacts[:limit]
		}
		return stateProcess
	}

	pageSize := r.o.cfg.PageSize
	r.update(func(j *model.JobRecord) {
		j.Progress = model.Progress{Message: fmt.Sprintf("Fetching %d results", res.Count)}
	})

	contacts := make([]model.Contact, 0, min(res.Count, limit))
	for offset := 0; len(contacts) < limit; offset += pageSize {
		page, err := r.o.deps.Scraper.Page(ctx, res.SessionID, offset, pageSize)
		if err != nil {
			r.fail(eris.Wrapf(err, "workflow: fetch results page at offset %d", offset))
			return nil
		}
		contacts = append(contacts, page.Leads...)
		r.update(func(j *model.JobRecord) {
			j.Progress.Message = fmt.Sprintf("Fetched %d of %d results", len(contacts), res.Count)
		})
		if !page.HasMore || len(page.Leads) == 0 {
			break
		}
	}
	if len(contacts) > limit {
		contacts = contacts[:limit]
	}
	r.contacts = contacts
	return stateProcess
}

func stateProcess(ctx context.Context, r *run) stateFn {
	r.meta.OriginalCount = len(r.contacts)
	if len(r.contacts) == 0 {
		r.log.Info("workflow: scrape returned no results")
		r.leads = []model.Contact{}
		r.complete()
		return nil
	}

	dd := dedupe.Dedupe(r.contacts)
	r.meta.AfterDedupCount = len(dd.Unique)
	r.meta.DuplicatesRemoved = dd.RemovedCount

	size := r.params.ChunkSize
	if size <= 0 {
		size = r.o.cfg.ChunkSize
	}
	rules := r.o.cfg.DefaultRules.Merge(chunk.Rules{
		Domains:    r.params.ExcludeDomains,
		Industries: r.params.ExcludeIndustries,
	})

	// Total is fixed after in-run dedup; filtering happens inside each chunk,
	// so the chunk count never changes and progress never passes Total.
	chunks := chunk.Split(dd.Unique, size)
	r.meta.Chunks = len(chunks)
	r.update(func(j *model.JobRecord) {
		j.Status = model.JobStatusProcessing
		j.Progress = model.Progress{
			Step:    0,
			Total:   len(chunks),
			Message: fmt.Sprintf("Processing %d contacts in %d chunks", len(dd.Unique), len(chunks)),
		}
	})

	leads := make([]model.Contact, 0, len(dd.Unique))
	enriched := r.params.EnrichEnabled
	for i, c := range chunks {
		if i > 0 {
			if err := r.o.sleep(ctx, r.o.cfg.ChunkDelay); err != nil {
				r.fail(eris.Wrap(err, "workflow: interrupted between chunks"))
				return nil
			}
		}

		out := r.o.processor.Process(ctx, c, rules, r.params.EnrichEnabled)
		if ctx.Err() != nil {
			r.fail(eris.Wrapf(ctx.Err(), "workflow: interrupted in chunk %d", i+1))
			return nil
		}
		leads = append(leads, out.Leads...)
		r.meta.FilteredCount += out.FilteredCount
		if out.EnrichErr != nil {
			r.degrade("enrich", i+1, out.EnrichErr)
		}
		if r.params.EnrichEnabled && !out.Enriched && len(out.Leads) > 0 {
			enriched = false
		}

		done := i + 1
		r.update(func(j *model.JobRecord) {
			j.Progress.Step = done
			j.Progress.Message = chunkMessage(done, len(chunks), len(leads))
		})
	}

	r.leads = leads
	r.meta.Enriched = enriched && len(leads) > 0
	return statePersist
}

func statePersist(ctx context.Context, r *run) stateFn {
	if !r.params.SaveLeads || len(r.leads) == 0 {
		return stateDispatch
	}
	r.advanceKeepingTotal(model.JobStatusSavingLeads, fmt.Sprintf("Saving %d leads", len(r.leads)))

	if r.o.deps.Persister == nil {
		r.degrade("persist", 0, eris.New("no lead store configured"))
		return stateDispatch
	}
	res, err := r.o.deps.Persister.Persist(ctx, r.leads)
	if err == nil && !res.Success {
		err = eris.New("lead store reported failure")
	}
	if err != nil {
		r.log.Error("workflow: saving leads failed, returning unsaved leads", zap.Error(err))
		r.degrade("persist", 0, err)
		return stateDispatch
	}
	r.meta.Persisted = true
	r.meta.PersistID = res.ID
	r.log.Info("workflow: leads saved",
		zap.String("persist_id", res.ID),
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
	)
	return stateDispatch
}

func stateDispatch(ctx context.Context, r *run) stateFn {
	if !r.params.DispatchReady(len(r.leads)) {
		if r.params.SendEmails {
			r.log.Info("workflow: outreach skipped, subject, template or leads missing")
		}
		return stateComplete
	}
	r.advanceKeepingTotal(model.JobStatusSendingEmails, fmt.Sprintf("Sending outreach to %d leads", len(r.leads)))

	if r.o.deps.Dispatcher == nil {
		r.degrade("dispatch", 0, eris.New("no dispatcher configured"))
		return stateComplete
	}
	res, err := r.o.deps.Dispatcher.Dispatch(ctx, r.leads, model.DispatchRequest{
		Subject:         r.params.EmailSubject,
		Template:        r.params.EmailTemplate,
		UseAIGeneration: r.params.UseAIGeneration,
		SessionID:       r.params.SessionID,
		CampaignType:    r.params.CampaignType,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("workflow: outreach dispatch failed", zap.Error(err))
		r.degrade("dispatch", 0, err)
		return stateComplete
	}
	if err != nil {
		r.fail(eris.Wrap(err, "workflow: interrupted during dispatch"))
		return nil
	}
	r.meta.Dispatch = &model.DispatchStats{Sent: res.Sent, Failed: res.Failed}
	if !res.Success {
		r.degrade("dispatch", 0, eris.Errorf("dispatch reported failure (%d sent, %d failed)", res.Sent, res.Failed))
	}
	return stateComplete
}

func stateComplete(_ context.Context, r *run) stateFn {
	r.complete()
	return nil
}

// advanceKeepingTotal moves to a post-processing stage without resetting the
// chunk counters a watcher has already seen.
func (r *run) advanceKeepingTotal(status model.JobStatus, msg string) {
	r.update(func(j *model.JobRecord) {
		j.Status = status
		j.Progress.Message = msg
	})
}
