// Package source adapts the scrape service client to the workflow, mapping
// raw lead records into canonical contacts at the boundary.
package source

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/workflow"
	"github.com/sells-group/prospector/pkg/scraper"
)

// Scraper implements workflow.Scraper over a scraper.Client.
type Scraper struct {
	client scraper.Client
}

var _ workflow.Scraper = (*Scraper)(nil)

// New wraps client.
func New(client scraper.Client) *Scraper {
	return &Scraper{client: client}
}

// Start begins a remote scrape of searchURL for up to limit records.
func (s *Scraper) Start(ctx context.Context, searchURL string, limit int) (string, error) {
	resp, err := s.client.StartJob(ctx, scraper.StartRequest{URL: searchURL, Limit: limit})
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status reports the remote job state. An id the service no longer knows
// maps to workflow.ErrRemoteJobExpired.
func (s *Scraper) Status(ctx context.Context, remoteJobID string) (model.ScrapeStatus, error) {
	resp, err := s.client.GetJobStatus(ctx, remoteJobID)
	if err != nil {
		return model.ScrapeStatus{}, expired(err)
	}
	st := model.ScrapeStatus{
		Status:     strings.ToLower(strings.TrimSpace(resp.Status)),
		IsComplete: resp.IsComplete,
		Error:      resp.Error,
		Scraped:    resp.Scraped,
	}
	// Some deployments only flip the status string.
	if st.Status == model.RemoteStatusCompleted || st.Status == model.RemoteStatusFailed {
		st.IsComplete = true
	}
	return st, nil
}

// Result fetches the finished payload.
func (s *Scraper) Result(ctx context.Context, remoteJobID string) (model.ScrapeResult, error) {
	resp, err := s.client.GetJobResult(ctx, remoteJobID)
	if err != nil {
		return model.ScrapeResult{}, expired(err)
	}
	return model.ScrapeResult{
		Count:     resp.Count,
		Leads:     model.ContactsFromRecords(resp.Leads),
		SessionID: resp.SessionID,
		Metadata:  resp.Metadata,
	}, nil
}

// Page fetches one slice of a paginated result.
func (s *Scraper) Page(ctx context.Context, sessionID string, offset, limit int) (model.Page, error) {
	resp, err := s.client.GetSessionPage(ctx, sessionID, offset, limit)
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{
		Leads:   model.ContactsFromRecords(resp.Leads),
		HasMore: resp.HasMore,
	}, nil
}

func expired(err error) error {
	if errors.Is(err, scraper.ErrJobNotFound) {
		return eris.Wrap(workflow.ErrRemoteJobExpired, err.Error())
	}
	return err
}
