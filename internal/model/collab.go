package model

// Remote scrape job states reported by the scrape service.
const (
	RemoteStatusPending   = "pending"
	RemoteStatusRunning   = "running"
	RemoteStatusCompleted = "completed"
	RemoteStatusFailed    = "failed"
)

// ScrapeStatus is one status check of a remote scrape job.
type ScrapeStatus struct {
	Status     string `json:"status"`
	IsComplete bool   `json:"isComplete"`
	Error      string `json:"error,omitempty"`
	Scraped    int    `json:"scraped,omitempty"`
}

// Failed reports whether the remote job ended in failure.
func (s ScrapeStatus) Failed() bool {
	return s.Status == RemoteStatusFailed
}

// Succeeded reports whether the remote job finished and its result can be fetched.
func (s ScrapeStatus) Succeeded() bool {
	return s.IsComplete && !s.Failed()
}

// ScrapeResult is the final payload of a remote scrape job. Small results
// carry Leads inline; large ones carry a SessionID to page through.
type ScrapeResult struct {
	Count     int            `json:"count"`
	Leads     []Contact      `json:"leads,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Paginated reports whether the leads must be fetched page by page.
func (r ScrapeResult) Paginated() bool {
	return r.SessionID != "" && len(r.Leads) == 0 && r.Count > 0
}

// Page is one slice of a paginated scrape result.
type Page struct {
	Leads   []Contact `json:"leads"`
	HasMore bool      `json:"hasMore"`
}

// PersistResult is the outcome of saving leads to the shared store.
type PersistResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
}

// DispatchRequest carries the outreach parameters of a run.
type DispatchRequest struct {
	Subject         string `json:"subject"`
	Template        string `json:"template,omitempty"`
	UseAIGeneration bool   `json:"useAiGeneration,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	CampaignType    string `json:"campaignType,omitempty"`
}

// DispatchResult is the outcome of one outreach dispatch.
type DispatchResult struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
}
