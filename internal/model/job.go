package model

import (
	"time"
)

// JobStatus represents the current state of a workflow job.
type JobStatus string

const (
	JobStatusStarted       JobStatus = "started"
	JobStatusGeneratingURL JobStatus = "generating_url"
	JobStatusScraping      JobStatus = "scraping"
	JobStatusProcessing    JobStatus = "processing"
	JobStatusSavingLeads   JobStatus = "saving_leads"
	JobStatusSendingEmails JobStatus = "sending_emails"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
)

// statusRank orders non-terminal states; a job may only move forward.
var statusRank = map[JobStatus]int{
	JobStatusStarted:       0,
	JobStatusGeneratingURL: 1,
	JobStatusScraping:      2,
	JobStatusProcessing:    3,
	JobStatusSavingLeads:   4,
	JobStatusSendingEmails: 5,
	JobStatusCompleted:     6,
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next respects monotonic
// ordering. Any non-terminal state may fail; terminal states never move.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Progress is the caller-visible progress of a running job.
type Progress struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
	Total   int    `json:"total"`
	Elapsed *int   `json:"elapsed,omitempty"` // seconds spent in the current remote wait
}

// JobRecord tracks one asynchronous workflow invocation.
type JobRecord struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Progress    Progress        `json:"progress"`
	StartTime   time.Time       `json:"startTime"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Params      Params          `json:"params"`
	Result      *WorkflowResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j *JobRecord) Clone() JobRecord {
	out := *j
	out.Params = j.Params.Clone()
	if j.Progress.Elapsed != nil {
		e := *j.Progress.Elapsed
		out.Progress.Elapsed = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.Leads = append([]Contact(nil), j.Result.Leads...)
		r.Metadata.Degradations = append([]Degradation(nil), j.Result.Metadata.Degradations...)
		if j.Result.Metadata.Dispatch != nil {
			d := *j.Result.Metadata.Dispatch
			r.Metadata.Dispatch = &d
		}
		out.Result = &r
	}
	return out
}

// JobStatusView is the shape returned by status polling.
type JobStatusView struct {
	ID          string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    Progress   `json:"progress"`
	StartTime   time.Time  `json:"startTime"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	IsComplete  bool       `json:"isComplete"`
}

// View projects the record into its polling shape.
func (j JobRecord) View() JobStatusView {
	return JobStatusView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		StartTime:   j.StartTime,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
		IsComplete:  j.Status.IsTerminal(),
	}
}

// WorkflowResult is the terminal payload of a completed job.
type WorkflowResult struct {
	Count    int            `json:"count"`
	Leads    []Contact      `json:"leads"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata carries counts and degradations for transparency.
type ResultMetadata struct {
	RemoteJobID       string         `json:"remoteJobId,omitempty"`
	OriginalCount     int            `json:"originalCount"`
	AfterDedupCount   int            `json:"afterDedupCount"`
	DuplicatesRemoved int            `json:"duplicatesRemoved"`
	FilteredCount     int            `json:"filteredCount"`
	FinalCount        int            `json:"finalCount"`
	Chunks            int            `json:"chunks"`
	Enriched          bool           `json:"enriched"`
	Persisted         bool           `json:"persisted"`
	PersistID         string         `json:"persistId,omitempty"`
	Dispatch          *DispatchStats `json:"dispatch,omitempty"`
	Degradations      []Degradation  `json:"degradations,omitempty"`
	DurationMs        int64          `json:"durationMs"`
	SourceMetadata    map[string]any `json:"sourceMetadata,omitempty"`
}

// DispatchStats summarizes one outreach dispatch.
type DispatchStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Degradation records a collaborator failure that did not fail the job.
type Degradation struct {
	Stage   string `json:"stage"` // "enrich", "persist", "dispatch"
	Chunk   int    `json:"chunk,omitempty"`
	Message string `json:"message"`
}
