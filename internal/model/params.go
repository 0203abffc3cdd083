package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrValidation marks bad input parameters. It is fatal to the request and
// never retried.
var ErrValidation = eris.New("invalid workflow parameters")

// MaxChunkSize bounds the per-chunk batch handed to enrichment.
const MaxChunkSize = 1000

// SearchCriteria describes who to prospect for. The query builder turns it
// into a provider-specific search URL.
type SearchCriteria struct {
	JobTitles    []string `json:"jobTitles,omitempty"`
	Seniorities  []string `json:"seniorities,omitempty"`
	Locations    []string `json:"locations,omitempty"`
	Industries   []string `json:"industries,omitempty"`
	CompanySizes []string `json:"companySizes,omitempty"`
	Keywords     string   `json:"keywords,omitempty"`
	SearchURL    string   `json:"searchUrl,omitempty"` // pre-built URL, bypasses the builder
}

// IsEmpty reports whether no criterion is set.
func (c SearchCriteria) IsEmpty() bool {
	return len(c.JobTitles) == 0 && len(c.Seniorities) == 0 && len(c.Locations) == 0 &&
		len(c.Industries) == 0 && len(c.CompanySizes) == 0 &&
		strings.TrimSpace(c.Keywords) == "" && strings.TrimSpace(c.SearchURL) == ""
}

// Params are the inputs of one workflow run.
type Params struct {
	Criteria          SearchCriteria `json:"criteria"`
	MaxRecords        int            `json:"maxRecords"` // 0 = unlimited, capped by config
	EnrichEnabled     bool           `json:"enrichEnabled"`
	ChunkSize         int            `json:"chunkSize,omitempty"`
	ExcludeDomains    []string       `json:"excludeDomains,omitempty"`
	ExcludeIndustries []string       `json:"excludeIndustries,omitempty"`

	SaveLeads bool `json:"saveLeads"`

	SendEmails      bool   `json:"sendEmails"`
	EmailSubject    string `json:"emailSubject,omitempty"`
	EmailTemplate   string `json:"emailTemplate,omitempty"`
	UseAIGeneration bool   `json:"useAiGeneration,omitempty"`

	SessionID    string `json:"sessionId,omitempty"`
	CampaignType string `json:"campaignType,omitempty"`
}

// Validate checks parameters that would make the run meaningless.
func (p Params) Validate() error {
	if p.Criteria.IsEmpty() {
		return eris.Wrap(ErrValidation, "at least one search criterion is required")
	}
	if p.MaxRecords < 0 {
		return eris.Wrap(ErrValidation, "maxRecords must not be negative")
	}
	if p.ChunkSize < 0 || p.ChunkSize > MaxChunkSize {
		return eris.Wrapf(ErrValidation, "chunkSize must be between 0 and %d", MaxChunkSize)
	}
	return nil
}

// DispatchReady reports whether an outreach dispatch has everything it
// needs, given the number of leads produced.
func (p Params) DispatchReady(leads int) bool {
	if !p.SendEmails || leads == 0 {
		return false
	}
	if strings.TrimSpace(p.EmailSubject) == "" {
		return false
	}
	return strings.TrimSpace(p.EmailTemplate) != "" || p.UseAIGeneration
}

// IsCampaign reports whether the run must hold a campaign lock.
func (p Params) IsCampaign() bool {
	return p.SessionID != "" && p.CampaignType != ""
}

// Clone returns a copy that shares no slices with p.
func (p Params) Clone() Params {
	out := p
	out.Criteria.JobTitles = cloneStrings(p.Criteria.JobTitles)
	out.Criteria.Seniorities = cloneStrings(p.Criteria.Seniorities)
	out.Criteria.Locations = cloneStrings(p.Criteria.Locations)
	out.Criteria.Industries = cloneStrings(p.Criteria.Industries)
	out.Criteria.CompanySizes = cloneStrings(p.Criteria.CompanySizes)
	out.ExcludeDomains = cloneStrings(p.ExcludeDomains)
	out.ExcludeIndustries = cloneStrings(p.ExcludeIndustries)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
