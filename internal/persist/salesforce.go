package persist

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/dedupe"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/salesforce"
)

const (
	// LeadSource tags every Lead this application creates.
	LeadSource = "Prospector"
	// unknownValue fills required Lead fields the scrape did not provide.
	unknownValue = "Unknown"
	// maxDescription is the Salesforce Lead.Description length limit.
	maxDescription = 32000
)

// Salesforce creates Leads for contacts whose email is not already on a
// Lead.
type Salesforce struct {
	client salesforce.Client
}

// NewSalesforce creates a Salesforce persister.
func NewSalesforce(client salesforce.Client) *Salesforce {
	return &Salesforce{client: client}
}

// Persist implements workflow.Persister.
func (s *Salesforce) Persist(ctx context.Context, leads []model.Contact) (model.PersistResult, error) {
	emails := make([]string, 0, len(leads))
	for _, c := range leads {
		if c.Email != "" {
			emails = append(emails, c.Email)
		}
	}
	found, err := salesforce.FindLeadsByEmail(ctx, s.client, emails)
	if err != nil {
		return model.PersistResult{}, eris.Wrap(err, "persist: salesforce find existing leads")
	}
	existing := make([]model.Contact, len(found))
	for i, l := range found {
		existing[i] = model.Contact{
			Name:         strings.TrimSpace(l.FirstName + " " + l.LastName),
			Email:        l.Email,
			Organization: l.Company,
		}
	}

	merge := dedupe.Merge(existing, leads)
	if len(merge.Added) == 0 {
		return result("", merge, 0), nil
	}

	records := make([]map[string]any, len(merge.Added))
	for i, c := range merge.Added {
		records[i] = leadRecord(c)
	}
	results, err := salesforce.InsertLeads(ctx, s.client, records)
	created, firstID := 0, ""
	var failures []string
	for _, r := range results {
		if !r.Success {
			failures = append(failures, r.Errors...)
			continue
		}
		if firstID == "" {
			firstID = r.ID
		}
		created++
	}
	res := result(firstID, merge, created)
	if err != nil {
		return res, eris.Wrap(err, "persist: salesforce insert leads")
	}

	zap.L().Info("persist: salesforce leads created",
		zap.Int("added", created),
		zap.Int("skipped", merge.Skipped),
		zap.Int("failed", len(merge.Added)-created),
	)
	if created < len(merge.Added) {
		return res, eris.Errorf("persist: %d of %d salesforce inserts failed: %s",
			len(merge.Added)-created, len(merge.Added), strings.Join(failures, "; "))
	}
	return res, nil
}

// leadRecord maps a contact onto Lead fields. LastName and Company are
// required by Salesforce.
func leadRecord(c model.Contact) map[string]any {
	first, last := splitName(c.Name)
	if last == "" {
		last = unknownValue
	}
	company := c.Organization
	if company == "" {
		company = c.EmailDomain()
	}
	if company == "" {
		company = unknownValue
	}

	rec := map[string]any{
		"LastName":   last,
		"Company":    company,
		"LeadSource": LeadSource,
	}
	optional := map[string]string{
		"FirstName": first,
		"Email":     c.Email,
		"Title":     c.Title,
		"Website":   c.Website,
		"Industry":  c.Industry,
	}
	for k, v := range optional {
		if v != "" {
			rec[k] = v
		}
	}
	if c.Enrichment != "" {
		desc := c.Enrichment
		if len(desc) > maxDescription {
			desc = desc[:maxDescription]
		}
		rec["Description"] = desc
	}
	return rec
}

// splitName splits on the last space: "Mary Ann Smith" is first "Mary Ann",
// last "Smith". A single word is treated as the last name.
func splitName(name string) (first, last string) {
	name = strings.Join(strings.Fields(name), " ")
	i := strings.LastIndexByte(name, ' ')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
