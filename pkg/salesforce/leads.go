package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID          string `json:"Id" salesforce:"Id"`
	FirstName   string `json:"FirstName" salesforce:"FirstName"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	Email       string `json:"Email" salesforce:"Email"`
	Company     string `json:"Company" salesforce:"Company"`
	Title       string `json:"Title" salesforce:"Title"`
	Website     string `json:"Website" salesforce:"Website"`
	Industry    string `json:"Industry" salesforce:"Industry"`
	Description string `json:"Description" salesforce:"Description"`
	LeadSource  string `json:"LeadSource" salesforce:"LeadSource"`
	Status      string `json:"Status" salesforce:"Status"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Email", "Company", "Title",
	"Website", "Industry", "Description", "LeadSource", "Status",
}

// emailsPerQuery keeps the IN clause well under the SOQL length limit.
const emailsPerQuery = 100

// FindLeadsByEmail returns the existing Leads whose Email is one of emails.
func FindLeadsByEmail(ctx context.Context, c Client, emails []string) ([]Lead, error) {
	var all []Lead
	for start := 0; start < len(emails); start += emailsPerQuery {
		end := min(start+emailsPerQuery, len(emails))
		quoted := make([]string, 0, end-start)
		for _, e := range emails[start:end] {
			if e = strings.TrimSpace(e); e != "" {
				quoted = append(quoted, "'"+escapeSoql(e)+"'")
			}
		}
		if len(quoted) == 0 {
			continue
		}
		soql := fmt.Sprintf("SELECT %s FROM Lead WHERE Email IN (%s)",
			strings.Join(leadFields, ", "), strings.Join(quoted, ", "))

		var leads []Lead
		if err := c.Query(ctx, soql, &leads); err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: find leads by email batch %d-%d", start, end))
		}
		all = append(all, leads...)
	}
	return all, nil
}

// InsertLeads creates Lead records in batches of 200 and returns one result
// per record.
func InsertLeads(ctx context.Context, c Client, records []map[string]any) ([]CollectionResult, error) {
	var all []CollectionResult
	for start := 0; start < len(records); start += maxBatchSize {
		end := min(start+maxBatchSize, len(records))
		results, err := c.InsertCollection(ctx, "Lead", records[start:end])
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: insert leads batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(s)
}
