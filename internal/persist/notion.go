package persist

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/dedupe"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/notion"
)

// Lead database property names.
const (
	propName     = "Name"
	propEmail    = "Email"
	propTitle    = "Title"
	propCompany  = "Company"
	propWebsite  = "Website"
	propLinkedIn = "LinkedIn"
	propIndustry = "Industry"
	propLocation = "Location"
	propSize     = "Size"
	propStatus   = "Status"
	propNotes    = "Notes"
)

// Notion merges leads into a Notion lead database. Existing pages are read
// once per call to build the identity set; only new leads become pages.
type Notion struct {
	client notion.Client
	dbID   string
}

// NewNotion creates a Notion persister for database dbID.
func NewNotion(client notion.Client, dbID string) *Notion {
	return &Notion{client: client, dbID: dbID}
}

// Persist implements workflow.Persister.
func (n *Notion) Persist(ctx context.Context, leads []model.Contact) (model.PersistResult, error) {
	pages, err := notion.QueryAll(ctx, n.client, n.dbID, nil)
	if err != nil {
		return model.PersistResult{}, eris.Wrap(err, "persist: notion load existing leads")
	}
	existing := make([]model.Contact, len(pages))
	for i, p := range pages {
		existing[i] = pageContact(p.Properties)
	}

	merge := dedupe.Merge(existing, leads)
	created := 0
	for _, c := range merge.Added {
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(n.dbID),
			},
			Properties: leadProperties(c),
		}
		if _, err := n.client.CreatePage(ctx, req); err != nil {
			return result(n.dbID, merge, created), eris.Wrapf(err, "persist: notion create page %d of %d", created+1, len(merge.Added))
		}
		created++
	}

	zap.L().Info("persist: notion updated",
		zap.String("database_id", n.dbID),
		zap.Int("existing", len(pages)),
		zap.Int("added", created),
		zap.Int("skipped", merge.Skipped),
	)
	return result(n.dbID, merge, created), nil
}

func pageContact(props notionapi.Properties) model.Contact {
	return model.Contact{
		Name:         notion.PlainText(props, propName),
		Email:        notion.PlainText(props, propEmail),
		LinkedInURL:  notion.PlainText(props, propLinkedIn),
		Organization: notion.PlainText(props, propCompany),
	}
}

// leadProperties maps a contact onto the lead database schema. Empty values
// are left out because Notion rejects empty url and email properties.
func leadProperties(c model.Contact) notionapi.Properties {
	props := notionapi.Properties{propName: notion.Title(c.Name)}
	text := map[string]string{
		propTitle:    c.Title,
		propCompany:  c.Organization,
		propLocation: c.Location,
		propSize:     c.Size,
		propNotes:    c.Enrichment,
	}
	for k, v := range text {
		if v != "" {
			props[k] = notion.Text(v)
		}
	}
	if c.Email != "" {
		props[propEmail] = notion.Email(c.Email)
	}
	if c.Website != "" {
		props[propWebsite] = notion.URL(c.Website)
	}
	if c.LinkedInURL != "" {
		props[propLinkedIn] = notion.URL(c.LinkedInURL)
	}
	if c.Industry != "" {
		props[propIndustry] = notion.Select(c.Industry)
	}
	status := c.ConversionStatus
	if status == "" {
		status = model.ConversionNew
	}
	props[propStatus] = notion.Select(string(status))
	return props
}
