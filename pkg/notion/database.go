package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database matching filter (nil for all),
// following cursors until HasMore is false.
func QueryAll(ctx context.Context, c Client, dbID string, filter notionapi.Filter) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
			Filter:      filter,
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// Text builds a rich_text property. Notion caps one text object at 2000
// characters.
func Text(s string) notionapi.RichTextProperty {
	if len(s) > 2000 {
		s = s[:2000]
	}
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// URL builds a url property.
func URL(s string) notionapi.URLProperty {
	return notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: s}
}

// Email builds an email property.
func Email(s string) notionapi.EmailProperty {
	return notionapi.EmailProperty{Type: notionapi.PropertyTypeEmail, Email: s}
}

// Select builds a select property.
func Select(s string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: s}}
}

// PlainText returns the text of a property read back from the API, or ""
// for missing or unsupported property types.
func PlainText(props notionapi.Properties, name string) string {
	switch p := props[name].(type) {
	case *notionapi.TitleProperty:
		return joinRichText(p.Title)
	case notionapi.TitleProperty:
		return joinRichText(p.Title)
	case *notionapi.RichTextProperty:
		return joinRichText(p.RichText)
	case notionapi.RichTextProperty:
		return joinRichText(p.RichText)
	case *notionapi.URLProperty:
		return p.URL
	case notionapi.URLProperty:
		return p.URL
	case *notionapi.EmailProperty:
		return p.Email
	case notionapi.EmailProperty:
		return p.Email
	case *notionapi.SelectProperty:
		return p.Select.Name
	case notionapi.SelectProperty:
		return p.Select.Name
	default:
		return ""
	}
}

func joinRichText(rt []notionapi.RichText) string {
	var sb strings.Builder
	for _, r := range rt {
		switch {
		case r.PlainText != "":
			sb.WriteString(r.PlainText)
		case r.Text != nil:
			sb.WriteString(r.Text.Content)
		}
	}
	return sb.String()
}
