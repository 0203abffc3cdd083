package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ConversionStatus tracks where a contact sits in the outreach funnel.
type ConversionStatus string

const (
	ConversionNew       ConversionStatus = "new"
	ConversionContacted ConversionStatus = "contacted"
	ConversionReplied   ConversionStatus = "replied"
	ConversionConverted ConversionStatus = "converted"
)

// Contact is the canonical business contact used by every pipeline stage.
// Raw scraped or uploaded records are mapped into it by ContactFromRecord.
type Contact struct {
	Name         string `json:"name"`
	Title        string `json:"title,omitempty"`
	Organization string `json:"organization,omitempty"`
	Website      string `json:"website,omitempty"`
	Size         string `json:"size,omitempty"`
	Email        string `json:"email,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Location     string `json:"location,omitempty"`

	// Derived by the pipeline.
	ConversionStatus ConversionStatus `json:"conversion_status,omitempty"`
	Enrichment       string           `json:"enrichment,omitempty"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`

	// Extra holds source fields that have no canonical slot.
	Extra map[string]any `json:"extra,omitempty"`
}

// EmailDomain returns the lower-cased domain part of the contact's email,
// or "" when the email has no '@'.
func (c Contact) EmailDomain() string {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// Field aliases observed across scrape providers and CSV uploads. Lookups are
// case-insensitive and ignore '_', '-' and ' '.
var (
	emailKeys        = []string{"email", "emailaddress", "workemail", "personalemail", "contactemail"}
	linkedInKeys     = []string{"linkedinurl", "linkedin", "linkedinprofile", "linkedinprofileurl", "profileurl"}
	nameKeys         = []string{"name", "fullname", "contactname", "personname"}
	firstNameKeys    = []string{"firstname", "first", "givenname"}
	lastNameKeys     = []string{"lastname", "last", "surname", "familyname"}
	titleKeys        = []string{"title", "jobtitle", "position", "headline", "role"}
	organizationKeys = []string{"organization", "organizationname", "company", "companyname", "employer", "account"}
	websiteKeys      = []string{"website", "companywebsite", "organizationwebsite", "websiteurl", "domain", "companydomain"}
	sizeKeys         = []string{"size", "companysize", "employees", "employeecount", "estimatednumemployees", "headcount"}
	industryKeys     = []string{"industry", "companyindustry", "organizationindustry", "sector"}
	locationKeys     = []string{"location", "city", "region", "country", "state"}
	statusKeys       = []string{"conversionstatus", "status"}
	enrichmentKeys   = []string{"enrichment", "enrichmenttext", "aienrichment", "notes"}
)

// ContactFromRecord maps a heterogeneous source record into a Contact.
// Keys not consumed by a canonical field are preserved in Extra. When
// several keys normalize alike, the first non-empty one in byte order wins.
func ContactFromRecord(rec map[string]any) Contact {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	norm := make(map[string][]string, len(rec))
	for _, k := range keys {
		n := normalizeKey(k)
		norm[n] = append(norm[n], k)
	}
	used := make(map[string]bool, len(rec))

	pick := func(aliases []string) string {
		for _, alias := range aliases {
			for _, orig := range norm[alias] {
				if s := stringify(rec[orig]); s != "" {
					used[orig] = true
					return s
				}
			}
		}
		return ""
	}

	c := Contact{
		Email:        pick(emailKeys),
		LinkedInURL:  pick(linkedInKeys),
		Title:        pick(titleKeys),
		Organization: pick(organizationKeys),
		Website:      pick(websiteKeys),
		Size:         pick(sizeKeys),
		Industry:     pick(industryKeys),
		Location:     pick(locationKeys),
		Enrichment:   pick(enrichmentKeys),
	}
	c.Name = pick(nameKeys)
	if c.Name == "" {
		first, last := pick(firstNameKeys), pick(lastNameKeys)
		c.Name = strings.TrimSpace(first + " " + last)
	}
	if s := pick(statusKeys); s != "" {
		c.ConversionStatus = ConversionStatus(strings.ToLower(s))
	}

	for k, v := range rec {
		if used[k] || v == nil {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c
}

// ContactsFromRecords maps each record via ContactFromRecord.
func ContactsFromRecords(recs []map[string]any) []Contact {
	out := make([]Contact, 0, len(recs))
	for _, r := range recs {
		out = append(out, ContactFromRecord(r))
	}
	return out
}

func normalizeKey(k string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(k)))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// Nested organization objects: {"organization": {"name": "..."}}.
		if name, ok := t["name"]; ok {
			return stringify(name)
		}
		return ""
	case []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
