// Package query turns search criteria into a people-search URL for the
// scrape service.
package query

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// DefaultBaseURL is the people-search page the scrape service understands.
const DefaultBaseURL = "https://app.apollo.io/#/people"

// ErrEmptyCriteria is returned when nothing is set to search on.
var ErrEmptyCriteria = eris.New("query: no search criteria")

// Builder builds search URLs against one base URL.
type Builder struct {
	base string
}

// NewBuilder returns a Builder for base, or DefaultBaseURL when empty.
func NewBuilder(base string) *Builder {
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	return &Builder{base: base}
}

// seniorityAliases maps common spellings to the values the search page uses.
var seniorityAliases = map[string]string{
	"c-level":        "c_suite",
	"c-suite":        "c_suite",
	"csuite":         "c_suite",
	"executive":      "c_suite",
	"vp":             "vp",
	"vice president": "vp",
	"director":       "director",
	"manager":        "manager",
	"head":           "head",
	"owner":          "owner",
	"founder":        "founder",
	"partner":        "partner",
	"senior":         "senior",
	"entry":          "entry",
	"intern":         "intern",
}

// BuildURL implements the workflow query builder. A pre-built SearchURL is
// validated and returned as is.
func (b *Builder) BuildURL(_ context.Context, c model.SearchCriteria) (string, error) {
	if raw := strings.TrimSpace(c.SearchURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", eris.Errorf("query: invalid search url %q", raw)
		}
		return raw, nil
	}
	if c.IsEmpty() {
		return "", ErrEmptyCriteria
	}

	q := url.Values{}
	addAll(q, "personTitles[]", c.JobTitles, nil)
	addAll(q, "personSeniorities[]", c.Seniorities, normalizeSeniority)
	addAll(q, "personLocations[]", c.Locations, nil)
	addAll(q, "organizationIndustryTagIds[]", c.Industries, nil)
	addAll(q, "organizationNumEmployeesRanges[]", c.CompanySizes, normalizeSize)
	if kw := strings.TrimSpace(c.Keywords); kw != "" {
		q.Set("qKeywords", kw)
	}
	q.Set("sortByField", "recommendations_score")
	q.Set("page", "1")

	sep := "?"
	if strings.Contains(b.base, "?") {
		sep = "&"
	}
	return b.base + sep + encodeSorted(q), nil
}

func addAll(q url.Values, key string, vals []string, norm func(string) string) {
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if norm != nil {
			v = norm(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		q.Add(key, v)
	}
}

func normalizeSeniority(s string) string {
	if v, ok := seniorityAliases[strings.ToLower(s)]; ok {
		return v
	}
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

// normalizeSize accepts "11-50", "11 - 50", "11,50" or "1000+" and returns
// the "min,max" form the search page expects.
func normalizeSize(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	if strings.HasSuffix(s, "+") {
		return strings.TrimSuffix(s, "+") + ","
	}
	return strings.Replace(s, "-", ",", 1)
}

// encodeSorted is url.Values.Encode without escaping the "[]" in keys.
func encodeSorted(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}
