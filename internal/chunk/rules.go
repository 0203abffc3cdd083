package chunk

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
)

// Rules are the exclusion filters applied to every chunk.
type Rules struct {
	Domains    []string `yaml:"domains" json:"domains,omitempty"`
	Industries []string `yaml:"industries" json:"industries,omitempty"`
}

// LoadRules reads a default rule set from a YAML file:
//
//	exclusions:
//	  domains: [competitor.com]
//	  industries: [staffing]
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "chunk: read rules %s", path)
	}
	var wrapper struct {
		Exclusions Rules `yaml:"exclusions"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Rules{}, eris.Wrap(err, "chunk: parse rules")
	}
	return wrapper.Exclusions, nil
}

// Merge returns the union of r and other.
func (r Rules) Merge(other Rules) Rules {
	return Rules{
		Domains:    append(append([]string(nil), r.Domains...), other.Domains...),
		Industries: append(append([]string(nil), r.Industries...), other.Industries...),
	}
}

// IsEmpty reports whether the rules exclude nothing.
func (r Rules) IsEmpty() bool {
	return len(r.Domains) == 0 && len(r.Industries) == 0
}

// matcher is Rules normalized once per chunk. A Caser is stateful, so each
// matcher owns its own.
type matcher struct {
	domains    []string
	industries []string
	fold       cases.Caser
}

func compile(r Rules) matcher {
	m := matcher{fold: cases.Fold()}
	for _, d := range r.Domains {
		if d = normalizeDomain(d); d != "" {
			m.domains = append(m.domains, d)
		}
	}
	for _, ind := range r.Industries {
		if ind = m.fold.String(strings.TrimSpace(ind)); ind != "" {
			m.industries = append(m.industries, ind)
		}
	}
	return m
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "@")
	d = strings.TrimPrefix(d, "*.")
	return strings.Trim(d, ".")
}

// excludes reports whether c must be dropped.
func (m matcher) excludes(c model.Contact) bool {
	if host := c.EmailDomain(); host != "" {
		for _, d := range m.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	ind := m.fold.String(strings.TrimSpace(c.Industry))
	if ind == "" {
		return false
	}
	for _, term := range m.industries {
		if strings.Contains(ind, term) || strings.Contains(term, ind) {
			return true
		}
	}
	return false
}

// Filter drops every contact the rules exclude, preserving order.
func Filter(contacts []model.Contact, r Rules) (kept []model.Contact, filtered int) {
	m := compile(r)
	kept = make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if m.excludes(c) {
			filtered++
			continue
		}
		kept = append(kept, c)
	}
	return kept, filtered
}
