package resilience

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/=]+`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|token|secret|password|key)["']?\s*[=:]\s*["']?)[^\s&"',;]+`), "${1}" + redacted},
	{regexp.MustCompile(`sk-[A-Za-z0-9\-_]{16,}`), redacted},
	{regexp.MustCompile(`(?i)(https?://[^:/\s]+:)[^@/\s]+(@)`), "${1}" + redacted + "${2}"},
}

// Redact scrubs credential material from s. Explicit secrets are replaced
// first, then common token shapes (bearer headers, key=value query
// parameters, sk- keys, userinfo passwords).
func Redact(s string, secrets ...string) string {
	for _, sec := range secrets {
		if len(sec) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, sec, redacted)
	}
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}
