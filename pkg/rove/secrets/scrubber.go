// Package secrets resolves LLM provider credentials and scrubs
// secret-shaped substrings out of user-visible text before it leaves the
// process. The resolution chain and the masking idiom both follow
// pkg/goclaw/copilot/keyring.go and tool_guard.go's AuditLog argument
// sanitization from the teacher codebase.
package secrets

import "regexp"

// scrubPatterns match common secret shapes: OpenAI/Anthropic-style API
// keys, bearer tokens, and generic key=value assignments that look like
// credentials. Order matters only for readability; all patterns are
// applied on every call.
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*['"]?[A-Za-z0-9._-]{6,}['"]?`),
}

const maskedReplacement = "[REDACTED]"

// Scrubber masks secret-shaped substrings in error strings and log lines.
type Scrubber struct {
	patterns []*regexp.Regexp
}

// NewScrubber returns a Scrubber using the default pattern set plus any
// extra patterns supplied by the caller (e.g. a provider-specific key
// prefix).
func NewScrubber(extra ...*regexp.Regexp) *Scrubber {
	patterns := make([]*regexp.Regexp, 0, len(scrubPatterns)+len(extra))
	patterns = append(patterns, scrubPatterns...)
	patterns = append(patterns, extra...)
	return &Scrubber{patterns: patterns}
}

// Scrub returns s with every secret-shaped substring replaced by
// "[REDACTED]". Safe to call on already-scrubbed text (idempotent).
func (s *Scrubber) Scrub(text string) string {
	out := text
	for _, p := range s.patterns {
		out = p.ReplaceAllString(out, maskedReplacement)
	}
	return out
}

// ScrubError returns the Scrub'd message of err, or "" if err is nil.
func (s *Scrubber) ScrubError(err error) string {
	if err == nil {
		return ""
	}
	return s.Scrub(err.Error())
}
