// Package sanitizer implements the Injection Sanitiser from spec.md
// §4.7: a fixed, case-insensitive pattern set applied to every tool
// result before it re-enters the model's context. Structurally it
// mirrors tool_guard.go's compileDangerousPatterns — a slice of
// precompiled regexes checked in order, with a logged match.
package sanitizer

import (
	"fmt"
	"log/slog"
	"regexp"
)

const blockedReplacement = "[INJECTION DETECTED - Content blocked for safety]"

var patterns = compilePatterns([]string{
	`ignore previous instructions`,
	`disregard all`,
	`new system prompt`,
	`act as`,
	`you are now`,
	`forget your`,
	`override your`,
	`jailbreak`,
	`\bDAN\b`,
	`developer mode`,
})

func compilePatterns(raw []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Sanitizer scans tool results for prompt-injection attempts.
type Sanitizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{logger: logger.With("component", "sanitizer")}
}

// Sanitize returns content unchanged unless one of the fixed patterns
// matches, in which case the entire result is replaced and a warning is
// logged with the matched substring and its offset. Sanitize is
// idempotent: sanitizing already-blocked content returns it unchanged,
// since the replacement string itself matches none of the patterns.
func (s *Sanitizer) Sanitize(content string) string {
	for _, p := range patterns {
		loc := p.FindStringIndex(content)
		if loc == nil {
			continue
		}
		s.logger.Warn("injection pattern matched",
			"pattern", p.String(),
			"matched", content[loc[0]:loc[1]],
			"offset", loc[0],
		)
		return blockedReplacement
	}
	return content
}

// Describe is a debugging helper reporting the patterns currently active.
func Describe() string {
	return fmt.Sprintf("%d fixed injection patterns", len(patterns))
}
