package reason

import (
	"regexp"
	"strings"
)

// Prompt text arrives from transcription or from other local processes, so
// it is untrusted. The filter strips known injection phrasings and code
// fences before anything reaches the model.
var (
	injectionPattern = regexp.MustCompile(
		`(?i)ignore\s+previous|disregard|system:|assistant:|user:|\bshell\b|exec\b|sudo\b|root\b`)
	fencePattern      = regexp.MustCompile("(?s)```.*?```|```")
	whitespacePattern = regexp.MustCompile(`\s+`)
)

const maxPromptLen = 2000

// sanitizePrompt returns the cleaned prompt and whether anything was
// removed.
func sanitizePrompt(text string) (string, bool) {
	cleaned := fencePattern.ReplaceAllString(text, " ")
	cleaned = injectionPattern.ReplaceAllString(cleaned, " ")
	modified := cleaned != text

	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxPromptLen {
		cleaned = cleaned[:maxPromptLen]
		modified = true
	}
	return cleaned, modified
}
