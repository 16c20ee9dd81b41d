package textprocessor

import (
	"regexp"
	"strings"
	"unicode"
)

const filtered = "[filtered]"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(everything|all)\s+(you\s+)?(know|were\s+told)\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)\bnew\s+instructions\s*:`),
	regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`),
	regexp.MustCompile(`(?i)<\|?(im_start|im_end|system)\|?>`),
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips control characters, neutralises prompt-injection
// phrases and collapses whitespace.
func Sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	for _, re := range injectionPatterns {
		text = re.ReplaceAllString(text, filtered)
	}

	text = horizontalSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")

	return strings.TrimSpace(text)
}
