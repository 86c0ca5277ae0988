package stringutils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`(?i)(https?://|ftp://|www\.)[^\s]+`)
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
	multiSpacePattern   = regexp.MustCompile(`\s+`)
)

// DefaultTitle is used when neither the title generator nor the message text yields a title.
const DefaultTitle = "New conversation"

// SanitizeTitle strips links and symbols from text so it can be shown as a title.
func SanitizeTitle(content string) string {
	content = urlPattern.ReplaceAllString(content, "")
	content = markdownLinkPattern.ReplaceAllString(content, "$1")

	var result strings.Builder
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) ||
			r == '.' || r == ',' || r == '!' || r == '?' || r == '-' || r == '\'' {
			result.WriteRune(r)
		}
	}

	content = multiSpacePattern.ReplaceAllString(result.String(), " ")
	content = strings.TrimSpace(content)
	content = strings.Trim(content, " .,!?-'\"")
	return content
}

// TruncateTitle truncates a title to at most maxLen runes, breaking at a word boundary when possible.
func TruncateTitle(title string, maxLen int) string {
	runes := []rune(title)
	if len(runes) <= maxLen {
		return title
	}

	const ellipsis = "..."
	limit := maxLen - len(ellipsis)
	if limit < 0 {
		limit = 0
	}

	truncated := string(runes[:limit])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > len(truncated)/2 {
		truncated = strings.TrimRight(truncated[:lastSpace], " ")
	}
	return truncated + ellipsis
}

// FallbackTitle derives a title from the first line of the user's message.
func FallbackTitle(content string, maxLen int) string {
	if line, _, found := strings.Cut(strings.TrimSpace(content), "\n"); found {
		content = line
	}
	title := SanitizeTitle(content)
	if title == "" {
		return DefaultTitle
	}
	return TruncateTitle(title, maxLen)
}
