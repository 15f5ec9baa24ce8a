package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup from user supplied text and returns trimmed plain text.
// Script and style bodies are dropped along with their tags.
func SanitizeText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := plainTextPolicy.Sanitize(value)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
