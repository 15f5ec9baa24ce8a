package observability

import (
	"strings"
	"unicode"
)

// clean drops control characters and caps length so client-supplied values cannot forge log lines.
func clean(value string, limit int) string {
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if n >= limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute returns the chi route pattern, or "/" when none matched.
func SanitizeRoute(route string) string {
	if route = clean(route, 180); route == "" {
		return "/"
	}
	return route
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(clean(method, 10))
}

func SanitizeUserID(uid string) string {
	return clean(uid, 64)
}
