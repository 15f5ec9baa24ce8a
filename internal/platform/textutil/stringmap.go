package textutil

import "strings"

// NormalizeStringMap trims keys and values for gateway metadata. Empty keys and keys longer
// than maxKey runes are dropped; values are cut to maxValue runes. Non-positive limits are
// not enforced.
func NormalizeStringMap(values map[string]string, maxKey, maxValue int) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" || (maxKey > 0 && len([]rune(key)) > maxKey) {
			continue
		}
		value = strings.TrimSpace(value)
		if runes := []rune(value); maxValue > 0 && len(runes) > maxValue {
			value = string(runes[:maxValue])
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
