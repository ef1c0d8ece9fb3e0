package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	labelKeyPattern   = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)
	labelValuePattern = regexp.MustCompile(`^[a-z0-9_-]{0,63}$`)
)

// ParseLabels turns key=value pairs into a BigQuery job label set.
// Input examples:
//   - "team=reporting" → {"team": "reporting"}
//   - " Env = Prod " → {"env": "prod"}
//   - "adhoc" → {"adhoc": ""}
func ParseLabels(pairs []string) (map[string]string, error) {
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(value))

		if key == "" {
			return nil, fmt.Errorf("label key cannot be empty in %q", pair)
		}
		if !labelKeyPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid label key %q: must start with a letter and contain only letters, digits, '_' or '-'", key)
		}
		if !labelValuePattern.MatchString(value) {
			return nil, fmt.Errorf("invalid label value %q for key %q", value, key)
		}
		if _, dup := labels[key]; dup {
			return nil, fmt.Errorf("label %q given more than once", key)
		}
		labels[key] = value
	}
	return labels, nil
}
