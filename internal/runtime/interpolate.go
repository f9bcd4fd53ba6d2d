package runtime

import (
	"regexp"
	"strings"
)

// Interpolator renders a template against the collected variables.
type Interpolator func(text string, vars map[string]string) string

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

func hasPlaceholder(text string) bool {
	return strings.Contains(text, "{{")
}

// DefaultInterpolator replaces {{ name }} with the value of name.
// Unknown names are left verbatim so a second pass, once the variable
// exists, produces the same result as a single late pass.
func DefaultInterpolator(text string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
