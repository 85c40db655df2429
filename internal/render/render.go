// Package render substitutes {{field}} placeholders in message templates.
package render

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Render replaces every {{name}} token with fields[name]. Missing fields
// render empty; text that does not match the placeholder grammar is kept.
func Render(tmpl string, fields map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(tok string) string {
		m := placeholder.FindStringSubmatch(tok)
		if len(m) < 2 {
			return tok
		}
		return fields[m[1]]
	})
}
