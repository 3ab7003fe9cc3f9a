package services

import (
	"regexp"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// RenderPrompt substitutes {{name}} placeholders from vars. Placeholders
// without an entry in vars stay in the output, so a template typo shows up
// verbatim in the generated prompt instead of vanishing silently.
func RenderPrompt(template string, vars map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
