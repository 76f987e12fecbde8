package stages

import (
	"strings"
	"text/template"
	"unicode/utf8"
)

// templateFuncMap returns the functions available to prompt templates.
// All of them are pure and safe for concurrent template execution.
//
// Usage in a prompt catalog:
//
//	Claim: {{truncate .ClaimText 200}}
//	Sources: {{join .SourceFiles ", "}}
func templateFuncMap() template.FuncMap {
	return template.FuncMap{
		// truncate limits s to length runes, adding "..." if truncated.
		// Template usage: {{truncate $content 100}}
		"truncate": truncateRunes,

		// join concatenates elements with sep between them.
		// Template usage: {{join .SourceFiles ", "}}
		"join": func(elems []string, sep string) string {
			return strings.Join(elems, sep)
		},

		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,

		// add converts 0-based to 1-based indexes.
		// Template usage: {{add $i 1}}
		"add": func(a, b int) int {
			return a + b
		},
	}
}

// truncateRunes shortens s to at most length runes. When length leaves
// room, the last three runes are replaced by "...".
func truncateRunes(s string, length int) string {
	if length <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= length {
		return s
	}
	runes := []rune(s)
	if length > 3 {
		return string(runes[:length-3]) + "..."
	}
	return string(runes[:length])
}
