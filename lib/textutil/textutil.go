package textutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// CollapseWhitespace trims s and replaces every run of whitespace inside
// it with a single space.
func CollapseWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Capitalize upper-cases the first rune of s and lower-cases the rest.
func Capitalize(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	if first == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

// termVariants returns the distinct spellings a term is searched under.
func termVariants(term string) []string {
	candidates := []string{term, strings.ToLower(term), strings.ToUpper(term), Capitalize(term)}
	if strings.Contains(strings.ToLower(term), "zabka") {
		candidates = append(candidates, "Żabka", "żabka", "ŻABKA")
	}

	var out []string
	seen := map[string]bool{}
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// BuildQuery produces a boolean search query matching any spelling of any
// of the terms: `("a" OR "A") OR ("b" OR "B")`.
func BuildQuery(terms []string) string {
	var groups []string
	for _, term := range terms {
		variants := termVariants(term)
		if len(variants) == 0 {
			continue
		}
		quoted := make([]string, len(variants))
		for i, v := range variants {
			quoted[i] = fmt.Sprintf(`"%s"`, v)
		}
		groups = append(groups, fmt.Sprintf("(%s)", strings.Join(quoted, " OR ")))
	}
	return strings.Join(groups, " OR ")
}
