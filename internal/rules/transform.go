package rules

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TransformFunc is a pure text-to-text function a rule can reference by
// name. Rule data can only select from the registry below.
type TransformFunc func(string) string

var whitespaceRun = regexp.MustCompile(`\s+`)

var transforms = map[string]TransformFunc{
	"capitalize-first":            capitalizeFirst,
	"lowercase":                   strings.ToLower,
	"uppercase":                   strings.ToUpper,
	"trim":                        strings.TrimSpace,
	"collapse-whitespace":         collapseWhitespace,
	"remove-trailing-punctuation": removeTrailingPunctuation,
	"sentence-case":               sentenceCase,
}

// LookupTransform returns the registered transform with the given name.
func LookupTransform(name string) (TransformFunc, bool) {
	fn, ok := transforms[name]
	return fn, ok
}

// TransformNames returns the registered transform names, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func capitalizeFirst(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return text
	}
	return string(unicode.ToUpper(r)) + text[size:]
}

func collapseWhitespace(text string) string {
	return whitespaceRun.ReplaceAllString(text, " ")
}

func removeTrailingPunctuation(text string) string {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	return strings.TrimRight(trimmed, ".,;:!?")
}

// sentenceCase lowercases text and capitalizes the first letter of each
// sentence.
func sentenceCase(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	capNext := true
	for _, r := range strings.ToLower(text) {
		switch {
		case capNext && unicode.IsLetter(r):
			sb.WriteRune(unicode.ToUpper(r))
			capNext = false
		case r == '.' || r == '!' || r == '?':
			sb.WriteRune(r)
			capNext = true
		default:
			if capNext && !unicode.IsSpace(r) {
				capNext = false
			}
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
