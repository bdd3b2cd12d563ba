package importer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var (
	hashtagPattern = regexp.MustCompile(`(?:^|\s)#([\pL\pN_\-\.]{1,64})`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9_\-\.]{1,64})`)
	groupPattern   = regexp.MustCompile(`(?:^|\s)!([A-Za-z0-9\-\.]{1,64})`)
)

// extractor pulls hashtags, mentions and group addresses out of status text.
// It is not safe for concurrent use.
type extractor struct {
	fold cases.Caser
}

func newExtractor() *extractor {
	return &extractor{fold: cases.Fold()}
}

// tags returns normalized hashtags: case-folded with punctuation removed
func (e *extractor) tags(text string) []string {
	return e.collect(hashtagPattern, text, func(raw string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, e.fold.String(raw))
	})
}

func (e *extractor) mentions(text string) []string {
	return e.collect(mentionPattern, text, e.nickname)
}

func (e *extractor) groups(text string) []string {
	return e.collect(groupPattern, text, e.nickname)
}

func (e *extractor) nickname(raw string) string {
	return strings.ToLower(strings.TrimRight(raw, ".-"))
}

func (e *extractor) collect(pattern *regexp.Regexp, text string, normalize func(string) string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, match := range pattern.FindAllStringSubmatch(text, -1) {
		value := normalize(match[1])
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}

	return out
}

// contains reports whether needle occurs in haystack ignoring case
func (e *extractor) contains(haystack, needle string) bool {
	return strings.Contains(e.fold.String(haystack), e.fold.String(needle))
}
