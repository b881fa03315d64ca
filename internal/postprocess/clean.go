// Package postprocess normalizes recognized or extracted document text.
package postprocess

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Options controls text clean-up.
type Options struct {
	NormalizeForm      string            `json:"normalize_form" yaml:"normalize_form"`           // "NFC" (default), "NFKC", "NFD", "NFKD", "none"
	CollapseWhitespace bool              `json:"collapse_whitespace" yaml:"collapse_whitespace"` // collapse spaces inside lines and runs of blank lines
	Trim               bool              `json:"trim" yaml:"trim"`
	RemoveControlChars bool              `json:"remove_control_chars" yaml:"remove_control_chars"`
	RemoveZeroWidth    bool              `json:"remove_zero_width" yaml:"remove_zero_width"`
	JoinHyphenated     bool              `json:"join_hyphenated" yaml:"join_hyphenated"` // "docu-\nment" -> "document\n"
	Case               string            `json:"case,omitempty" yaml:"case,omitempty"`   // "", "lower", "upper", "title"
	Language           string            `json:"language,omitempty" yaml:"language,omitempty"`
	ReplaceMap         map[string]string `json:"replace_map,omitempty" yaml:"replace_map,omitempty"`
}

// DefaultOptions returns the Postprocess stage defaults.
func DefaultOptions() Options {
	return Options{
		NormalizeForm:      "NFC",
		CollapseWhitespace: true,
		Trim:               true,
		RemoveControlChars: true,
		RemoveZeroWidth:    true,
	}
}

// Clean applies the configured steps in a fixed order.
func Clean(s string, opts Options) string {
	if s == "" {
		return s
	}
	s = normalize(s, opts.NormalizeForm)
	if opts.RemoveZeroWidth {
		s = removeZeroWidth(s)
	}
	if opts.RemoveControlChars {
		s = removeControlChars(s)
	}
	s = applyReplacements(s, opts)
	if opts.JoinHyphenated {
		s = hyphenBreak.ReplaceAllString(s, "$1$2\n")
	}
	if opts.CollapseWhitespace {
		s = collapseWhitespace(s)
	}
	s = applyCase(s, opts)
	if opts.Trim {
		s = strings.TrimSpace(s)
	}
	return s
}

func normalize(s, form string) string {
	switch strings.ToUpper(form) {
	case "NFC", "":
		return norm.NFC.String(s)
	case "NFKC":
		return norm.NFKC.String(s)
	case "NFD":
		return norm.NFD.String(s)
	case "NFKD":
		return norm.NFKD.String(s)
	}
	return s
}

func applyReplacements(s string, opts Options) string {
	m := opts.ReplaceMap
	if len(m) == 0 && opts.Language != "" {
		m = ReplaceMapForLanguage(opts.Language)
	}
	if len(m) == 0 {
		return s
	}
	// Longer keys first so overlapping keys do not clobber each other.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		s = strings.ReplaceAll(s, k, m[k])
	}
	return s
}

func applyCase(s string, opts Options) string {
	tag := language.Und
	if opts.Language != "" {
		if t, err := language.Parse(opts.Language); err == nil {
			tag = t
		}
	}
	switch strings.ToLower(opts.Case) {
	case "lower":
		return cases.Lower(tag).String(s)
	case "upper":
		return cases.Upper(tag).String(s)
	case "title":
		return cases.Title(tag).String(s)
	}
	return s
}

// ReplaceMapForLanguage returns typographic replacements for a language.
func ReplaceMapForLanguage(lang string) map[string]string {
	m := map[string]string{
		"‘": "'",
		"’": "'",
		"“": "\"",
		"”": "\"",
		"–": "-",
		"—": "-",
		" ": " ",
		" ": " ",
		"ﬁ": "fi",
		"ﬂ": "fl",
	}
	switch strings.ToLower(lang) {
	case "de", "deu":
		m["„"] = "\""
	case "fr", "fra":
		m["«"] = "\""
		m["»"] = "\""
	}
	return m
}

var (
	hyphenBreak = regexp.MustCompile(`(\p{L})-[ \t]*\n[ \t]*(\p{L}+)`)
	spaceRun    = regexp.MustCompile(`[^\S\n]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	lineEdges   = regexp.MustCompile(`[ ]*\n[ ]*`)
)

// collapseWhitespace keeps line structure: spaces collapse to one, trailing
// and leading line spaces go, and at most one empty line separates blocks.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = lineEdges.ReplaceAllString(s, "\n")
	return blankLines.ReplaceAllString(s, "\n\n")
}

func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func removeZeroWidth(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '​', '‌', '‍', '\uFEFF':
			return -1
		}
		return r
	}, s)
}

// LooksLikeText reports whether s is mostly letters and digits with few
// control characters.
func LooksLikeText(s string) bool {
	var letters, controls, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			letters++
		case unicode.IsControl(r):
			controls++
		}
	}
	if total == 0 {
		return false
	}
	return float64(controls)/float64(total) < 0.05 && float64(letters)/float64(total) > 0.3
}
