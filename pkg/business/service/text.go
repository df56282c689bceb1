package service

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type ITextService interface {
	RemoveTags(input string) string
	RemoveLinks(input string) string
	ReduceToLength(input string, length int) string
	ClearAndReduce(input string, length int) string
	NormalizeBrand(input string) string
	Handle(input string) string
}

var (
	tagsRe     = regexp.MustCompile(`<[^>]*>`)
	linksRe    = regexp.MustCompile(`https?://[^\s]+`)
	spacesRe   = regexp.MustCompile(`\s+`)
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9]+`)
	upperWords = map[string]struct{}{"USA": {}, "UK": {}, "EU": {}, "LV": {}, "CK": {}, "DKNY": {}}
)

type TextService struct {
	title cases.Caser
}

func NewTextService() *TextService {
	return &TextService{title: cases.Title(language.Und, cases.NoLower)}
}

func (ts *TextService) RemoveTags(input string) string {
	return tagsRe.ReplaceAllString(html.UnescapeString(input), "")
}

func (ts *TextService) RemoveLinks(input string) string {
	return linksRe.ReplaceAllString(input, "")
}

// ReduceToLength cuts on a word boundary so the result is at most length runes.
func (ts *TextService) ReduceToLength(input string, length int) string {
	if length <= 0 || len([]rune(input)) <= length {
		return input
	}
	var builder strings.Builder
	total := 0
	for i, word := range strings.Fields(input) {
		n := len([]rune(word))
		if i > 0 {
			n++
		}
		if total+n > length {
			break
		}
		if i > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(word)
		total += n
	}
	return builder.String()
}

func (ts *TextService) ClearAndReduce(input string, length int) string {
	cleaned := ts.RemoveTags(input)
	cleaned = ts.RemoveLinks(cleaned)
	cleaned = strings.TrimSpace(spacesRe.ReplaceAllString(cleaned, " "))
	return ts.ReduceToLength(cleaned, length)
}

// NormalizeBrand brings feed spellings ("ROLEX ", "rolex", "Rolex") to one form.
// Known abbreviations stay upper case.
func (ts *TextService) NormalizeBrand(input string) string {
	s := strings.TrimSpace(spacesRe.ReplaceAllString(norm.NFC.String(input), " "))
	if s == "" {
		return ""
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		if _, ok := upperWords[strings.ToUpper(w)]; ok {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = ts.title.String(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}

// Handle builds a URL slug: diacritics stripped, lower case, dashes between words.
func (ts *TextService) Handle(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, input)
	if err != nil {
		s = input
	}
	s = nonSlugRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
