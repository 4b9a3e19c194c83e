package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then else when at from by for with about
		against between into through during before after above below to of in on is are was were
		be been being have has had having do does did doing can could should would ought i you he
		she it we they their this that these those am will as so such`) {
		stopwords[w] = struct{}{}
	}
}

// ExtractKeywords returns the distinct lowercase words of text longer than two
// characters that are not stop words, in order of first appearance
func ExtractKeywords(text string) []string {
	words := strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " "))

	seen := make(map[string]struct{}, len(words))
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	return keywords
}

// Relevance is the fraction of keywords occurring anywhere in the document text
func (d *Document) Relevance(keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, k := range keywords {
		if strings.Contains(d.text, k) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}
