package sentiment

import (
	"regexp"
	"strings"
)

// generalVocabulary marks an article as broad-market crypto news when no
// specific pair matched.
var generalVocabulary = []string{"crypto", "cryptocurrency", "blockchain", "market"}

// PairMatcher maps articles to the trading pairs they talk about. Each pair
// carries a keyword list (base-currency name plus aliases); a keyword must
// appear as a whole word in the article text to match.
type PairMatcher struct {
	pairs    []string
	patterns map[string][]*regexp.Regexp
	general  []*regexp.Regexp

	// fanoutAll, when enabled, sends articles that only mention crypto in
	// general to every configured pair. Off by default: it amplifies noise.
	fanoutAll bool
}

// NewPairMatcher builds a matcher for the configured pairs. keywords may
// override the vocabulary per pair; pairs without an entry match on their
// lowercased base symbol.
func NewPairMatcher(pairs []string, keywords map[string][]string, fanoutAll bool) *PairMatcher {
	m := &PairMatcher{
		pairs:     append([]string{}, pairs...),
		patterns:  make(map[string][]*regexp.Regexp, len(pairs)),
		general:   compileVocabulary(generalVocabulary),
		fanoutAll: fanoutAll,
	}
	for _, pair := range pairs {
		kws := keywords[pair]
		if len(kws) == 0 {
			base, _, _ := strings.Cut(pair, "/")
			kws = []string{strings.ToLower(base)}
		}
		m.patterns[pair] = compileVocabulary(kws)
	}
	return m
}

// Match returns the pairs an article is relevant to. With fan-out enabled,
// general crypto news that matched no specific pair returns every pair.
func (m *PairMatcher) Match(title, content string) []string {
	text := title + " " + content

	var matched []string
	for _, pair := range m.pairs {
		for _, p := range m.patterns[pair] {
			if p.MatchString(text) {
				matched = append(matched, pair)
				break
			}
		}
	}
	if len(matched) > 0 || !m.fanoutAll {
		return matched
	}
	for _, p := range m.general {
		if p.MatchString(text) {
			return append([]string{}, m.pairs...)
		}
	}
	return nil
}
