package textnorm

import (
	"slices"
	"strings"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// detachment rules for nouns, suffix -> replacement
var nounRules = []struct{ suffix, repl string }{
	{"s", ""},
	{"ses", "s"},
	{"ves", "f"},
	{"xes", "x"},
	{"zes", "z"},
	{"ches", "ch"},
	{"shes", "sh"},
	{"men", "man"},
	{"ies", "y"},
}

const lemmaCacheSize = 50000

// Dictionary maps inflected forms to their base forms. golem.Lemmatizer implements it.
type Dictionary interface {
	InDict(word string) bool
	Lemmas(word string) []string
}

// Lemmatizer reduces nouns to their base form with a lexical lookup.
// Candidates are the word itself, its irregular form or the results of suffix detachment rules,
// and only candidates known to the lexicon or the dictionary are accepted. The shortest accepted
// candidate wins, the word is returned as is if nothing is accepted. Thread-safe.
type Lemmatizer struct {
	lexicon    map[string]struct{}
	exceptions map[string]string
	dict       Dictionary
	memo       cache.Cache[string, string]
}

// NewLemmatizer makes a Lemmatizer from base forms and irregular forms.
// Base forms of irregular forms are added to the lexicon.
func NewLemmatizer(lexicon []string, exceptions map[string]string) *Lemmatizer {
	res := &Lemmatizer{
		lexicon:    make(map[string]struct{}, len(lexicon)+len(exceptions)),
		exceptions: make(map[string]string, len(exceptions)),
		memo:       cache.NewCache[string, string]().WithMaxKeys(lemmaCacheSize).WithLRU(),
	}
	for _, w := range lexicon {
		res.lexicon[strings.ToLower(w)] = struct{}{}
	}
	for k, v := range exceptions {
		res.exceptions[strings.ToLower(k)] = strings.ToLower(v)
		res.lexicon[strings.ToLower(v)] = struct{}{}
	}
	return res
}

// WithDictionary adds a dictionary of base forms to the lexicon. Should be called before the first Lemmatize.
func (l *Lemmatizer) WithDictionary(d Dictionary) *Lemmatizer {
	l.dict = d
	return l
}

// Lemmatize returns the base form of a lower-cased word
func (l *Lemmatizer) Lemmatize(word string) string {
	if res, ok := l.memo.Get(word); ok {
		return res
	}
	res := l.lookup(word)
	l.memo.Set(word, res, 0)
	return res
}

func (l *Lemmatizer) lookup(word string) string {
	candidates := []string{word}
	if base, ok := l.exceptions[word]; ok {
		candidates = append(candidates, base)
	} else {
		for _, r := range nounRules {
			if strings.HasSuffix(word, r.suffix) {
				candidates = append(candidates, strings.TrimSuffix(word, r.suffix)+r.repl)
			}
		}
	}

	best := ""
	for _, c := range candidates {
		if !l.known(word, c) {
			continue
		}
		if best == "" || len(c) < len(best) {
			best = c
		}
	}
	if best == "" {
		return word
	}
	return best
}

// known checks if the candidate is a base form of the word.
// The dictionary has no part of speech, so for a word it knows only the word's own lemmas are accepted,
// e.g. "news" is not reduced to the adjective "new".
func (l *Lemmatizer) known(word, candidate string) bool {
	if _, ok := l.lexicon[candidate]; ok {
		return true
	}
	if l.dict == nil {
		return false
	}
	if l.dict.InDict(word) {
		return slices.Contains(l.dict.Lemmas(word), candidate)
	}
	return l.dict.InDict(candidate) && slices.Contains(l.dict.Lemmas(candidate), candidate)
}
