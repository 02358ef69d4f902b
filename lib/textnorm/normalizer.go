// Package textnorm turns raw message text into a normalized sequence of tokens.
// Normalization lower-cases the text, splits it into word and punctuation tokens,
// drops stop words and everything which is not purely alphabetic, and reduces
// the remaining words to their base form.
//
// Lexical resources (stop words and lemma data) are loaded once with LoadResources
// and injected into NewNormalizer. Normalizer is pure: the same input always gives
// the same output, and it is safe for concurrent use.
package textnorm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// wordPunctRe matches runs of word characters or runs of non-space punctuation.
// Combining marks are not word characters.
var wordPunctRe = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]+`)

// Normalizer maps raw text to normalized tokens
type Normalizer struct {
	res   *Resources
	stops map[string]struct{}
	lemma *Lemmatizer
}

// NewNormalizer makes a Normalizer with the given resources
func NewNormalizer(res *Resources) *Normalizer {
	if res == nil {
		res = &Resources{}
	}
	stops := make(map[string]struct{}, len(res.Stopwords))
	for _, w := range res.Stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	lemma := NewLemmatizer(res.Lexicon, res.Exceptions)
	if res.dict != nil {
		lemma = lemma.WithDictionary(res.dict)
	}
	return &Normalizer{res: res, stops: stops, lemma: lemma}
}

// Normalize returns normalized tokens joined with single spaces.
// Empty string returned if nothing survives.
func (n *Normalizer) Normalize(text string) string {
	return strings.Join(n.Tokens(text), " ")
}

// Tokens returns normalized tokens of the text in their original order
func (n *Normalizer) Tokens(text string) []string {
	// caser is stateful and can't be shared between goroutines
	lower := cases.Lower(language.Und).String(text)
	res := []string{}
	for _, token := range WordPunct(lower) {
		if n.IsStopWord(token) || !isAlpha(token) {
			continue
		}
		res = append(res, n.lemma.Lemmatize(token))
	}
	return res
}

// IsStopWord checks if a lower-cased token is a stop word
func (n *Normalizer) IsStopWord(token string) bool {
	_, ok := n.stops[token]
	return ok
}

// WordPunct splits text into tokens of word characters and tokens of punctuation.
// Emoji are treated as separators.
func WordPunct(text string) []string {
	text = gomoji.ReplaceEmojisWith(text, ' ')
	return wordPunctRe.FindAllString(text, -1)
}

// GobEncode stores lexical resources, the normalizer is rebuilt from them on decode
func (n *Normalizer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n.res); err != nil {
		return nil, fmt.Errorf("can't encode normalizer resources: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode restores normalizer from encoded lexical resources
func (n *Normalizer) GobDecode(data []byte) error {
	res := &Resources{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(res); err != nil {
		return fmt.Errorf("can't decode normalizer resources: %w", err)
	}
	if err := res.openDictionary(); err != nil {
		return err
	}
	*n = *NewNormalizer(res)
	return nil
}

func isAlpha(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
