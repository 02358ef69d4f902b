package features

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"sort"
)

// ErrEmptyVocabulary returned by CountVectorizer.Fit if documents have no tokens at all
var ErrEmptyVocabulary = errors.New("empty vocabulary, documents contain stop words only")

// CountVectorizer learns a vocabulary of tokens and converts documents to token counts.
// Vocabulary terms are sorted, term i is column i.
type CountVectorizer struct {
	Terms []string
	index map[string]int
}

// Fit learns the vocabulary from tokenized documents
func (v *CountVectorizer) Fit(docs [][]string) error {
	seen := map[string]struct{}{}
	for _, doc := range docs {
		for _, token := range doc {
			seen[token] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return ErrEmptyVocabulary
	}
	v.Terms = make([]string, 0, len(seen))
	for token := range seen {
		v.Terms = append(v.Terms, token)
	}
	sort.Strings(v.Terms)
	v.buildIndex()
	log.Printf("[DEBUG] vocabulary learned, %d terms from %d documents", len(v.Terms), len(docs))
	return nil
}

// Transform converts tokenized documents to a count matrix. Unknown tokens are ignored,
// a document without known tokens becomes an empty (zero) row.
func (v *CountVectorizer) Transform(docs [][]string) (*Matrix, error) {
	if len(v.Terms) == 0 {
		return nil, errors.New("vectorizer is not fitted")
	}
	if v.index == nil {
		v.buildIndex()
	}
	res := NewMatrix(len(docs), len(v.Terms))
	for i, doc := range docs {
		counts := map[int]int{}
		for _, token := range doc {
			if j, ok := v.index[token]; ok {
				counts[j]++
			}
		}
		row := Row{Idx: make([]int, 0, len(counts)), Val: make([]float64, 0, len(counts))}
		for j := range counts {
			row.Idx = append(row.Idx, j)
		}
		sort.Ints(row.Idx)
		for _, j := range row.Idx {
			row.Val = append(row.Val, float64(counts[j]))
		}
		res.Rows[i] = row
	}
	return res, nil
}

// Features returns number of vocabulary terms
func (v *CountVectorizer) Features() int { return len(v.Terms) }

func (v *CountVectorizer) buildIndex() {
	index := make(map[string]int, len(v.Terms))
	for i, t := range v.Terms {
		index[t] = i
	}
	v.index = index
}

// GobEncode stores vocabulary terms only, the lookup index is rebuilt on decode
func (v *CountVectorizer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.Terms); err != nil {
		return nil, fmt.Errorf("can't encode vocabulary: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode restores vocabulary and its lookup index
func (v *CountVectorizer) GobDecode(data []byte) error {
	var terms []string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&terms); err != nil {
		return fmt.Errorf("can't decode vocabulary: %w", err)
	}
	v.Terms = terms
	v.buildIndex()
	return nil
}
