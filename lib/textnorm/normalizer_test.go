package textnorm

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	res, err := DefaultResources()
	require.NoError(t, err)
	n := NewNormalizer(res)

	tests := []struct {
		name string
		inp  string
		want string
	}{
		{name: "river rising", inp: "The RIVER is RISING!!! 123", want: "river rising"},
		{name: "plurals", inp: "We need tents and blankets for the children", want: "need tent blanket child"},
		{name: "es plurals", inp: "boxes of glasses, supplies", want: "box glass supply"},
		{name: "irregular", inp: "Women and men need help", want: "woman man need help"},
		{name: "unknown plural kept", inp: "zorbles", want: "zorbles"},
		{name: "dictionary plurals", inp: "dogs car trucks roofs cows lakes donations bottles",
			want: "dog car truck roof cow lake donation bottle"},
		{name: "ves plurals", inp: "wolves and elves", want: "wolf elf"},
		{name: "combining mark splits word", inp: "cafe\u0301 ouvert", want: "cafe ouvert"},
		{name: "contraction", inp: "we don't have water", want: "water"},
		{name: "digits inside", inp: "route66 closed", want: "closed"},
		{name: "unicode letters", inp: "Ayuda AGUA ñandú", want: "ayuda agua ñandú"},
		{name: "emoji", inp: "food🙏now", want: "food"},
		{name: "only stop words", inp: "the and of it is", want: ""},
		{name: "only punctuation and digits", inp: "!!! ... 123 4.5", want: ""},
		{name: "empty", inp: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.inp))
		})
	}
}

func TestNormalizer_Properties(t *testing.T) {
	res, err := DefaultResources()
	require.NoError(t, err)
	n := NewNormalizer(res)

	messages := []string{
		"Water needed urgently in Port-au-Prince!!",
		"Send food & medicine to 25 families, please :)",
		"Thanks for the help",
		"Need medical assistance, 3 people injured #earthquake",
		"I'm at the shelter... we've got no electricity",
		"",
		"!!!",
	}

	for _, msg := range messages {
		first := n.Normalize(msg)
		assert.Equal(t, first, n.Normalize(msg), "normalize is deterministic for %q", msg)
		assert.Equal(t, first, NewNormalizer(res).Normalize(msg), "separate normalizers agree for %q", msg)
		if first == "" {
			continue
		}
		assert.NotContains(t, first, "  ")
		for _, token := range strings.Split(first, " ") {
			assert.False(t, n.IsStopWord(token), "stop word %q in %q", token, first)
			for _, r := range token {
				assert.True(t, unicode.IsLetter(r), "non-letter %q in %q", r, token)
			}
		}
	}
}

func TestNormalizer_Tokens(t *testing.T) {
	n := NewNormalizer(&Resources{Stopwords: []string{"the", "a", "on"}})
	assert.Equal(t, []string{"cat", "sat", "mat"}, n.Tokens("The cat sat on a mat"))
	assert.Equal(t, []string{}, n.Tokens("the a"))
	assert.Equal(t, []string{"cats"}, n.Tokens("cats"), "nothing in the lexicon, no lemmatization")
}

func TestNormalizer_Gob(t *testing.T) {
	res, err := DefaultResources()
	require.NoError(t, err)
	n := NewNormalizer(res)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(n))

	restored := &Normalizer{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))
	msg := "The children need tents, water and boxes of food!"
	assert.Equal(t, n.Normalize(msg), restored.Normalize(msg))
	assert.Equal(t, "child need tent water box food", restored.Normalize(msg))
	assert.Equal(t, "dog cow", restored.Normalize("dogs cows"), "dictionary restored")
}

func TestWordPunct(t *testing.T) {
	assert.Equal(t, []string{"the", "river", "is", "rising", "!!!", "123"}, WordPunct("the river is rising!!! 123"))
	assert.Equal(t, []string{"don", "'", "t", "go"}, WordPunct("don't go"))
	assert.Equal(t, []string{"port", "-", "au", "-", "prince"}, WordPunct("port-au-prince"))
	assert.Empty(t, WordPunct("   "))
	assert.Equal(t, []string{"cafe", "\u0301"}, WordPunct("cafe\u0301"), "combining mark is not a word character")
}

func TestLoadResources(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		res, err := DefaultResources()
		require.NoError(t, err)
		assert.Contains(t, res.Stopwords, "the")
		assert.Contains(t, res.Stopwords, "don't")
		assert.Contains(t, res.Lexicon, "river")
		assert.Equal(t, "child", res.Exceptions["children"])
		assert.Equal(t, DictEnglish, res.Dictionary)
		assert.NotNil(t, res.dict)
	})

	t.Run("unknown dictionary", func(t *testing.T) {
		res := &Resources{Dictionary: "xx"}
		assert.ErrorContains(t, res.openDictionary(), "unknown dictionary")
	})

	t.Run("custom files", func(t *testing.T) {
		dir := t.TempDir()
		stopFile := filepath.Join(dir, "stop.txt")
		lemmaFile := filepath.Join(dir, "lemmas.txt")
		require.NoError(t, os.WriteFile(stopFile, []byte("# comment\nFoo\n\nbar\n"), 0o600))
		require.NoError(t, os.WriteFile(lemmaFile, []byte("cat\ngeese goose\n"), 0o600))

		res, err := LoadResources(stopFile, lemmaFile)
		require.NoError(t, err)
		assert.Equal(t, []string{"foo", "bar"}, res.Stopwords)
		assert.Equal(t, []string{"cat"}, res.Lexicon)
		assert.Equal(t, map[string]string{"geese": "goose"}, res.Exceptions)

		n := NewNormalizer(res)
		assert.Equal(t, "cat goose the", n.Normalize("foo cats geese bar the"))
	})

	t.Run("bad lemma line", func(t *testing.T) {
		lemmaFile := filepath.Join(t.TempDir(), "lemmas.txt")
		require.NoError(t, os.WriteFile(lemmaFile, []byte("a b c\n"), 0o600))
		_, err := LoadResources("", lemmaFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected line")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadResources("/non-existent/stop.txt", "")
		require.Error(t, err)
	})
}
