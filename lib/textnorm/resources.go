package textnorm

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
)

// DictEnglish is the name of the built-in english dictionary of inflected forms
const DictEnglish = "en"

//go:embed data/*.txt
var defaultData embed.FS

// englishDict is loaded on first use and shared, it is large and read-only
var englishDict = sync.OnceValues(func() (*golem.Lemmatizer, error) {
	return golem.New(en.New())
})

// Resources is a set of lexical resources used by Normalizer.
// It is built once at startup and shared by all normalizers, never modified after that.
type Resources struct {
	Stopwords  []string          // stop words, lower-cased
	Lexicon    []string          // known base forms, used to validate lemma candidates
	Exceptions map[string]string // irregular inflected form -> base form
	Dictionary string            // built-in dictionary of inflected forms, empty for none

	dict Dictionary
}

// DefaultResources returns embedded english stop words, the built-in noun lexicon and the english dictionary.
func DefaultResources() (*Resources, error) {
	return LoadResources("", "")
}

// LoadResources loads stop words and lemma data. Empty file names mean embedded defaults.
// Stop words file has one word per line. Lemmas file has one base form per line,
// or "inflected base" pairs for irregular forms. Lines starting with # are ignored.
// Lemma data extends the english dictionary, it does not replace it.
func LoadResources(stopWordsFile, lemmasFile string) (*Resources, error) {
	stopRd, err := openResource(stopWordsFile, "data/stopwords.txt")
	if err != nil {
		return nil, fmt.Errorf("can't open stop words: %w", err)
	}
	defer stopRd.Close()

	res := &Resources{Exceptions: map[string]string{}, Dictionary: DictEnglish}
	for line := range lines(stopRd) {
		res.Stopwords = append(res.Stopwords, strings.ToLower(line))
	}

	if lemmasFile != "" {
		rd, err := openResource(lemmasFile, "")
		if err != nil {
			return nil, fmt.Errorf("can't open lemmas: %w", err)
		}
		defer rd.Close()
		if err := res.addLemmas(rd); err != nil {
			return nil, fmt.Errorf("can't parse lemmas %s: %w", lemmasFile, err)
		}
	} else {
		for _, name := range []string{"data/lexicon.txt", "data/exceptions.txt"} {
			data, err := defaultData.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("can't read embedded %s: %w", name, err)
			}
			if err := res.addLemmas(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("can't parse embedded %s: %w", name, err)
			}
		}
	}

	sort.Strings(res.Lexicon)
	if err := res.openDictionary(); err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] lexical resources: %d stop words, %d base forms, %d exceptions, dictionary %q",
		len(res.Stopwords), len(res.Lexicon), len(res.Exceptions), res.Dictionary)
	return res, nil
}

// openDictionary loads the dictionary named by r.Dictionary
func (r *Resources) openDictionary() error {
	switch r.Dictionary {
	case "":
		r.dict = nil
		return nil
	case DictEnglish:
		d, err := englishDict()
		if err != nil {
			return fmt.Errorf("can't load english dictionary: %w", err)
		}
		r.dict = d
		return nil
	default:
		return fmt.Errorf("unknown dictionary %q", r.Dictionary)
	}
}

func (r *Resources) addLemmas(rd io.Reader) error {
	for line := range lines(rd) {
		fields := strings.Fields(strings.ToLower(line))
		switch len(fields) {
		case 1:
			r.Lexicon = append(r.Lexicon, fields[0])
		case 2:
			r.Exceptions[fields[0]] = fields[1]
		default:
			return fmt.Errorf("unexpected line %q", line)
		}
	}
	return nil
}

func openResource(file, embedded string) (io.ReadCloser, error) {
	if file != "" {
		fh, err := os.Open(file) //nolint:gosec // file name from cli options
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file, err)
		}
		return fh, nil
	}
	fh, err := defaultData.Open(embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded %s: %w", embedded, err)
	}
	return fh, nil
}

// lines iterates over non-empty, non-comment lines of the reader
func lines(rd io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(rd)
		for scanner.Scan() {
			line := strings.Trim(scanner.Text(), " \n\r\t")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !yield(line) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("[WARN] failed to read lines, error=%v", err)
		}
	}
}
