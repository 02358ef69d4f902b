// Package corpus keeps labeled messages in memory: raw texts, a row-major matrix of binary
// category flags and the ordered category names, plus the splits used for training.
package corpus

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Corpus is a set of messages with category labels.
// Labels[i][j] is the flag of Categories[j] for Texts[i].
type Corpus struct {
	Texts      []string
	Labels     [][]int
	Categories []string
}

// Len returns number of messages
func (c *Corpus) Len() int { return len(c.Texts) }

// Validate checks texts, labels and categories are aligned and all flags are binary
func (c *Corpus) Validate() error {
	if len(c.Categories) == 0 {
		return errors.New("no categories")
	}
	if len(c.Labels) != len(c.Texts) {
		return fmt.Errorf("%d texts, %d label rows", len(c.Texts), len(c.Labels))
	}
	for i, row := range c.Labels {
		if len(row) != len(c.Categories) {
			return fmt.Errorf("label row %d has %d columns, %d categories", i, len(row), len(c.Categories))
		}
		for j, v := range row {
			if v != 0 && v != 1 {
				return fmt.Errorf("label %q of row %d is %d, expected 0 or 1", c.Categories[j], i, v)
			}
		}
	}
	return nil
}

// Subset returns a corpus with rows selected by idx, categories are shared
func (c *Corpus) Subset(idx []int) *Corpus {
	res := &Corpus{Texts: make([]string, len(idx)), Labels: make([][]int, len(idx)), Categories: c.Categories}
	for k, i := range idx {
		res.Texts[k] = c.Texts[i]
		res.Labels[k] = c.Labels[i]
	}
	return res
}

// Column returns flags of a single category
func (c *Corpus) Column(j int) []int {
	res := make([]int, len(c.Labels))
	for i, row := range c.Labels {
		res[i] = row[j]
	}
	return res
}

// Split shuffles rows with the seed and splits them into train and test parts.
// Test part gets ceil(testSize*n) rows, both parts must be non-empty.
func (c *Corpus) Split(testSize float64, seed int64) (train, test *Corpus, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v is not in (0,1)", testSize)
	}
	n := c.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("can't split %d messages with test size %v", n, testSize)
	}
	perm := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1)).Perm(n) //nolint:gosec // reproducible shuffle
	return c.Subset(perm[nTest:]), c.Subset(perm[:nTest]), nil
}

// KFold splits n rows into k contiguous folds without shuffling and returns test indices
// of each fold. The first n%k folds get one extra row.
func KFold(n, k int) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("number of folds %d, at least 2 required", k)
	}
	if n < k {
		return nil, fmt.Errorf("can't split %d samples into %d folds", n, k)
	}
	res := make([][]int, k)
	start := 0
	for f := range k {
		size := n / k
		if f < n%k {
			size++
		}
		fold := make([]int, size)
		for i := range fold {
			fold[i] = start + i
		}
		res[f] = fold
		start += size
	}
	return res, nil
}

// Complement returns indices of [0,n) not in fold, fold is sorted
func Complement(n int, fold []int) []int {
	res := make([]int, 0, n-len(fold))
	k := 0
	for i := range n {
		if k < len(fold) && fold[k] == i {
			k++
			continue
		}
		res = append(res, i)
	}
	return res
}
