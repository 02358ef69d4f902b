// Package forest implements binary classification with randomized decision tree ensembles
// over sparse feature rows: CART trees with gini impurity, random forests of bootstrapped
// trees, and a multi-output wrapper training one independent forest per label column.
package forest

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/umputun/disaster-response/lib/features"
)

const minGain = 1e-12

// Node is a tree node stored in a flat slice. Leaves have Feature == -1.
type Node struct {
	Feature   int     // split feature, -1 for leaf
	Threshold float64 // value <= threshold goes left
	Left      int     // index of the left child
	Right     int     // index of the right child
	Prob      float64 // fraction of positive samples reached the node
	N         int     // number of (bootstrapped) samples reached the node
}

// Tree is a CART binary classifier
type Tree struct {
	MaxDepth        int    // 0 - unlimited
	MinSamplesSplit int    // minimal number of samples to split a node
	MinSamplesLeaf  int    // minimal number of samples in each leaf
	MaxFeatures     int    // number of features to try per split, 0 - all
	Seed            uint64 // seed for feature sampling
	Nodes           []Node
}

// Fit builds the tree on rows of X selected by sample, with binary labels y (aligned with X).
// Sample indices may repeat (bootstrap), nil sample means all rows once.
func (t *Tree) Fit(x *features.Matrix, y []int, sample []int) error {
	if x == nil || x.Len() == 0 {
		return errors.New("tree: empty input")
	}
	if len(y) != x.Len() {
		return fmt.Errorf("tree: %d rows, %d labels", x.Len(), len(y))
	}
	if sample == nil {
		sample = make([]int, x.Len())
		for i := range sample {
			sample[i] = i
		}
	}
	if len(sample) == 0 {
		return errors.New("tree: empty sample")
	}
	for _, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("tree: label %d is not binary", v)
		}
	}

	b := &builder{tree: t, x: x, y: y, rnd: rand.New(rand.NewPCG(t.Seed, t.Seed^0x9e3779b97f4a7c15))}
	t.Nodes = t.Nodes[:0]
	b.build(sample, 0)
	return nil
}

// PredictProba returns probability of the positive class for a row
func (t *Tree) PredictProba(r features.Row) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if r.At(n.Feature) <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Prob
}

// Depth returns the depth of the tree, root only is 0
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var depth func(i int) int
	depth = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(depth(n.Left), depth(n.Right))
	}
	return depth(0)
}

type builder struct {
	tree *Tree
	x    *features.Matrix
	y    []int
	rnd  *rand.Rand
}

// value of a feature with the number of samples and positives having it
type valueGroup struct {
	v        float64
	n, pos   int
	isZeroes bool
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

func (b *builder) build(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	id := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Prob: float64(pos) / float64(len(idx)), N: len(idx)})

	if pos == 0 || pos == len(idx) || len(idx) < max(2, b.tree.MinSamplesSplit) {
		return id
	}
	if b.tree.MaxDepth > 0 && depth >= b.tree.MaxDepth {
		return id
	}

	best, ok := b.bestSplit(idx, pos)
	if !ok {
		return id
	}

	left, right := make([]int, 0, len(idx)), make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x.Rows[i].At(best.feature) <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[id].Feature = best.feature
	b.tree.Nodes[id].Threshold = best.threshold
	b.tree.Nodes[id].Left = l
	b.tree.Nodes[id].Right = r
	return id
}

// bestSplit draws features in random order and evaluates up to MaxFeatures of them.
// Features constant within the node are drawn but never split on; drawing continues past
// MaxFeatures until at least one non-constant feature is evaluated.
func (b *builder) bestSplit(idx []int, pos int) (split, bool) {
	type entry struct {
		v     float64
		label int
	}
	nonZero := map[int][]entry{}
	for _, i := range idx {
		r := b.x.Rows[i]
		for k, j := range r.Idx {
			if r.Val[k] != 0 {
				nonZero[j] = append(nonZero[j], entry{v: r.Val[k], label: b.y[i]})
			}
		}
	}

	isConstant := func(ee []entry) bool {
		if len(ee) < len(idx) {
			return false // has zeroes and non-zeroes
		}
		for _, e := range ee[1:] {
			if e.v != ee[0].v {
				return false
			}
		}
		return true
	}
	candidates := 0
	for _, ee := range nonZero {
		if !isConstant(ee) {
			candidates++
		}
	}
	if candidates == 0 {
		return split{}, false
	}

	maxFeatures := b.tree.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > b.x.Cols {
		maxFeatures = b.x.Cols
	}

	parent := gini(len(idx), pos)
	best, found := split{impurity: parent}, false
	evaluated := 0
	draw := newSampler(b.x.Cols, b.rnd)
	for visited := 0; visited < b.x.Cols && evaluated < candidates; visited++ {
		if visited >= maxFeatures && evaluated > 0 {
			break
		}
		f := draw()
		ee, ok := nonZero[f]
		if !ok || isConstant(ee) {
			continue
		}
		evaluated++

		sort.Slice(ee, func(a, c int) bool { return ee[a].v < ee[c].v })
		groups := make([]valueGroup, 0, len(ee)+1)
		zeroes := valueGroup{n: len(idx) - len(ee), pos: pos, isZeroes: true}
		for _, e := range ee {
			zeroes.pos -= e.label
		}
		zeroAdded := zeroes.n == 0
		for _, e := range ee {
			if !zeroAdded && e.v > 0 {
				groups = append(groups, zeroes)
				zeroAdded = true
			}
			if len(groups) > 0 && !groups[len(groups)-1].isZeroes && groups[len(groups)-1].v == e.v {
				groups[len(groups)-1].n++
				groups[len(groups)-1].pos += e.label
				continue
			}
			groups = append(groups, valueGroup{v: e.v, n: 1, pos: e.label})
		}
		if !zeroAdded {
			groups = append(groups, zeroes)
		}

		leftN, leftPos := 0, 0
		for g := 0; g < len(groups)-1; g++ {
			leftN += groups[g].n
			leftPos += groups[g].pos
			rightN, rightPos := len(idx)-leftN, pos-leftPos
			if leftN < max(1, b.tree.MinSamplesLeaf) || rightN < max(1, b.tree.MinSamplesLeaf) {
				continue
			}
			imp := (float64(leftN)*gini(leftN, leftPos) + float64(rightN)*gini(rightN, rightPos)) / float64(len(idx))
			if parent-imp > minGain && imp < best.impurity {
				best = split{feature: f, threshold: (groups[g].v + groups[g+1].v) / 2, impurity: imp}
				found = true
			}
		}
	}
	return best, found
}

// newSampler returns a function drawing distinct feature indices from [0,n) in random order,
// a lazy Fisher-Yates shuffle touching only drawn positions.
func newSampler(n int, rnd *rand.Rand) func() int {
	swapped := map[int]int{}
	get := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	next := 0
	return func() int {
		j := next + rnd.IntN(n-next)
		vi, vj := get(next), get(j)
		swapped[next], swapped[j] = vj, vi
		next++
		return vj
	}
}

func gini(n, pos int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
