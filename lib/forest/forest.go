package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/umputun/disaster-response/lib/features"
)

// RandomForest is an ensemble of trees fitted on bootstrap samples with random feature subsets.
// The prediction is the mean of tree probabilities, positive if above 0.5.
type RandomForest struct {
	NEstimators     int   // number of trees
	MaxDepth        int   // max tree depth, 0 - unlimited
	MaxFeatures     int   // features tried per split, 0 - sqrt of features count
	MinSamplesSplit int   // minimal samples to split a node
	MinSamplesLeaf  int   // minimal samples in a leaf
	Bootstrap       bool  // sample rows with replacement for each tree
	Seed            int64 // base seed, each tree derives its own
	Workers         int   // trees fitted in parallel

	Trees []*Tree
}

// Option is a functional option for RandomForest
type Option func(rf *RandomForest)

// WithNEstimators sets number of trees
func WithNEstimators(n int) Option { return func(rf *RandomForest) { rf.NEstimators = n } }

// WithMaxDepth sets max depth of each tree, 0 - unlimited
func WithMaxDepth(d int) Option { return func(rf *RandomForest) { rf.MaxDepth = d } }

// WithMaxFeatures sets number of features tried per split, 0 - sqrt of all features
func WithMaxFeatures(k int) Option { return func(rf *RandomForest) { rf.MaxFeatures = k } }

// WithBootstrap enables or disables bootstrap sampling
func WithBootstrap(b bool) Option { return func(rf *RandomForest) { rf.Bootstrap = b } }

// WithSeed sets the base random seed
func WithSeed(seed int64) Option { return func(rf *RandomForest) { rf.Seed = seed } }

// WithWorkers sets number of trees fitted concurrently
func WithWorkers(n int) Option { return func(rf *RandomForest) { rf.Workers = n } }

// NewRandomForest makes a forest with defaults: 100 trees, unlimited depth, sqrt features, bootstrap.
func NewRandomForest(opts ...Option) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Workers:         1,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit trains all trees. Result doesn't depend on the number of workers.
func (rf *RandomForest) Fit(ctx context.Context, x *features.Matrix, y []int) error {
	if x == nil || x.Len() == 0 {
		return errors.New("randomforest: empty X")
	}
	if len(y) != x.Len() {
		return fmt.Errorf("randomforest: %d rows, %d labels", x.Len(), len(y))
	}
	if rf.NEstimators <= 0 {
		return fmt.Errorf("randomforest: invalid number of trees %d", rf.NEstimators)
	}

	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(x.Cols))))
	}

	trees := make([]*Tree, rf.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, rf.Workers))
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// each tree has its own random source, so trees don't depend on scheduling
			rnd := rand.New(rand.NewPCG(uint64(rf.Seed), uint64(i)))
			n := x.Len()
			sample := make([]int, n)
			for j := range sample {
				if rf.Bootstrap {
					sample[j] = rnd.IntN(n)
					continue
				}
				sample[j] = j
			}
			tree := &Tree{
				MaxDepth:        rf.MaxDepth,
				MinSamplesSplit: rf.MinSamplesSplit,
				MinSamplesLeaf:  rf.MinSamplesLeaf,
				MaxFeatures:     maxFeatures,
				Seed:            rnd.Uint64(),
			}
			if err := tree.Fit(x, y, sample); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("randomforest: %w", err)
	}
	rf.Trees = trees
	return nil
}

// PredictProba returns mean probability of the positive class for each row
func (rf *RandomForest) PredictProba(x *features.Matrix) []float64 {
	res := make([]float64, x.Len())
	if len(rf.Trees) == 0 {
		return res
	}
	for i, r := range x.Rows {
		s := 0.0
		for _, t := range rf.Trees {
			s += t.PredictProba(r)
		}
		res[i] = s / float64(len(rf.Trees))
	}
	return res
}

// Predict returns 0/1 for each row, ties go to 0
func (rf *RandomForest) Predict(x *features.Matrix) []int {
	proba := rf.PredictProba(x)
	res := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			res[i] = 1
		}
	}
	return res
}
