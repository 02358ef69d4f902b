// Package search selects pipeline hyperparameters. RandomizedSearch samples parameter sets
// from a grid, scores each with k-fold cross-validation and refits the best one on all the
// data; Fixed fits given parameters as is.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umputun/disaster-response/lib/corpus"
	"github.com/umputun/disaster-response/lib/metrics"
	"github.com/umputun/disaster-response/lib/pipeline"
)

// Strategy picks parameters and returns a pipeline fitted on all given documents
type Strategy interface {
	Select(ctx context.Context, docs []string, labels [][]int) (Result, error)
}

// Factory makes an unfitted pipeline for the given parameters
type Factory func(p pipeline.Params) *pipeline.Pipeline

// Result of a selection
type Result struct {
	Pipeline   *pipeline.Pipeline
	Params     pipeline.Params
	BestScore  float64     // mean cross-validated score of Params, 0 if not searched
	Candidates []Candidate // in sampling order
}

// Candidate is an evaluated parameter set
type Candidate struct {
	Params pipeline.Params
	Scores []float64 // per fold
	Mean   float64
}

// RandomizedSearch samples NIter distinct parameter sets from Grid and scores them with
// Folds-fold cross-validation. Score is subset accuracy, the best mean wins, ties go to
// the earlier sampled candidate.
type RandomizedSearch struct {
	Grid    Grid
	NIter   int
	Folds   int
	Seed    int64
	Workers int // folds fitted concurrently
	Factory Factory
}

// Select runs the search and refits the best parameters on all documents
func (s *RandomizedSearch) Select(ctx context.Context, docs []string, labels [][]int) (Result, error) {
	if err := s.Grid.Validate(); err != nil {
		return Result{}, err
	}
	if s.NIter <= 0 {
		return Result{}, fmt.Errorf("invalid number of iterations %d", s.NIter)
	}
	if s.Factory == nil {
		return Result{}, errors.New("no pipeline factory")
	}
	if len(docs) != len(labels) {
		return Result{}, fmt.Errorf("%d documents, %d label rows", len(docs), len(labels))
	}
	folds, err := corpus.KFold(len(docs), s.Folds)
	if err != nil {
		return Result{}, err
	}

	candidates := s.sample()
	log.Printf("[INFO] fitting %d folds for each of %d candidates, totalling %d fits",
		len(folds), len(candidates), len(folds)*len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.Workers))
	for c := range candidates {
		candidates[c].Scores = make([]float64, len(folds))
		for f, test := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				st := time.Now()
				score, err := s.score(gctx, candidates[c].Params, docs, labels, test)
				if err != nil {
					return fmt.Errorf("candidate %s, fold %d: %w", candidates[c].Params, f, err)
				}
				candidates[c].Scores[f] = score
				log.Printf("[DEBUG] cv %d/%d %s, score=%.4f, %v", f+1, len(folds), candidates[c].Params, score, time.Since(st))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}

	best := 0
	for c := range candidates {
		sum := 0.0
		for _, v := range candidates[c].Scores {
			sum += v
		}
		candidates[c].Mean = sum / float64(len(candidates[c].Scores))
		if candidates[c].Mean > candidates[best].Mean {
			best = c
		}
	}
	log.Printf("[INFO] best parameters %s, mean cv score %.4f", candidates[best].Params, candidates[best].Mean)

	p := s.Factory(candidates[best].Params)
	if err := p.Fit(ctx, docs, labels); err != nil {
		return Result{}, fmt.Errorf("refit failed: %w", err)
	}
	return Result{Pipeline: p, Params: candidates[best].Params, BestScore: candidates[best].Mean, Candidates: candidates}, nil
}

// sample draws distinct parameter sets from the grid, all of them if NIter exceeds grid size
func (s *RandomizedSearch) sample() []Candidate {
	all := s.Grid.Combinations()
	rnd := rand.New(rand.NewPCG(uint64(s.Seed), 0x5eed)) //nolint:gosec // reproducible sampling
	perm := rnd.Perm(len(all))
	n := min(s.NIter, len(all))
	res := make([]Candidate, n)
	for i := range n {
		res[i] = Candidate{Params: all[perm[i]]}
	}
	return res
}

func (s *RandomizedSearch) score(ctx context.Context, params pipeline.Params, docs []string, labels [][]int, test []int) (float64, error) {
	train := corpus.Complement(len(docs), test)
	pick := func(idx []int) ([]string, [][]int) {
		d, l := make([]string, len(idx)), make([][]int, len(idx))
		for k, i := range idx {
			d[k], l[k] = docs[i], labels[i]
		}
		return d, l
	}

	trainDocs, trainLabels := pick(train)
	p := s.Factory(params)
	if err := p.Fit(ctx, trainDocs, trainLabels); err != nil {
		return 0, err
	}
	testDocs, testLabels := pick(test)
	pred, err := p.Predict(testDocs)
	if err != nil {
		return 0, err
	}
	return metrics.SubsetAccuracy(testLabels, pred)
}

// Fixed fits the pipeline with given parameters, no search
type Fixed struct {
	Params  pipeline.Params
	Factory Factory
}

// Select fits the pipeline on all documents
func (s *Fixed) Select(ctx context.Context, docs []string, labels [][]int) (Result, error) {
	if s.Factory == nil {
		return Result{}, errors.New("no pipeline factory")
	}
	p := s.Factory(s.Params)
	if err := p.Fit(ctx, docs, labels); err != nil {
		return Result{}, fmt.Errorf("fit failed: %w", err)
	}
	return Result{Pipeline: p, Params: s.Params}, nil
}
