// Package pipeline chains text analysis, vectorization, matrix transformations and a
// multi-output estimator into a single model fitted and applied as a unit.
package pipeline

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log"

	"github.com/umputun/disaster-response/lib/features"
	"github.com/umputun/disaster-response/lib/forest"
	"github.com/umputun/disaster-response/lib/textnorm"
)

// Analyzer splits raw text into normalized tokens
type Analyzer interface {
	Tokens(text string) []string
}

// Vectorizer learns a vocabulary from tokenized documents and maps them to a matrix
type Vectorizer interface {
	Fit(docs [][]string) error
	Transform(docs [][]string) (*features.Matrix, error)
}

// Transformer learns from a matrix and maps it to another matrix with the same rows
type Transformer interface {
	Fit(m *features.Matrix) error
	Transform(m *features.Matrix) (*features.Matrix, error)
}

// Estimator predicts a row-major matrix of binary labels
type Estimator interface {
	Fit(ctx context.Context, x *features.Matrix, labels [][]int) error
	Predict(x *features.Matrix) ([][]int, error)
	Outputs() int
}

func init() {
	gob.Register(&textnorm.Normalizer{})
	gob.Register(&features.CountVectorizer{})
	gob.Register(&features.TfidfTransformer{})
	gob.Register(&forest.MultiOutput{})
}

// Params are hyperparameters of the estimator
type Params struct {
	MaxDepth    int `yaml:"max_depth" json:"max_depth"`
	NEstimators int `yaml:"n_estimators" json:"n_estimators"`
}

func (p Params) String() string {
	return fmt.Sprintf("max_depth=%d, n_estimators=%d", p.MaxDepth, p.NEstimators)
}

// Pipeline is analyzer -> vectorizer -> transformers -> estimator.
// Categories are names of the estimator outputs, in order.
type Pipeline struct {
	Categories   []string
	Params       Params
	Analyzer     Analyzer
	Vectorizer   Vectorizer
	Transformers []Transformer
	Estimator    Estimator
}

// New makes the standard pipeline: analyzer tokens counted, reweighted by tf-idf and fed
// to one random forest per category. Extra forest options (seed, workers) are applied after params.
func New(analyzer Analyzer, categories []string, params Params, opts ...forest.Option) *Pipeline {
	forestOpts := append([]forest.Option{forest.WithMaxDepth(params.MaxDepth), forest.WithNEstimators(params.NEstimators)}, opts...)
	return &Pipeline{
		Categories:   categories,
		Params:       params,
		Analyzer:     analyzer,
		Vectorizer:   &features.CountVectorizer{},
		Transformers: []Transformer{&features.TfidfTransformer{}},
		Estimator:    forest.NewMultiOutput(forestOpts...),
	}
}

// Fit learns all stages from docs and their labels
func (p *Pipeline) Fit(ctx context.Context, docs []string, labels [][]int) error {
	if err := p.check(); err != nil {
		return err
	}
	if len(docs) != len(labels) {
		return fmt.Errorf("%d documents, %d label rows", len(docs), len(labels))
	}
	for i, row := range labels {
		if len(row) != len(p.Categories) {
			return fmt.Errorf("label row %d has %d columns, %d categories", i, len(row), len(p.Categories))
		}
	}

	tokens := p.tokenize(docs)
	if err := p.Vectorizer.Fit(tokens); err != nil {
		return fmt.Errorf("failed to fit vectorizer: %w", err)
	}
	x, err := p.Vectorizer.Transform(tokens)
	if err != nil {
		return fmt.Errorf("failed to vectorize: %w", err)
	}
	for i, tr := range p.Transformers {
		if err := tr.Fit(x); err != nil {
			return fmt.Errorf("failed to fit transformer %d: %w", i, err)
		}
		if x, err = tr.Transform(x); err != nil {
			return fmt.Errorf("failed to transform with %d: %w", i, err)
		}
	}
	log.Printf("[DEBUG] fitting estimator on %d documents, %d features, %s", x.Len(), x.Cols, p.Params)
	if err := p.Estimator.Fit(ctx, x, labels); err != nil {
		return fmt.Errorf("failed to fit estimator: %w", err)
	}
	if p.Estimator.Outputs() != len(p.Categories) {
		return fmt.Errorf("estimator has %d outputs, %d categories", p.Estimator.Outputs(), len(p.Categories))
	}
	return nil
}

// Predict returns a row per document with a flag per category
func (p *Pipeline) Predict(docs []string) ([][]int, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	x, err := p.Vectorizer.Transform(p.tokenize(docs))
	if err != nil {
		return nil, fmt.Errorf("failed to vectorize: %w", err)
	}
	for i, tr := range p.Transformers {
		if x, err = tr.Transform(x); err != nil {
			return nil, fmt.Errorf("failed to transform with %d: %w", i, err)
		}
	}
	res, err := p.Estimator.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("failed to predict: %w", err)
	}
	return res, nil
}

func (p *Pipeline) check() error {
	if len(p.Categories) == 0 {
		return errors.New("pipeline has no categories")
	}
	if p.Analyzer == nil || p.Vectorizer == nil || p.Estimator == nil {
		return errors.New("pipeline is incomplete")
	}
	return nil
}

func (p *Pipeline) tokenize(docs []string) [][]string {
	res := make([][]string, len(docs))
	for i, d := range docs {
		res[i] = p.Analyzer.Tokens(d)
	}
	return res
}
