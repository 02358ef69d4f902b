package forest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/umputun/disaster-response/lib/features"
)

// MultiOutput trains one independent RandomForest per label column.
// Forests share nothing except the hyperparameters copied from Template.
type MultiOutput struct {
	Template RandomForest
	Forests  []*RandomForest
}

// NewMultiOutput makes a multi-output classifier, options applied to every per-column forest
func NewMultiOutput(opts ...Option) *MultiOutput {
	return &MultiOutput{Template: *NewRandomForest(opts...)}
}

// Fit trains a forest for each column of labels. Labels are row-major, all rows must have the same width.
func (m *MultiOutput) Fit(ctx context.Context, x *features.Matrix, labels [][]int) error {
	if x == nil || x.Len() == 0 {
		return errors.New("multioutput: empty X")
	}
	if len(labels) != x.Len() {
		return fmt.Errorf("multioutput: %d rows, %d label rows", x.Len(), len(labels))
	}
	cols := len(labels[0])
	if cols == 0 {
		return errors.New("multioutput: no label columns")
	}
	for i, row := range labels {
		if len(row) != cols {
			return fmt.Errorf("multioutput: label row %d has %d columns, expected %d", i, len(row), cols)
		}
	}

	forests := make([]*RandomForest, cols)
	y := make([]int, len(labels))
	for j := range cols {
		for i, row := range labels {
			y[i] = row[j]
		}
		rf := m.Template
		rf.Trees = nil
		rf.Seed = m.Template.Seed + int64(j)*7919
		if err := rf.Fit(ctx, x, y); err != nil {
			return fmt.Errorf("multioutput: column %d: %w", j, err)
		}
		forests[j] = &rf
	}
	m.Forests = forests
	log.Printf("[DEBUG] fitted %d forests of %d trees, max depth %d", cols, m.Template.NEstimators, m.Template.MaxDepth)
	return nil
}

// Predict returns a row-major 0/1 matrix with a column per fitted forest
func (m *MultiOutput) Predict(x *features.Matrix) ([][]int, error) {
	if len(m.Forests) == 0 {
		return nil, errors.New("multioutput: not fitted")
	}
	res := make([][]int, x.Len())
	for i := range res {
		res[i] = make([]int, len(m.Forests))
	}
	for j, rf := range m.Forests {
		for i, v := range rf.Predict(x) {
			res[i][j] = v
		}
	}
	return res, nil
}

// Outputs returns number of fitted label columns
func (m *MultiOutput) Outputs() int { return len(m.Forests) }
