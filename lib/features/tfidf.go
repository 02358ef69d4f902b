package features

import (
	"errors"
	"fmt"
	"math"
)

// TfidfTransformer rescales term counts by smoothed inverse document frequency,
// idf(t) = ln((1+n)/(1+df(t))) + 1, and l2-normalizes each row.
type TfidfTransformer struct {
	IDF []float64
}

// Fit computes idf weights from a count matrix
func (t *TfidfTransformer) Fit(m *Matrix) error {
	if m == nil || m.Len() == 0 {
		return errors.New("can't fit tf-idf on empty matrix")
	}
	df := make([]int, m.Cols)
	for _, r := range m.Rows {
		for k, j := range r.Idx {
			if r.Val[k] != 0 {
				df[j]++
			}
		}
	}
	n := float64(m.Len())
	t.IDF = make([]float64, m.Cols)
	for j, d := range df {
		t.IDF[j] = math.Log((1+n)/(1+float64(d))) + 1
	}
	return nil
}

// Transform returns a new reweighted and normalized matrix, input is not modified.
// Zero rows stay zero.
func (t *TfidfTransformer) Transform(m *Matrix) (*Matrix, error) {
	if len(t.IDF) == 0 {
		return nil, errors.New("tf-idf is not fitted")
	}
	if m.Cols != len(t.IDF) {
		return nil, fmt.Errorf("matrix has %d columns, tf-idf fitted for %d", m.Cols, len(t.IDF))
	}
	res := NewMatrix(m.Len(), m.Cols)
	for i, r := range m.Rows {
		row := Row{Idx: make([]int, len(r.Idx)), Val: make([]float64, len(r.Val))}
		copy(row.Idx, r.Idx)
		for k, j := range r.Idx {
			row.Val[k] = r.Val[k] * t.IDF[j]
		}
		if norm := row.Norm(); norm > 0 {
			for k := range row.Val {
				row.Val[k] /= norm
			}
		}
		res.Rows[i] = row
	}
	return res, nil
}
