// Package features turns normalized documents into sparse numeric feature rows.
// CountVectorizer learns a vocabulary and counts tokens, TfidfTransformer reweights
// the counts by inverse document frequency and normalizes rows to unit length.
package features

import (
	"fmt"
	"math"
	"sort"
)

// Row is a sparse row, Idx is sorted and has no duplicates, Val aligned with Idx
type Row struct {
	Idx []int
	Val []float64
}

// At returns value of column j, zero if not set
func (r Row) At(j int) float64 {
	k := sort.SearchInts(r.Idx, j)
	if k < len(r.Idx) && r.Idx[k] == j {
		return r.Val[k]
	}
	return 0
}

// Len returns number of non-zero entries
func (r Row) Len() int { return len(r.Idx) }

// Norm returns euclidean norm of the row
func (r Row) Norm() float64 {
	s := 0.0
	for _, v := range r.Val {
		s += v * v
	}
	return math.Sqrt(s)
}

// Matrix is a sparse row-major matrix with a fixed number of columns
type Matrix struct {
	Rows []Row
	Cols int
}

// NewMatrix makes an empty matrix with n rows and cols columns
func NewMatrix(n, cols int) *Matrix {
	return &Matrix{Rows: make([]Row, n), Cols: cols}
}

// Len returns number of rows
func (m *Matrix) Len() int { return len(m.Rows) }

// Subset returns a matrix of the given rows, rows are shared, not copied
func (m *Matrix) Subset(idx []int) *Matrix {
	res := &Matrix{Rows: make([]Row, len(idx)), Cols: m.Cols}
	for i, ii := range idx {
		res.Rows[i] = m.Rows[ii]
	}
	return res
}

// Dense returns a dense copy, for tests and debugging of small matrices
func (m *Matrix) Dense() [][]float64 {
	res := make([][]float64, len(m.Rows))
	for i, r := range m.Rows {
		res[i] = make([]float64, m.Cols)
		for k, j := range r.Idx {
			res[i][j] = r.Val[k]
		}
	}
	return res
}

// Validate checks rows are sorted and within the column range
func (m *Matrix) Validate() error {
	for i, r := range m.Rows {
		if len(r.Idx) != len(r.Val) {
			return fmt.Errorf("row %d: %d indices, %d values", i, len(r.Idx), len(r.Val))
		}
		for k, j := range r.Idx {
			if j < 0 || j >= m.Cols {
				return fmt.Errorf("row %d: column %d out of range [0,%d)", i, j, m.Cols)
			}
			if k > 0 && r.Idx[k-1] >= j {
				return fmt.Errorf("row %d: columns not sorted at %d", i, k)
			}
		}
	}
	return nil
}
