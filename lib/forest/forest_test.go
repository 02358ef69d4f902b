package forest

import (
	"bytes"
	"context"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/disaster-response/lib/features"
)

// separable makes rows where feature 0 present means positive, feature 1 present means negative,
// features 2..5 are noise
func separable() (*features.Matrix, []int) {
	x := &features.Matrix{Cols: 6}
	var y []int
	for i := 0; i < 40; i++ {
		noise := 2 + i%4
		if i%2 == 0 {
			x.Rows = append(x.Rows, features.Row{Idx: []int{0, noise}, Val: []float64{0.8, 0.6}})
			y = append(y, 1)
			continue
		}
		x.Rows = append(x.Rows, features.Row{Idx: []int{1, noise}, Val: []float64{0.7, 0.7}})
		y = append(y, 0)
	}
	return x, y
}

func TestTree_Fit(t *testing.T) {
	x, y := separable()

	t.Run("all features", func(t *testing.T) {
		tree := &Tree{}
		require.NoError(t, tree.Fit(x, y, nil))
		assert.Equal(t, 1, tree.Depth())
		for i, r := range x.Rows {
			assert.InDelta(t, float64(y[i]), tree.PredictProba(r), 1e-12)
		}
		p := tree.PredictProba(features.Row{})
		assert.True(t, p == 0 || p == 1, "empty row lands in a pure leaf, got %v", p)
	})

	t.Run("max depth", func(t *testing.T) {
		tree := &Tree{MaxDepth: 1, MaxFeatures: 1, Seed: 42}
		require.NoError(t, tree.Fit(x, y, nil))
		assert.LessOrEqual(t, tree.Depth(), 1)
	})

	t.Run("pure labels make a single leaf", func(t *testing.T) {
		tree := &Tree{}
		require.NoError(t, tree.Fit(x, make([]int, x.Len()), nil))
		require.Len(t, tree.Nodes, 1)
		assert.Equal(t, -1, tree.Nodes[0].Feature)
		assert.Equal(t, 0.0, tree.Nodes[0].Prob)
	})

	t.Run("zero rows are a leaf", func(t *testing.T) {
		zero := &features.Matrix{Cols: 3, Rows: make([]features.Row, 4)}
		tree := &Tree{}
		require.NoError(t, tree.Fit(zero, []int{1, 0, 1, 0}, nil))
		require.Len(t, tree.Nodes, 1)
		assert.Equal(t, 0.5, tree.Nodes[0].Prob)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Error(t, (&Tree{}).Fit(&features.Matrix{}, nil, nil))
		assert.Error(t, (&Tree{}).Fit(x, y[:3], nil))
		bad := append([]int{}, y...)
		bad[0] = 2
		assert.Error(t, (&Tree{}).Fit(x, bad, nil))
		assert.Error(t, (&Tree{}).Fit(x, y, []int{}))
	})
}

func TestRandomForest(t *testing.T) {
	x, y := separable()

	rf := NewRandomForest(WithNEstimators(15), WithMaxDepth(5), WithSeed(1))
	require.NoError(t, rf.Fit(context.Background(), x, y))
	require.Len(t, rf.Trees, 15)
	assert.Equal(t, y, rf.Predict(x))
	for _, p := range rf.PredictProba(x) {
		assert.True(t, p >= 0 && p <= 1)
	}

	t.Run("deterministic regardless of workers", func(t *testing.T) {
		rf2 := NewRandomForest(WithNEstimators(15), WithMaxDepth(5), WithSeed(1), WithWorkers(4))
		require.NoError(t, rf2.Fit(context.Background(), x, y))
		assert.Equal(t, rf.Trees, rf2.Trees)
	})

	t.Run("different seed, different trees", func(t *testing.T) {
		rf3 := NewRandomForest(WithNEstimators(15), WithMaxDepth(5), WithSeed(2))
		require.NoError(t, rf3.Fit(context.Background(), x, y))
		assert.NotEqual(t, rf.Trees, rf3.Trees)
	})

	t.Run("no bootstrap", func(t *testing.T) {
		rf4 := NewRandomForest(WithNEstimators(3), WithBootstrap(false), WithMaxFeatures(6))
		require.NoError(t, rf4.Fit(context.Background(), x, y))
		assert.Equal(t, y, rf4.Predict(x))
	})

	t.Run("unfitted predicts zeros", func(t *testing.T) {
		assert.Equal(t, make([]int, x.Len()), NewRandomForest().Predict(x))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewRandomForest(WithNEstimators(3)).Fit(ctx, x, y)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Error(t, NewRandomForest().Fit(context.Background(), &features.Matrix{}, nil))
		assert.Error(t, NewRandomForest().Fit(context.Background(), x, y[:1]))
		assert.Error(t, NewRandomForest(WithNEstimators(0)).Fit(context.Background(), x, y))
	})
}

func TestMultiOutput(t *testing.T) {
	x, y := separable()
	labels := make([][]int, len(y))
	for i, v := range y {
		labels[i] = []int{v, 1 - v, 0}
	}

	m := NewMultiOutput(WithNEstimators(10), WithSeed(7), WithWorkers(2))
	require.NoError(t, m.Fit(context.Background(), x, labels))
	assert.Equal(t, 3, m.Outputs())

	pred, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, labels, pred)

	t.Run("gob round trip", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(m))
		restored := &MultiOutput{}
		require.NoError(t, gob.NewDecoder(&buf).Decode(restored))
		rpred, err := restored.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, pred, rpred)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := NewMultiOutput().Predict(x)
		assert.Error(t, err)
		assert.Error(t, NewMultiOutput().Fit(context.Background(), x, labels[:2]))
		ragged := append([][]int{{1}}, labels[1:]...)
		assert.Error(t, NewMultiOutput().Fit(context.Background(), x, ragged))
		empty := make([][]int, len(labels))
		for i := range empty {
			empty[i] = []int{}
		}
		assert.Error(t, NewMultiOutput().Fit(context.Background(), x, empty))
	})
}
