package search

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/umputun/disaster-response/lib/pipeline"
)

// Grid is a discrete hyperparameter space
type Grid struct {
	MaxDepth    []int `yaml:"max_depth"`
	NEstimators []int `yaml:"n_estimators"`
}

// DefaultGrid returns the grid searched when nothing is configured
func DefaultGrid() Grid {
	return Grid{MaxDepth: []int{20, 50, 100, 200}, NEstimators: []int{20, 50, 100, 200}}
}

// LoadGrid reads grid from a yaml file, missing keys are taken from the default grid
func LoadGrid(path string) (Grid, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from cli
	if err != nil {
		return Grid{}, fmt.Errorf("can't read grid file %s: %w", path, err)
	}
	var g Grid
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Grid{}, fmt.Errorf("can't parse grid file %s: %w", path, err)
	}
	def := DefaultGrid()
	if len(g.MaxDepth) == 0 {
		g.MaxDepth = def.MaxDepth
	}
	if len(g.NEstimators) == 0 {
		g.NEstimators = def.NEstimators
	}
	return g, g.Validate()
}

// Validate checks the grid is not empty and values are sane
func (g Grid) Validate() error {
	if len(g.MaxDepth) == 0 || len(g.NEstimators) == 0 {
		return errors.New("empty parameter grid")
	}
	for _, d := range g.MaxDepth {
		if d < 0 {
			return fmt.Errorf("invalid max_depth %d", d)
		}
	}
	for _, n := range g.NEstimators {
		if n <= 0 {
			return fmt.Errorf("invalid n_estimators %d", n)
		}
	}
	return nil
}

// Combinations returns all parameter sets, max_depth varies slowest
func (g Grid) Combinations() []pipeline.Params {
	res := make([]pipeline.Params, 0, len(g.MaxDepth)*len(g.NEstimators))
	for _, d := range g.MaxDepth {
		for _, n := range g.NEstimators {
			res = append(res, pipeline.Params{MaxDepth: d, NEstimators: n})
		}
	}
	return res
}
