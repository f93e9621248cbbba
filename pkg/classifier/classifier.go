// Package classifier implements the bagging ensemble used to separate the
// region of interest from the other labelled class.
package classifier

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"gonum.org/v1/gonum/mat"

	"oneshotseg/pkg/sampling"
)

var (
	// ErrNotFitted is returned when predicting with an untrained model
	ErrNotFitted = errors.New("classifier has not been fitted")

	// ErrSingleClass is returned when a table lacks one of the two classes
	ErrSingleClass = errors.New("training table must contain both classes")
)

// Fixed ensemble settings
const (
	DefaultTrees    = 50
	DefaultMaxDepth = 50

	// Criterion and MaxFeatures document the split rule; they are not tunable
	Criterion   = "gini"
	MaxFeatures = "sqrt"
)

// Config holds the classifier parameters
type Config struct {
	// Trees is the number of bootstrapped trees in the ensemble
	Trees int `yaml:"trees"`

	// MaxDepth limits the depth of every tree
	MaxDepth int `yaml:"maxDepth"`

	// Seed feeds the random source used for resampling and bagging.
	// 0 picks a time-based seed.
	Seed int64 `yaml:"seed"`

	// NumWorkers is how many trees are grown concurrently
	NumWorkers int `yaml:"-"`
}

// DefaultConfig returns the fixed ensemble configuration
func DefaultConfig() Config {
	return Config{
		Trees:      DefaultTrees,
		MaxDepth:   DefaultMaxDepth,
		NumWorkers: runtime.NumCPU(),
	}
}

// Classifier wraps a forest together with the data preparation it needs for
// training and inference
type Classifier struct {
	cfg    Config
	rng    *rand.Rand
	forest *Forest
}

// New creates an untrained classifier
func New(cfg Config) *Classifier {
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultTrees
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Classifier{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Config returns the classifier configuration
func (c *Classifier) Config() Config {
	return c.cfg
}

// Fitted reports whether the classifier holds a trained forest
func (c *Classifier) Fitted() bool {
	return c.forest != nil
}

// OOBScore returns the out-of-bag accuracy of the last fit (NaN if unknown)
func (c *Classifier) OOBScore() (float64, error) {
	if c.forest == nil {
		return 0, ErrNotFitted
	}
	return c.forest.OOBScore, nil
}

// Balance draws floor(n/2) rows with replacement from each class of tbl, so
// the result holds 2*floor(n/2) rows split evenly between the classes. Rows
// of the other class (label 0) come first.
func Balance(tbl *sampling.Table, rng *rand.Rand) (*sampling.Table, error) {
	var roi, other []int
	for i, l := range tbl.Labels {
		if l == 1 {
			roi = append(roi, i)
		} else {
			other = append(other, i)
		}
	}
	if len(roi) == 0 || len(other) == 0 {
		return nil, fmt.Errorf("%w: %d roi rows, %d other rows", ErrSingleClass, len(roi), len(other))
	}

	target := tbl.Rows() / 2
	_, cols := tbl.Features.Dims()
	out := &sampling.Table{
		Labels:   make([]float64, 2*target),
		Features: mat.NewDense(2*target, cols, nil),
	}

	row := 0
	for _, class := range []struct {
		label float64
		pool  []int
	}{{0, other}, {1, roi}} {
		for k := 0; k < target; k++ {
			src := class.pool[rng.Intn(len(class.pool))]
			out.Features.SetRow(row, tbl.Features.RawRowView(src))
			out.Labels[row] = class.label
			row++
		}
	}

	return out, nil
}

// Fit trains a fresh ensemble on a class-balanced resample of tbl
func (c *Classifier) Fit(tbl *sampling.Table) error {
	balanced, err := Balance(tbl, c.rng)
	if err != nil {
		return err
	}

	c.forest = fitForest(balanced.Features, balanced.Labels, forestParams{
		trees:      c.cfg.Trees,
		maxDepth:   c.cfg.MaxDepth,
		bootstrap:  true,
		oobScore:   true,
		numWorkers: c.cfg.NumWorkers,
	}, c.rng)

	return nil
}

// PredictProba returns the region-of-interest probability for every row of X
func (c *Classifier) PredictProba(X *mat.Dense) ([]float64, error) {
	if c.forest == nil {
		return nil, ErrNotFitted
	}
	if _, cols := X.Dims(); cols != c.forest.NumFeatures {
		return nil, fmt.Errorf("feature table has %d columns, model expects %d", cols, c.forest.NumFeatures)
	}
	return c.forest.Predict(X), nil
}
