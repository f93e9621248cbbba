package classifier

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Forest is a bagged ensemble of classification trees
type Forest struct {
	Trees       []Tree
	NumFeatures int
	// OOBScore is the out-of-bag accuracy measured during fit, or NaN when
	// no sample was ever left out of a bootstrap draw
	OOBScore float64
}

// forestParams controls how a forest is grown
type forestParams struct {
	trees      int
	maxDepth   int
	bootstrap  bool
	oobScore   bool
	numWorkers int
}

// fitForest grows params.trees trees on X/y. Each tree gets its own seed
// drawn from rng before any work starts, so the result does not depend on
// the number of workers.
func fitForest(X *mat.Dense, y []float64, params forestParams, rng *rand.Rand) *Forest {
	rows, cols := X.Dims()

	columns := make([][]float64, cols)
	for f := 0; f < cols; f++ {
		columns[f] = mat.Col(nil, f, X)
	}

	seeds := make([]int64, params.trees)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	maxFeatures := int(math.Sqrt(float64(cols)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	type treeResult struct {
		index int
		tree  *Tree
		inBag []bool
	}

	workers := params.numWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > params.trees {
		workers = params.trees
	}

	jobs := make(chan int)
	results := make(chan treeResult)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				treeRng := rand.New(rand.NewSource(seeds[t]))

				indices := make([]int, rows)
				inBag := make([]bool, rows)
				for i := range indices {
					if params.bootstrap {
						indices[i] = treeRng.Intn(rows)
					} else {
						indices[i] = i
					}
					inBag[indices[i]] = true
				}

				builder := &treeBuilder{
					columns:     columns,
					labels:      y,
					maxDepth:    params.maxDepth,
					maxFeatures: maxFeatures,
					rng:         treeRng,
				}
				results <- treeResult{index: t, tree: builder.build(indices), inBag: inBag}
			}
		}()
	}

	go func() {
		for t := 0; t < params.trees; t++ {
			jobs <- t
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	forest := &Forest{
		Trees:       make([]Tree, params.trees),
		NumFeatures: cols,
		OOBScore:    math.NaN(),
	}
	inBags := make([][]bool, params.trees)
	for res := range results {
		forest.Trees[res.index] = *res.tree
		inBags[res.index] = res.inBag
	}

	if params.oobScore && params.bootstrap {
		forest.OOBScore = oobAccuracy(forest, columns, y, inBags)
	}

	return forest
}

// oobAccuracy scores every sample with the trees that did not see it
func oobAccuracy(forest *Forest, columns [][]float64, y []float64, inBags [][]bool) float64 {
	rows := len(y)
	x := make([]float64, len(columns))
	var correct []float64

	for i := 0; i < rows; i++ {
		for f := range columns {
			x[f] = columns[f][i]
		}

		sum, votes := 0.0, 0
		for t := range forest.Trees {
			if inBags[t][i] {
				continue
			}
			sum += forest.Trees[t].Predict(x)
			votes++
		}
		if votes == 0 {
			continue
		}

		predicted := 0.0
		if sum/float64(votes) > 0.5 {
			predicted = 1
		}
		if predicted == y[i] {
			correct = append(correct, 1)
		} else {
			correct = append(correct, 0)
		}
	}

	if len(correct) == 0 {
		return math.NaN()
	}
	return stat.Mean(correct, nil)
}

// Predict returns the mean positive-class probability over all trees for
// each row of X
func (f *Forest) Predict(X *mat.Dense) []float64 {
	rows, _ := X.Dims()
	out := make([]float64, rows)
	if len(f.Trees) == 0 {
		return out
	}

	for i := 0; i < rows; i++ {
		x := X.RawRowView(i)
		sum := 0.0
		for t := range f.Trees {
			sum += f.Trees[t].Predict(x)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out
}
