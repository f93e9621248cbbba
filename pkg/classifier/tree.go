package classifier

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a binary decision tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value is the fraction of positive training samples that reached the node
	Value float64
}

// Tree is a binary classification tree stored as a flat node array; the root
// is Nodes[0].
type Tree struct {
	Nodes []Node
}

// Predict returns the positive-class probability of sample x
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

// treeBuilder grows a single tree on a (possibly repeated) sample index set
type treeBuilder struct {
	columns     [][]float64 // columns[f][row]
	labels      []float64
	maxDepth    int
	maxFeatures int
	rng         *rand.Rand

	nodes []Node
}

// gini returns the Gini impurity of a node with pos positives out of n
func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}

func (b *treeBuilder) build(indices []int) *Tree {
	b.nodes = nil
	b.grow(indices, 0)
	return &Tree{Nodes: b.nodes}
}

// grow appends the subtree for indices and returns the index of its root
func (b *treeBuilder) grow(indices []int, depth int) int {
	pos := 0.0
	for _, i := range indices {
		pos += b.labels[i]
	}
	n := float64(len(indices))

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: pos / n})

	if depth >= b.maxDepth || len(indices) < 2 || pos == 0 || pos == n {
		return id
	}

	feature, threshold, ok := b.bestSplit(indices, pos)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range indices {
		if b.columns[feature][i] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit searches a random subset of features for the split with the
// lowest weighted Gini impurity. Features that are constant on this node do
// not count towards the subset size, so the search keeps drawing features
// until maxFeatures usable ones were examined or none are left.
func (b *treeBuilder) bestSplit(indices []int, pos float64) (int, float64, bool) {
	n := float64(len(indices))
	order := b.rng.Perm(len(b.columns))
	sorted := make([]int, len(indices))

	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.Inf(1)
	examined := 0

	for _, f := range order {
		if examined >= b.maxFeatures {
			break
		}
		col := b.columns[f]

		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool { return col[sorted[i]] < col[sorted[j]] })
		if col[sorted[0]] == col[sorted[len(sorted)-1]] {
			continue
		}
		examined++

		leftPos := 0.0
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += b.labels[sorted[k]]
			lo, hi := col[sorted[k]], col[sorted[k+1]]
			if lo == hi {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			score := (nl*gini(leftPos, nl) + nr*gini(pos-leftPos, nr)) / n
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold == hi {
					bestThreshold = lo
				}
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}
