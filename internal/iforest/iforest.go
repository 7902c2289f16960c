// Package iforest implements a seeded isolation forest: a bagged ensemble of
// random-partitioning trees where observations isolated in fewer splits score
// as more anomalous.
package iforest

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultSubsample matches the conventional 256-observation tree subsample.
const DefaultSubsample = 256

type node struct {
	left, right *node
	splitDim    int
	splitVal    float64
	size        int
}

// Forest is a fitted ensemble.
type Forest struct {
	trees     []*node
	subsample int
}

// Fit builds an ensemble of trees over data. Each tree is grown on a random
// subsample (without replacement) capped at subsample observations. The seed
// fully determines the forest.
func Fit(data [][]float64, trees, subsample int, seed int64) *Forest {
	rng := rand.New(rand.NewSource(seed))
	n := len(data)
	if subsample <= 0 || subsample > n {
		subsample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	f := &Forest{trees: make([]*node, 0, trees), subsample: subsample}
	for t := 0; t < trees; t++ {
		perm := rng.Perm(n)
		sample := make([][]float64, subsample)
		for i := 0; i < subsample; i++ {
			sample[i] = data[perm[i]]
		}
		f.trees = append(f.trees, grow(sample, 0, maxDepth, rng))
	}
	return f
}

func grow(sample [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if len(sample) <= 1 || depth >= maxDepth {
		return &node{size: len(sample)}
	}

	dim := rng.Intn(len(sample[0]))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range sample {
		if x[dim] < lo {
			lo = x[dim]
		}
		if x[dim] > hi {
			hi = x[dim]
		}
	}
	if lo == hi {
		return &node{size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, x := range sample {
		if x[dim] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}
	return &node{
		splitDim: dim,
		splitVal: split,
		size:     len(sample),
		left:     grow(left, depth+1, maxDepth, rng),
		right:    grow(right, depth+1, maxDepth, rng),
	}
}

// pathLength descends to the leaf holding x and adds the average-path
// adjustment for unresolved leaves.
func pathLength(n *node, x []float64, depth float64) float64 {
	if n.left == nil {
		return depth + avgPath(n.size)
	}
	if x[n.splitDim] < n.splitVal {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// avgPath is c(n), the average unsuccessful-search path length of a BST with
// n nodes.
func avgPath(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// Score returns a decision score for x with lower values meaning more
// anomalous, centered so typical inliers land near zero.
func (f *Forest) Score(x []float64) float64 {
	sum := 0.0
	for _, t := range f.trees {
		sum += pathLength(t, x, 0)
	}
	mean := sum / float64(len(f.trees))
	denom := avgPath(f.subsample)
	if denom == 0 {
		denom = 1
	}
	anomaly := math.Pow(2, -mean/denom)
	return 0.5 - anomaly
}

// Scores evaluates Score for every row.
func (f *Forest) Scores(data [][]float64) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = f.Score(x)
	}
	return out
}

// OutlierThreshold returns the contamination quantile of the score
// distribution, linearly interpolated between order statistics. Observations
// scoring strictly below it are labeled outliers. Interpolation keeps the
// cut above the minimum even for small batches, so a lone extreme score is
// still flagged.
func OutlierThreshold(scores []float64, contamination float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := contamination * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
