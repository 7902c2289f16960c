// Package kmeans implements seeded k-means clustering on dense float64
// vectors using Lloyd's algorithm with best-of-n random restarts.
package kmeans

import (
	"math"
	"math/rand"
)

// Result is the outcome of one clustering run.
type Result struct {
	// Centroids holds k cluster centers.
	Centroids [][]float64
	// Labels assigns each observation to a centroid index in [0, k).
	Labels []int
	// Inertia is the sum of squared distances to assigned centroids.
	Inertia float64
}

// Run clusters data into k groups. The seed drives centroid initialization
// for every restart, so identical inputs yield identical results. k must be
// in [1, len(data)] and all rows must share one dimensionality.
func Run(data [][]float64, k, restarts, maxIters int, seed int64) Result {
	rng := rand.New(rand.NewSource(seed))
	best := Result{Inertia: math.Inf(1)}
	if restarts < 1 {
		restarts = 1
	}
	for r := 0; r < restarts; r++ {
		res := runOnce(data, k, maxIters, rng)
		if res.Inertia < best.Inertia {
			best = res
		}
	}
	return best
}

func runOnce(data [][]float64, k, maxIters int, rng *rand.Rand) Result {
	n := len(data)
	dim := len(data[0])

	// Forgy init: k distinct observations become the starting centroids.
	perm := rng.Perm(n)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), data[perm[i]]...)
	}

	labels := make([]int, n)
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, x := range data {
			c, _ := closest(x, centroids)
			if labels[i] != c || iter == 0 {
				labels[i] = c
				changed = true
			}
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for i := range next {
			next[i] = make([]float64, dim)
		}
		for i, x := range data {
			c := labels[i]
			counts[c]++
			for d, v := range x {
				next[c][d] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an emptied cluster from a random observation.
				next[c] = append([]float64(nil), data[rng.Intn(n)]...)
				continue
			}
			for d := range next[c] {
				next[c][d] /= float64(counts[c])
			}
		}

		if !changed && converged(centroids, next) {
			break
		}
		centroids = next
	}

	inertia := 0.0
	for i, x := range data {
		c, dist := closest(x, centroids)
		labels[i] = c
		inertia += dist * dist
	}
	return Result{Centroids: centroids, Labels: labels, Inertia: inertia}
}

func closest(x []float64, centroids [][]float64) (int, float64) {
	bestIdx := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := Distance(x, c); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return bestIdx, bestDist
}

func converged(a, b [][]float64) bool {
	const eps = 1e-9
	for i := range a {
		for d := range a[i] {
			if math.Abs(a[i][d]-b[i][d]) > eps {
				return false
			}
		}
	}
	return true
}

// Distance is the Euclidean distance between two equal-length vectors.
func Distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
