package detector

import (
	"math"
	"math/rand"
)

// itreeNode is one node of a single isolation tree over a scalar feature.
// A leaf stores the number of training samples that reached it; an internal
// node stores the random split value and its two children.
type itreeNode struct {
	IsLeaf     bool
	Size       int
	SplitValue float64
	Left       *itreeNode
	Right      *itreeNode
}

// buildTree grows one isolation tree by recursively splitting data at a
// uniformly random value between its min and max, stopping at a single
// sample, a constant partition, or the height limit — mirroring scikit-learn's
// ExtraTreeRegressor-based isolation tree construction for a single feature.
func buildTree(data []float64, depth, heightLimit int, rng *rand.Rand) *itreeNode {
	if len(data) <= 1 || depth >= heightLimit {
		return &itreeNode{IsLeaf: true, Size: len(data)}
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &itreeNode{IsLeaf: true, Size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right []float64
	for _, v := range data {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	// A degenerate split (all mass on one side) still terminates depth-bounded.
	if len(left) == 0 || len(right) == 0 {
		return &itreeNode{IsLeaf: true, Size: len(data)}
	}

	return &itreeNode{
		SplitValue: split,
		Left:       buildTree(left, depth+1, heightLimit, rng),
		Right:      buildTree(right, depth+1, heightLimit, rng),
	}
}

// pathLength returns the depth at which x would be isolated by this tree,
// plus the average-case adjustment c(leafSize) for the samples remaining at
// the leaf it lands in (an exact isolation was not observed for them).
func pathLength(node *itreeNode, x float64, depth int) float64 {
	if node.IsLeaf {
		return float64(depth) + averagePathLength(node.Size)
	}
	if x < node.SplitValue {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n nodes — the normalizing constant from
// Liu, Ting & Zhou's Isolation Forest paper.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	return 2*harmonic(nf-1) - (2 * (nf - 1) / nf)
}

const eulerMascheroni = 0.5772156649015329

func harmonic(i float64) float64 {
	if i <= 0 {
		return 0
	}
	return math.Log(i) + eulerMascheroni
}

// forest is an ensemble of isolation trees over a single standardized feature.
type forest struct {
	Trees      []*itreeNode
	SampleSize int
}

// fitForest builds numTrees isolation trees, each over a random subsample of
// at most sampleSize points drawn (with replacement) from data.
func fitForest(data []float64, numTrees, sampleSize int, rng *rand.Rand) *forest {
	if sampleSize <= 0 || sampleSize > len(data) {
		sampleSize = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	trees := make([]*itreeNode, 0, numTrees)
	for i := 0; i < numTrees; i++ {
		sample := make([]float64, sampleSize)
		for j := range sample {
			sample[j] = data[rng.Intn(len(data))]
		}
		trees = append(trees, buildTree(sample, 0, heightLimit, rng))
	}
	return &forest{Trees: trees, SampleSize: sampleSize}
}

// anomalyScore returns a value in (0, 1]; values near 1 indicate x was
// isolated quickly (anomalous) across the ensemble, values near 0.5 or below
// indicate a typical, hard-to-isolate point. A forest with no trees or a
// sample size below 2 scores every point 0.
func (f *forest) anomalyScore(x float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += pathLength(t, x, 0)
	}
	avgPath := sum / float64(len(f.Trees))
	cn := averagePathLength(f.SampleSize)
	if cn == 0 {
		return 0
	}
	return math.Pow(2, -avgPath/cn)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
