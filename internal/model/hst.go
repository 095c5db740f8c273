package model

import (
	"math"
	"math/rand"
)

// HalfSpaceTrees is an online outlier detector over a single value stream.
// An ensemble of random binary trees partitions the value range; each tree
// tracks how much recent mass falls into each region across two alternating
// windows. Values landing in sparsely populated regions score close to 1,
// values in dense regions close to 0.
type HalfSpaceTrees struct {
	NTrees     int
	Height     int
	WindowSize int
	Lo, Hi     float64 // value range; inputs are clamped into it

	Trees       []hsTree
	Counter     int  // samples seen in the current window
	FirstWindow bool // no reference profile exists yet
}

type hsTree struct {
	// Perfect binary tree in array form: node i has children 2i+1, 2i+2.
	// Splits[i] is the cut point of node i within its region of [0,1].
	Splits     []float64
	RefMass    []float64 // mass profile of the previous (reference) window
	LatestMass []float64 // mass being accumulated in the current window
}

// NewHalfSpaceTrees builds a deterministic ensemble from the given seed.
// lo/hi bound the expected residual range.
func NewHalfSpaceTrees(seed int64, lo, hi float64) *HalfSpaceTrees {
	h := &HalfSpaceTrees{
		NTrees:      10,
		Height:      8,
		WindowSize:  250,
		Lo:          lo,
		Hi:          hi,
		FirstWindow: true,
	}
	rng := rand.New(rand.NewSource(seed))
	nodes := (1 << (h.Height + 1)) - 1
	h.Trees = make([]hsTree, h.NTrees)
	for t := range h.Trees {
		tree := hsTree{
			Splits:     make([]float64, nodes),
			RefMass:    make([]float64, nodes),
			LatestMass: make([]float64, nodes),
		}
		buildSplits(rng, tree.Splits, 0, 0.0, 1.0, h.Height)
		h.Trees[t] = tree
	}
	return h
}

// buildSplits assigns each internal node a uniform random cut inside the
// region its ancestors carved out.
func buildSplits(rng *rand.Rand, splits []float64, node int, lo, hi float64, depth int) {
	if depth == 0 {
		return
	}
	s := lo + rng.Float64()*(hi-lo)
	splits[node] = s
	buildSplits(rng, splits, 2*node+1, lo, s, depth-1)
	buildSplits(rng, splits, 2*node+2, s, hi, depth-1)
}

// unit clamps v into [Lo, Hi] and maps it onto [0, 1].
func (h *HalfSpaceTrees) unit(v float64) float64 {
	if v < h.Lo {
		v = h.Lo
	}
	if v > h.Hi {
		v = h.Hi
	}
	return (v - h.Lo) / (h.Hi - h.Lo)
}

// Score returns the anomaly score for v in [0, 1] under the reference mass
// profiles, without updating any state. Until the first window completes there
// is no reference profile and the score is 0.
func (h *HalfSpaceTrees) Score(v float64) float64 {
	if h.FirstWindow {
		return 0
	}
	u := h.unit(v)
	sizeLimit := 0.1 * float64(h.WindowSize)

	var raw float64
	for t := range h.Trees {
		tree := &h.Trees[t]
		node := 0
		for depth := 0; ; depth++ {
			mass := tree.RefMass[node]
			if depth == h.Height || mass <= sizeLimit {
				raw += mass * math.Pow(2, float64(depth))
				break
			}
			if u < tree.Splits[node] {
				node = 2*node + 1
			} else {
				node = 2*node + 2
			}
		}
	}

	// A sample in a fully dense region accumulates at most windowSize mass
	// per tree (scaled by depth); normalize against that ceiling.
	maxRaw := float64(h.NTrees) * float64(h.WindowSize) * math.Pow(2, float64(h.Height))
	density := raw / maxRaw
	score := 1 - density
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Learn records v into the current window's mass profiles. When the window
// fills, the latest profile becomes the reference and a new window starts.
func (h *HalfSpaceTrees) Learn(v float64) {
	u := h.unit(v)
	for t := range h.Trees {
		tree := &h.Trees[t]
		node := 0
		for depth := 0; depth <= h.Height; depth++ {
			tree.LatestMass[node]++
			if depth == h.Height {
				break
			}
			if u < tree.Splits[node] {
				node = 2*node + 1
			} else {
				node = 2*node + 2
			}
		}
	}

	h.Counter++
	if h.Counter >= h.WindowSize {
		for t := range h.Trees {
			tree := &h.Trees[t]
			copy(tree.RefMass, tree.LatestMass)
			for i := range tree.LatestMass {
				tree.LatestMass[i] = 0
			}
		}
		h.Counter = 0
		h.FirstWindow = false
	}
}
