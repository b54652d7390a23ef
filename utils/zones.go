package utils

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/floats"
)

var ErrZones = errors.New("utils: cannot split cells into zones")

// SplitIntoBins sorts cells by x and cuts them into bins runs of nearly
// equal size. The first len(x)%bins bins hold one extra cell.
func SplitIntoBins(x []float64, bins int) ([][]int, error) {
	if bins <= 0 || bins > len(x) {
		return nil, fmt.Errorf("%d bins for %d cells: %w", bins, len(x), ErrZones)
	}
	order := argsort(x)
	size, rest := len(x)/bins, len(x)%bins

	out := make([][]int, 0, bins)
	i := 0
	for b := range bins {
		n := size
		if b < rest {
			n++
		}
		out = append(out, order[i:i+n])
		i += n
	}
	return out, nil
}

func argsort(x []float64) []int {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case x[a] < x[b]:
			return -1
		case x[a] > x[b]:
			return 1
		}
		return 0
	})
	return idx
}

// ClusterZones groups cells into k zones by one-dimensional k-means on the
// coordinate. Zones are numbered by increasing centre; the zone of every
// cell and the zone centres are returned.
func ClusterZones(x []float64, k int) ([]int, []float64, error) {
	if k <= 0 || k > len(x) {
		return nil, nil, fmt.Errorf("%d zones for %d cells: %w", k, len(x), ErrZones)
	}
	// kmeans seeds its centres inside the unit cube.
	lo, hi := floats.Min(x), floats.Max(x)
	span := hi - lo
	if span == 0 {
		span = 1
	}
	dataset := make(clusters.Observations, len(x))
	for c, v := range x {
		dataset[c] = clusters.Coordinates{(v - lo) / span}
	}

	km := kmeans.New()
	var best clusters.Clusters
	bestCost := math.Inf(1)
	for range zoneRestarts {
		cc, err := km.Partition(dataset, k)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrZones, err)
		}
		if cost := withinCost(cc); cost < bestCost {
			best, bestCost = cc, cost
		}
	}

	best = slices.DeleteFunc(best, func(c clusters.Cluster) bool { return len(c.Observations) == 0 })
	slices.SortFunc(best, func(a, b clusters.Cluster) int {
		switch {
		case a.Center[0] < b.Center[0]:
			return -1
		case a.Center[0] > b.Center[0]:
			return 1
		}
		return 0
	})

	centres := make([]float64, len(best))
	for i, c := range best {
		centres[i] = lo + c.Center[0]*span
	}
	zones := make([]int, len(x))
	for c, obs := range dataset {
		zones[c] = best.Nearest(obs)
	}
	return zones, centres, nil
}

// Restarts of the k-means partition; the tightest one wins.
const zoneRestarts = 10

func withinCost(cc clusters.Clusters) float64 {
	cost := 0.0
	for _, c := range cc {
		// Distance is already squared.
		for _, o := range c.Observations {
			cost += o.Distance(c.Center)
		}
	}
	return cost
}
