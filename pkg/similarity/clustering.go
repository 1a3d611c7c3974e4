package similarity

import (
	"cmp"
	"slices"
)

// Point is one embedding to be clustered.
type Point struct {
	ID        string
	Embedding []float32
}

// DBSCANParams configures density clustering.
type DBSCANParams struct {
	// Eps is the neighborhood radius in cosine distance.
	Eps float64
	// MinPts is the minimum neighborhood size, the point itself included,
	// for a point to be a core point.
	MinPts int
}

// DBSCANResult partitions the input ids into clusters and noise.
type DBSCANResult struct {
	// Clusters holds the member ids of each cluster, sorted, in discovery order.
	Clusters [][]string
	// Noise holds ids reachable from no core point, sorted.
	Noise []string
}

const (
	labelUndefined = 0
	labelNoise     = -1
)

// DBSCAN groups points by density reachability under cosine distance.
//
// Points are processed in id order and expansion uses a FIFO seed queue fed
// with neighbors in id order, so the partition is the same for any
// permutation of the input. Duplicate ids keep their first occurrence.
// Pairs with mismatched dimensions are never neighbors.
func DBSCAN(points []Point, params DBSCANParams) DBSCANResult {
	pts := uniqueSortedPoints(points)
	n := len(pts)
	if n == 0 {
		return DBSCANResult{}
	}

	neighbors := neighborhoods(pts, params.Eps)

	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != labelUndefined {
			continue
		}

		if len(neighbors[i]) < params.MinPts {
			labels[i] = labelNoise
			continue
		}

		clusterID++
		labels[i] = clusterID

		seed := make([]int, 0, len(neighbors[i]))
		for _, j := range neighbors[i] {
			if j != i {
				seed = append(seed, j)
			}
		}

		for len(seed) > 0 {
			q := seed[0]
			seed = seed[1:]

			// Noise reached from a core point becomes a border point.
			if labels[q] == labelNoise {
				labels[q] = clusterID
				continue
			}
			if labels[q] != labelUndefined {
				continue
			}
			labels[q] = clusterID

			if len(neighbors[q]) >= params.MinPts {
				seed = append(seed, neighbors[q]...)
			}
		}
	}

	result := DBSCANResult{Clusters: make([][]string, clusterID)}
	for i, label := range labels {
		if label == labelNoise {
			result.Noise = append(result.Noise, pts[i].ID)
			continue
		}
		result.Clusters[label-1] = append(result.Clusters[label-1], pts[i].ID)
	}
	return result
}

// neighborhoods returns, for every point, the indices within eps (itself
// included) in ascending order.
func neighborhoods(pts []Point, eps float64) [][]int {
	n := len(pts)
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		out[i] = append(out[i], i)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist, err := CosineDistance(pts[i].Embedding, pts[j].Embedding)
			if err != nil || dist > eps {
				continue
			}
			out[i] = append(out[i], j)
			out[j] = append(out[j], i)
		}
	}
	for i := range out {
		slices.Sort(out[i])
	}
	return out
}

func uniqueSortedPoints(points []Point) []Point {
	seen := make(map[string]struct{}, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Point) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
