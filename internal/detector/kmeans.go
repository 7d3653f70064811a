package detector

import (
	"math"
	"math/rand"
)

const maxIter = 300

type clustering struct {
	centroids [][]float64
	labels    []int
	inertia   float64
}

// point is a sparse copy of a tf-idf row; most rows touch a handful of terms.
type point struct {
	idx []int
	val []float64
	sq  float64
}

func sparse(v []float64) point {
	var p point
	for i, x := range v {
		if x != 0 {
			p.idx = append(p.idx, i)
			p.val = append(p.val, x)
			p.sq += x * x
		}
	}
	return p
}

// center is a dense centroid with its cached squared norm.
type center struct {
	v  []float64
	sq float64
}

func newCenter(v []float64) center {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	return center{v: v, sq: sq}
}

func (p point) sqDist(c center) float64 {
	var dot float64
	for j, i := range p.idx {
		dot += p.val[j] * c.v[i]
	}
	return math.Max(0, p.sq+c.sq-2*dot)
}

func (p point) dense(dim int) []float64 {
	v := make([]float64, dim)
	for j, i := range p.idx {
		v[i] = p.val[j]
	}
	return v
}

// kmeans runs Lloyd's algorithm with k-means++ seeding, restarting `restarts`
// times from the same seeded source and keeping the lowest inertia.
func kmeans(X [][]float64, k, restarts int, seed int64) clustering {
	if restarts < 1 {
		restarts = 1
	}
	dim := len(X[0])
	pts := make([]point, len(X))
	for i, x := range X {
		pts[i] = sparse(x)
	}
	rng := rand.New(rand.NewSource(seed))
	var best clustering
	for r := 0; r < restarts; r++ {
		c := lloyd(pts, dim, seedPlusPlus(pts, dim, k, rng))
		if r == 0 || c.inertia < best.inertia {
			best = c
		}
	}
	return best
}

func seedPlusPlus(pts []point, dim, k int, rng *rand.Rand) []center {
	n := len(pts)
	used := make([]bool, n)
	first := rng.Intn(n)
	used[first] = true
	centers := []center{newCenter(pts[first].dense(dim))}

	d2 := make([]float64, n)
	for i, p := range pts {
		d2[i] = p.sqDist(centers[0])
	}
	for len(centers) < k {
		var total float64
		for _, d := range d2 {
			total += d
		}
		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range d2 {
				if d <= 0 {
					continue
				}
				next = i
				if target -= d; target <= 0 {
					break
				}
			}
		}
		if next < 0 {
			// os pontos restantes coincidem com algum centro
			next = pickUnused(used, rng)
		}
		used[next] = true
		c := newCenter(pts[next].dense(dim))
		centers = append(centers, c)
		for i, p := range pts {
			if d := p.sqDist(c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centers
}

func pickUnused(used []bool, rng *rand.Rand) int {
	free := make([]int, 0, len(used))
	for i, u := range used {
		if !u {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return rng.Intn(len(used))
	}
	return free[rng.Intn(len(free))]
}

func lloyd(pts []point, dim int, centers []center) clustering {
	labels := make([]int, len(pts))
	for i := range labels {
		labels[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		if !assign(pts, centers, labels) && iter > 0 {
			break
		}
		centers = recompute(pts, dim, labels, centers)
	}
	// rótulos finais coerentes com os centróides finais
	assign(pts, centers, labels)

	out := clustering{labels: labels, centroids: make([][]float64, len(centers))}
	for c := range centers {
		out.centroids[c] = centers[c].v
	}
	for i, l := range labels {
		out.inertia += pts[i].sqDist(centers[l])
	}
	return out
}

func assign(pts []point, centers []center, labels []int) bool {
	changed := false
	for i, p := range pts {
		best, bestD := 0, math.Inf(1)
		for c, ctr := range centers {
			if d := p.sqDist(ctr); d < bestD {
				best, bestD = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// recompute averages members per cluster. An empty cluster takes over the
// point farthest from its centroid among clusters with more than one member.
func recompute(pts []point, dim int, labels []int, prev []center) []center {
	k := len(prev)
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}
	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, l := range labels {
			if counts[l] < 2 {
				continue
			}
			if d := pts[i].sqDist(prev[l]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c] = 1
	}

	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, l := range labels {
		for j, idx := range pts[i].idx {
			sums[l][idx] += pts[i].val[j]
		}
	}
	out := make([]center, k)
	for c := range sums {
		if counts[c] == 0 {
			out[c] = prev[c]
			continue
		}
		for j := range sums[c] {
			sums[c][j] /= float64(counts[c])
		}
		out[c] = newCenter(sums[c])
	}
	return out
}
