// Package pca projects the vote matrix onto its top two principal
// components for visualization and as clustering input.
package pca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// degenerateVariance is the threshold below which the centered matrix is
// treated as having no usable spread (e.g., every user voted
// identically). The projection then collapses to the origin and
// downstream clustering falls back to a single group.
const degenerateVariance = 1e-12

// Point is one user's position in the projected opinion space.
type Point struct {
	PC1 float64 `json:"pc1"`
	PC2 float64 `json:"pc2"`
}

// Projection holds per-user coordinates and variance bookkeeping.
// Variance figures are reporting-only; nothing downstream gates on them.
type Projection struct {
	Points []Point

	// ComponentVariance is the fraction of total variance captured by
	// each of the top two components.
	ComponentVariance [2]float64

	// TotalVarianceExplained is the sum of the two component fractions.
	TotalVarianceExplained float64

	// Degenerate marks a matrix with no usable spread.
	Degenerate bool
}

// Project centers each column of the imputed vote matrix, runs a thin
// SVD, and projects every user onto the first two right-singular
// vectors.
//
// SVD is used rather than eigen-decomposition of the covariance matrix
// for numerical stability when user count and statement count are far
// apart. Eigenvector sign is not deterministic in standard algorithms,
// so a fixed convention is applied: each component's largest-magnitude
// loading is forced positive. Repeated runs on identical input therefore
// yield identical coordinates, never mirror images.
func Project(values [][]float64) (*Projection, error) {
	n := len(values)
	if n == 0 {
		return nil, fmt.Errorf("pca: empty matrix")
	}
	d := len(values[0])
	if d == 0 {
		return nil, fmt.Errorf("pca: matrix has no columns")
	}

	centered := centerColumns(values, n, d)

	proj := &Projection{Points: make([]Point, n)}

	if totalSpread(centered) < degenerateVariance {
		proj.Degenerate = true
		return proj, nil
	}

	data := make([]float64, 0, n*d)
	for _, row := range centered {
		data = append(data, row...)
	}
	m := mat.NewDense(n, d, data)

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, fmt.Errorf("pca: SVD failed to converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)

	components := len(sigma)
	if components > 2 {
		components = 2
	}

	var totalVar float64
	for _, s := range sigma {
		totalVar += s * s
	}
	if totalVar < degenerateVariance {
		proj.Degenerate = true
		return proj, nil
	}

	for c := 0; c < components; c++ {
		sign := componentSign(&v, c, d)
		for i := 0; i < n; i++ {
			score := u.At(i, c) * sigma[c] * sign
			if c == 0 {
				proj.Points[i].PC1 = score
			} else {
				proj.Points[i].PC2 = score
			}
		}
		proj.ComponentVariance[c] = (sigma[c] * sigma[c]) / totalVar
	}

	proj.TotalVarianceExplained = proj.ComponentVariance[0] + proj.ComponentVariance[1]
	return proj, nil
}

// componentSign returns -1 when the component's largest-magnitude
// loading is negative, so callers can flip the whole component.
func componentSign(v *mat.Dense, c, d int) float64 {
	maxAbs := 0.0
	maxVal := 0.0
	for j := 0; j < d; j++ {
		val := v.At(j, c)
		if abs := math.Abs(val); abs > maxAbs {
			maxAbs = abs
			maxVal = val
		}
	}
	if maxVal < 0 {
		return -1
	}
	return 1
}

func centerColumns(values [][]float64, n, d int) [][]float64 {
	means := make([]float64, d)
	for _, row := range values {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}

	centered := make([][]float64, n)
	for i, row := range values {
		centered[i] = make([]float64, d)
		for j, v := range row {
			centered[i][j] = v - means[j]
		}
	}
	return centered
}

func totalSpread(centered [][]float64) float64 {
	total := 0.0
	for _, row := range centered {
		for _, v := range row {
			total += v * v
		}
	}
	return total
}
