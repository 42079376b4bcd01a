package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minGradientNeighbors is the fewest distinct neighbors needed to fit a gradient.
const minGradientNeighbors = 3

// EstimateColorGradients fits, for every point, the gradient of intensity within the point's
// tangent plane and stores it as the color_gradients attribute. neighbors[i] lists the indices of
// the points near point i; finding them is left to the caller. Points with too few neighbors, or
// whose neighborhood does not constrain the plane, get a zero gradient.
func EstimateColorGradients(cloud *PointCloud, neighbors [][]int) error {
	if len(neighbors) != cloud.Size() {
		return errors.Errorf("got %d neighborhoods for %d points", len(neighbors), cloud.Size())
	}
	positions, err := cloud.Vectors(PositionsAttr)
	if err != nil {
		return err
	}
	normals, err := cloud.Vectors(NormalsAttr)
	if err != nil {
		return err
	}
	intensities, err := cloud.Intensities()
	if err != nil {
		return err
	}

	gradients := make([]r3.Vector, cloud.Size())
	for i, hood := range neighbors {
		p, n := positions[i], normals[i]
		rows := make([]int, 0, len(hood))
		for _, j := range hood {
			if j == i {
				continue
			}
			if j < 0 || j >= cloud.Size() {
				return errors.Errorf("neighbor %d of point %d out of range", j, i)
			}
			rows = append(rows, j)
		}
		if len(rows) < minGradientNeighbors {
			continue
		}

		a := mat.NewDense(len(rows)+1, 3, nil)
		b := mat.NewVecDense(len(rows)+1, nil)
		for r, j := range rows {
			q := positions[j]
			proj := q.Sub(n.Mul(q.Sub(p).Dot(n)))
			d := proj.Sub(p)
			a.SetRow(r, []float64{d.X, d.Y, d.Z})
			b.SetVec(r, intensities[j]-intensities[i])
		}
		// keeps the solution in the tangent plane
		w := float64(len(rows))
		a.SetRow(len(rows), []float64{n.X * w, n.Y * w, n.Z * w})

		var x mat.VecDense
		if err := x.SolveVec(a, b); err != nil {
			continue
		}
		gradients[i] = r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	}
	return cloud.SetVectorAttr(ColorGradientsAttr, gradients)
}
