package registration

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/registration/spatialmath"
	"go.viam.com/registration/utils"
)

// jacobian is one row of the linearized system with respect to the pose (α, β, γ, tx, ty, tz).
type jacobian [spatialmath.PoseDim]float64

// rigidJacobian is the derivative of (p + ω×p + t)·d with respect to (ω, t): [p×d, d].
func rigidJacobian(p, d r3.Vector) jacobian {
	c := p.Cross(d)
	return jacobian{c.X, c.Y, c.Z, d.X, d.Y, d.Z}
}

// normalEquations accumulates A = Σ w J Jᵀ and b = Σ w J r.
type normalEquations struct {
	ata [spatialmath.PoseDim * spatialmath.PoseDim]float64
	atb [spatialmath.PoseDim]float64
	// residual is Σ w r²
	residual float64
}

func (ne *normalEquations) add(j jacobian, r, w float64) {
	for row := 0; row < spatialmath.PoseDim; row++ {
		wj := w * j[row]
		for col := row; col < spatialmath.PoseDim; col++ {
			ne.ata[row*spatialmath.PoseDim+col] += wj * j[col]
		}
		ne.atb[row] += wj * r
	}
	ne.residual += w * r * r
}

func (ne *normalEquations) merge(other *normalEquations) {
	for i := range ne.ata {
		ne.ata[i] += other.ata[i]
	}
	for i := range ne.atb {
		ne.atb[i] += other.atb[i]
	}
	ne.residual += other.residual
}

// solve returns the pose x minimizing Σ w (r + Jᵀx)², i.e. the solution of A x = -b.
func (ne *normalEquations) solve() (spatialmath.Pose, error) {
	const n = spatialmath.PoseDim
	a := mat.NewDense(n, n, nil)
	for row := 0; row < n; row++ {
		for col := row; col < n; col++ {
			v := ne.ata[row*n+col]
			a.Set(row, col, v)
			a.Set(col, row, v)
		}
	}
	b := mat.NewVecDense(n, nil)
	for i, v := range ne.atb {
		b.SetVec(i, -v)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return spatialmath.Pose{}, errors.Wrap(ErrSingularSystem, err.Error())
	}
	var pose spatialmath.Pose
	for i := range pose {
		pose[i] = x.AtVec(i)
	}
	return pose, nil
}

// accumulate builds the normal equations over numRows rows in parallel. addRow is called once per
// row with the partial system of the group that owns it. Partials are merged in group order so the
// result does not depend on scheduling.
func accumulate(numRows int, addRow func(row int, ne *normalEquations)) (*normalEquations, error) {
	var partials []normalEquations
	err := utils.GroupWorkParallel(
		context.Background(),
		numRows,
		func(numGroups int) {
			partials = make([]normalEquations, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			ne := &partials[groupNum]
			return func(memberNum, workNum int) {
				addRow(workNum, ne)
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	total := &normalEquations{}
	for i := range partials {
		total.merge(&partials[i])
	}
	return total, nil
}
