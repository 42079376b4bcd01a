// Package pointcloud defines a columnar point cloud: a set of named per-point attributes stored as
// (N, k) tensors that all share the point count, dtype and device of the cloud's positions.
package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/spatialmath"
)

// Well known attribute names.
const (
	PositionsAttr      = "positions"
	NormalsAttr        = "normals"
	ColorsAttr         = "colors"
	ColorGradientsAttr = "color_gradients"
	IntensitiesAttr    = "intensities"
)

var (
	// ErrMissingAttribute is returned when an operation needs an attribute the cloud does not have.
	ErrMissingAttribute = errors.New("point cloud is missing a required attribute")
	// ErrEmptyCloud is returned when constructing a cloud with no points.
	ErrEmptyCloud = errors.New("point cloud must have at least one point")
)

// PointCloud is a general purpose container of points and their attributes.
// A PointCloud is not safe for concurrent mutation; concurrent reads are fine.
type PointCloud struct {
	device Device
	dtype  tensor.Dtype
	size   int
	attrs  map[string]*tensor.Dense
}

// New returns a point cloud whose positions are the given (N, 3) float32 or float64 tensor.
// The tensor is used as-is, not copied, unless it is a view, which is materialized first.
func New(points *tensor.Dense, device Device) (*PointCloud, error) {
	if points == nil {
		return nil, ErrEmptyCloud
	}
	points = Contiguous(points)
	dtype := points.Dtype()
	if !IsFloatDtype(dtype) {
		return nil, errors.Errorf("positions must be float32 or float64, got %v", dtype)
	}
	shape := points.Shape()
	if len(shape) != 2 || shape[1] != 3 {
		return nil, errors.Errorf("positions must have shape (N, 3), got %v", shape)
	}
	if shape[0] == 0 {
		return nil, ErrEmptyCloud
	}
	return &PointCloud{
		device: device,
		dtype:  dtype,
		size:   shape[0],
		attrs:  map[string]*tensor.Dense{PositionsAttr: points},
	}, nil
}

// NewFromVectors returns a point cloud with the given positions stored with the given dtype.
func NewFromVectors(points []r3.Vector, dtype tensor.Dtype, device Device) (*PointCloud, error) {
	if len(points) == 0 {
		return nil, ErrEmptyCloud
	}
	if !IsFloatDtype(dtype) {
		return nil, errors.Errorf("positions must be float32 or float64, got %v", dtype)
	}
	return New(newDense(dtype, len(points), 3, flattenVectors(points)), device)
}

// IsFloatDtype reports whether dtype is one of the supported floating point attribute types.
func IsFloatDtype(dtype tensor.Dtype) bool {
	return dtype == tensor.Float32 || dtype == tensor.Float64
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return pc.size
}

// Device returns the device the cloud is placed on.
func (pc *PointCloud) Device() Device {
	return pc.device
}

// Dtype returns the element type of the positions and every other attribute.
func (pc *PointCloud) Dtype() tensor.Dtype {
	return pc.dtype
}

// Positions returns the (N, 3) positions tensor.
func (pc *PointCloud) Positions() *tensor.Dense {
	return pc.attrs[PositionsAttr]
}

// AttrNames returns the names of every attribute in sorted order.
func (pc *PointCloud) AttrNames() []string {
	names := make([]string, 0, len(pc.attrs))
	for name := range pc.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAttr reports whether the cloud carries the named attribute.
func (pc *PointCloud) HasAttr(name string) bool {
	_, ok := pc.attrs[name]
	return ok
}

// Attr returns the named attribute tensor.
func (pc *PointCloud) Attr(name string) (*tensor.Dense, error) {
	t, ok := pc.attrs[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingAttribute, "%q", name)
	}
	return t, nil
}

// SetAttr attaches or replaces an attribute. The tensor must be (N, k) with the cloud's dtype.
func (pc *PointCloud) SetAttr(name string, t *tensor.Dense) error {
	if t == nil {
		return errors.Errorf("attribute %q is nil", name)
	}
	t = Contiguous(t)
	if t.Dtype() != pc.dtype {
		return errors.Errorf("attribute %q has dtype %v but cloud has %v", name, t.Dtype(), pc.dtype)
	}
	shape := t.Shape()
	if len(shape) != 2 || shape[0] != pc.size {
		return errors.Errorf("attribute %q must have shape (%d, k), got %v", name, pc.size, shape)
	}
	if name == PositionsAttr && shape[1] != 3 {
		return errors.Errorf("positions must have shape (N, 3), got %v", shape)
	}
	pc.attrs[name] = t
	return nil
}

// RemoveAttr drops an attribute. Positions cannot be removed.
func (pc *PointCloud) RemoveAttr(name string) {
	if name == PositionsAttr {
		return
	}
	delete(pc.attrs, name)
}

// SetVectorAttr stores a list of 3-vectors as an (N, 3) attribute.
func (pc *PointCloud) SetVectorAttr(name string, vs []r3.Vector) error {
	if len(vs) != pc.size {
		return errors.Errorf("attribute %q has %d entries but cloud has %d points", name, len(vs), pc.size)
	}
	return pc.SetAttr(name, newDense(pc.dtype, pc.size, 3, flattenVectors(vs)))
}

// SetScalarAttr stores one value per point as an (N, 1) attribute.
func (pc *PointCloud) SetScalarAttr(name string, values []float64) error {
	if len(values) != pc.size {
		return errors.Errorf("attribute %q has %d entries but cloud has %d points", name, len(values), pc.size)
	}
	return pc.SetAttr(name, newDense(pc.dtype, pc.size, 1, append([]float64(nil), values...)))
}

// HasNormals reports whether the cloud has per-point normals.
func (pc *PointCloud) HasNormals() bool {
	return pc.HasAttr(NormalsAttr)
}

// HasColors reports whether the cloud has per-point colors.
func (pc *PointCloud) HasColors() bool {
	return pc.HasAttr(ColorsAttr)
}

// SetNormals attaches per-point normals.
func (pc *PointCloud) SetNormals(normals []r3.Vector) error {
	return pc.SetVectorAttr(NormalsAttr, normals)
}

// Vectors returns an (N, 3) attribute as a slice of vectors.
func (pc *PointCloud) Vectors(name string) ([]r3.Vector, error) {
	values, cols, err := pc.columns(name)
	if err != nil {
		return nil, err
	}
	if cols != 3 {
		return nil, errors.Errorf("attribute %q has %d columns, expected 3", name, cols)
	}
	out := make([]r3.Vector, pc.size)
	for i := range out {
		out[i] = r3.Vector{X: values[3*i], Y: values[3*i+1], Z: values[3*i+2]}
	}
	return out, nil
}

// GatherVectors returns the rows of an (N, 3) attribute at the given indices, in order.
func (pc *PointCloud) GatherVectors(name string, indices []int) ([]r3.Vector, error) {
	values, cols, err := pc.columns(name)
	if err != nil {
		return nil, err
	}
	if cols != 3 {
		return nil, errors.Errorf("attribute %q has %d columns, expected 3", name, cols)
	}
	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= pc.size {
			return nil, errors.Errorf("index %d out of range [0, %d)", idx, pc.size)
		}
		out[i] = r3.Vector{X: values[3*idx], Y: values[3*idx+1], Z: values[3*idx+2]}
	}
	return out, nil
}

// Scalars returns an (N, 1) attribute as a slice.
func (pc *PointCloud) Scalars(name string) ([]float64, error) {
	values, cols, err := pc.columns(name)
	if err != nil {
		return nil, err
	}
	if cols != 1 {
		return nil, errors.Errorf("attribute %q has %d columns, expected 1", name, cols)
	}
	return values, nil
}

// Clone returns a deep copy of the cloud.
func (pc *PointCloud) Clone() *PointCloud {
	attrs := make(map[string]*tensor.Dense, len(pc.attrs))
	for name, t := range pc.attrs {
		attrs[name] = t.Clone().(*tensor.Dense)
	}
	return &PointCloud{device: pc.device, dtype: pc.dtype, size: pc.size, attrs: attrs}
}

// Transform returns a new cloud with the 4x4 rigid transform applied to the positions and the
// rotation applied to the normals. Other attributes are copied unchanged.
func (pc *PointCloud) Transform(transform mat.Matrix) (*PointCloud, error) {
	if r, c := transform.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("transform must be 4x4, got %dx%d", r, c)
	}
	out := pc.Clone()
	positions, err := pc.Vectors(PositionsAttr)
	if err != nil {
		return nil, err
	}
	if err := out.SetVectorAttr(PositionsAttr, spatialmath.TransformPoints(transform, positions)); err != nil {
		return nil, err
	}
	if pc.HasNormals() {
		normals, err := pc.Vectors(NormalsAttr)
		if err != nil {
			return nil, err
		}
		for i, n := range normals {
			normals[i] = spatialmath.RotateVector(transform, n)
		}
		if err := out.SetNormals(normals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Centroid returns the mean position.
func (pc *PointCloud) Centroid() r3.Vector {
	positions, _, err := pc.columns(PositionsAttr)
	if err != nil {
		return r3.Vector{}
	}
	var sum r3.Vector
	for i := 0; i < pc.size; i++ {
		sum = sum.Add(r3.Vector{X: positions[3*i], Y: positions[3*i+1], Z: positions[3*i+2]})
	}
	return sum.Mul(1 / float64(pc.size))
}

// columns returns the attribute's values widened to float64 along with its column count.
func (pc *PointCloud) columns(name string) ([]float64, int, error) {
	t, err := pc.Attr(name)
	if err != nil {
		return nil, 0, err
	}
	values, err := Float64s(t)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "attribute %q", name)
	}
	return values, t.Shape()[1], nil
}

// Float64s returns a copy of a float32 or float64 tensor's elements as float64, in row major order.
func Float64s(t *tensor.Dense) ([]float64, error) {
	switch data := Contiguous(t).Data().(type) {
	case []float64:
		return append([]float64(nil), data...), nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported dtype %v", t.Dtype())
	}
}

// Contiguous returns t when it owns its data in row major order and a materialized copy when t is
// a view, whose Data would otherwise expose the parent's whole backing array.
func Contiguous(t *tensor.Dense) *tensor.Dense {
	if !t.IsView() {
		return t
	}
	if m, ok := t.Materialize().(*tensor.Dense); ok {
		return m
	}
	return t
}

func newDense(dtype tensor.Dtype, rows, cols int, values []float64) *tensor.Dense {
	if dtype == tensor.Float32 {
		backing := make([]float32, len(values))
		for i, v := range values {
			backing[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(values))
}

func flattenVectors(vs []r3.Vector) []float64 {
	out := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out
}
