package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// SetColors attaches per-point RGB colors with components in [0, 1].
func (pc *PointCloud) SetColors(colors []r3.Vector) error {
	for i, c := range colors {
		if !validUnit(c.X) || !validUnit(c.Y) || !validUnit(c.Z) {
			return errors.Errorf("color %d (%v) has a component outside [0, 1]", i, c)
		}
	}
	return pc.SetVectorAttr(ColorsAttr, colors)
}

// SetColorsFromImage attaches per-point colors converted from image colors. Fully transparent
// colors are rejected.
func (pc *PointCloud) SetColorsFromImage(colors []color.Color) error {
	if len(colors) != pc.size {
		return errors.Errorf("got %d colors for %d points", len(colors), pc.size)
	}
	rgb := make([]r3.Vector, len(colors))
	for i, c := range colors {
		cf, ok := colorful.MakeColor(c)
		if !ok {
			return errors.Errorf("color %d is fully transparent", i)
		}
		rgb[i] = r3.Vector{X: cf.R, Y: cf.G, Z: cf.B}
	}
	return pc.SetColors(rgb)
}

// ImageColors returns the cloud's colors as 8-bit image colors.
func (pc *PointCloud) ImageColors() ([]color.NRGBA, error) {
	colors, err := pc.Vectors(ColorsAttr)
	if err != nil {
		return nil, err
	}
	out := make([]color.NRGBA, len(colors))
	for i, c := range colors {
		r, g, b := colorful.Color{R: c.X, G: c.Y, B: c.Z}.Clamped().RGB255()
		out[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return out, nil
}

// Intensities returns the per-point intensity, the mean of the RGB components.
func (pc *PointCloud) Intensities() ([]float64, error) {
	colors, err := pc.Vectors(ColorsAttr)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(colors))
	for i, c := range colors {
		out[i] = (c.X + c.Y + c.Z) / 3
	}
	return out, nil
}

// SetIntensitiesFromColors derives the intensities attribute from the colors.
func (pc *PointCloud) SetIntensitiesFromColors() error {
	intensities, err := pc.Intensities()
	if err != nil {
		return err
	}
	return pc.SetScalarAttr(IntensitiesAttr, intensities)
}

func validUnit(v float64) bool {
	return v >= 0 && v <= 1
}
