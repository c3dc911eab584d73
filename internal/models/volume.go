package models

import (
	"github.com/pkg/errors"
)

// MaxVoxels bounds the number of voxels, times channels for feature
// tensors, a shape may describe.
const MaxVoxels = 1 << 30

// Unassigned marks a LabelVolume entry that was excluded from classification.
// It lies outside every valid label range [0, k-1].
const Unassigned int32 = -1

// Shape is the spatial extent of a CT volume indexed (slice, row, column).
type Shape struct {
	// Slices is the number of axial slices (third axis of the scan)
	Slices int

	// Rows is the height of each slice in voxels
	Rows int

	// Cols is the width of each slice in voxels
	Cols int
}

// Voxels returns the number of voxels covered by the shape.
func (s Shape) Voxels() int {
	return s.Slices * s.Rows * s.Cols
}

// SliceSize returns the number of voxels in one slice.
func (s Shape) SliceSize() int {
	return s.Rows * s.Cols
}

// Index returns the flat row-major index of (slice, row, col).
func (s Shape) Index(slice, row, col int) int {
	return slice*s.Rows*s.Cols + row*s.Cols + col
}

// Valid reports whether every dimension is positive and the voxel count does
// not exceed MaxVoxels.
func (s Shape) Valid() bool {
	if s.Slices <= 0 || s.Rows <= 0 || s.Cols <= 0 {
		return false
	}
	return s.Cols <= MaxVoxels/s.Rows && s.Slices <= MaxVoxels/(s.Rows*s.Cols)
}

// FeatureTensor holds one real-valued vector of Channels measurements per voxel.
// Data is laid out voxel-major with the channel axis innermost, so the vector
// of voxel i is Data[i*Channels : (i+1)*Channels].
type FeatureTensor struct {
	Shape    Shape
	Channels int
	Data     []float64
}

// NewFeatureTensor allocates a zeroed tensor.
func NewFeatureTensor(shape Shape, channels int) FeatureTensor {
	return FeatureTensor{
		Shape:    shape,
		Channels: channels,
		Data:     make([]float64, shape.Voxels()*channels),
	}
}

// Vector returns the channel vector of voxel i. The returned slice aliases Data.
func (t FeatureTensor) Vector(i int) []float64 {
	return t.Data[i*t.Channels : (i+1)*t.Channels]
}

// Validate checks that Data matches the declared shape and channel count.
func (t FeatureTensor) Validate() error {
	if !t.Shape.Valid() || t.Channels <= 0 || t.Channels > MaxVoxels/t.Shape.Voxels() {
		return errors.Wrapf(ErrShapeMismatch, "invalid feature tensor shape %+v with %d channels", t.Shape, t.Channels)
	}
	if len(t.Data) != t.Shape.Voxels()*t.Channels {
		return errors.Wrapf(ErrShapeMismatch, "feature tensor holds %d values, shape %+v x %d channels needs %d",
			len(t.Data), t.Shape, t.Channels, t.Shape.Voxels()*t.Channels)
	}
	return nil
}

// Mask is a binary volume. It serves both as inclusion mask (false = excluded)
// and as the foreground/background input of region analysis.
type Mask struct {
	Shape Shape
	Data  []bool
}

// NewMask allocates an all-false mask.
func NewMask(shape Shape) Mask {
	return Mask{Shape: shape, Data: make([]bool, shape.Voxels())}
}

// MaskFromValues converts an integer array into a mask: 0 is excluded,
// every other value is included.
func MaskFromValues(shape Shape, values []int32) (Mask, error) {
	if len(values) != shape.Voxels() {
		return Mask{}, errors.Wrapf(ErrShapeMismatch, "%d values for shape %+v", len(values), shape)
	}
	m := NewMask(shape)
	for i, v := range values {
		m.Data[i] = v != 0
	}
	return m, nil
}

// Clone returns a deep copy of the mask.
func (m Mask) Clone() Mask {
	out := Mask{Shape: m.Shape, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of positive voxels.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Slice returns the voxels of slice s. The returned slice aliases Data.
func (m Mask) Slice(s int) []bool {
	size := m.Shape.SliceSize()
	return m.Data[s*size : (s+1)*size]
}

// Validate checks that Data matches the declared shape.
func (m Mask) Validate() error {
	if !m.Shape.Valid() || len(m.Data) != m.Shape.Voxels() {
		return errors.Wrapf(ErrShapeMismatch, "mask holds %d voxels for shape %+v", len(m.Data), m.Shape)
	}
	return nil
}

// LabelVolume stores one label index per voxel. Entries equal to Unassigned
// were not classified.
type LabelVolume struct {
	Shape Shape
	Data  []int32
}

// NewLabelVolume allocates a volume with every entry set to fill.
func NewLabelVolume(shape Shape, fill int32) LabelVolume {
	lv := LabelVolume{Shape: shape, Data: make([]int32, shape.Voxels())}
	if fill != 0 {
		for i := range lv.Data {
			lv.Data[i] = fill
		}
	}
	return lv
}

// Volume is a scalar intensity volume such as a CT stack in Hounsfield units.
type Volume struct {
	Shape Shape
	Data  []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(shape Shape) Volume {
	return Volume{Shape: shape, Data: make([]float64, shape.Voxels())}
}

// Slice returns the values of slice s. The returned slice aliases Data.
func (v Volume) Slice(s int) []float64 {
	size := v.Shape.SliceSize()
	return v.Data[s*size : (s+1)*size]
}

// Validate checks that Data matches the declared shape.
func (v Volume) Validate() error {
	if !v.Shape.Valid() || len(v.Data) != v.Shape.Voxels() {
		return errors.Wrapf(ErrShapeMismatch, "volume holds %d voxels for shape %+v", len(v.Data), v.Shape)
	}
	return nil
}
