// Package visualization renders CT slices, segmentation masks and label
// volumes as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
	"ctlungseg/pkg/regions"
)

// Lung window in Hounsfield units.
const (
	DefaultWindowLow  = -1000.0
	DefaultWindowHigh = 400.0
)

// Palette colours label indices; label i uses Palette[i%len(Palette)].
var Palette = []color.NRGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

// OverlayColor tints the foreground of a mask overlay.
var OverlayColor = color.NRGBA{R: 0xff, A: 0xff}

// Viewer extracts grayscale views of an intensity volume. Intensities are
// mapped linearly from [low, high] to black..white and clamped outside.
type Viewer struct {
	volume models.Volume
	low    float64
	high   float64
}

// NewViewer returns a viewer using the given intensity window.
func NewViewer(vol models.Volume, low, high float64) (*Viewer, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if high <= low {
		return nil, errors.Wrapf(models.ErrConfiguration, "empty intensity window [%g, %g]", low, high)
	}
	return &Viewer{volume: vol, low: low, high: high}, nil
}

func (v *Viewer) gray(value float64) color.Gray16 {
	t := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(1, t)) * 65535)}
}

// axisLength returns the number of positions along axis.
func axisLength(shape models.Shape, axis string) (int, error) {
	switch axis {
	case "x", "X":
		return shape.Cols, nil
	case "y", "Y":
		return shape.Rows, nil
	case "z", "Z":
		return shape.Slices, nil
	default:
		return 0, errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice returns the plane at position along axis: x gives a
// (slice, row) plane, y a (col, slice) plane and z an axial (col, row) slice.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	sh := v.volume.Shape
	n, err := axisLength(sh, axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, errors.Errorf("position %d outside [0, %d) on axis %s", position, n, axis)
	}

	var img *image.Gray16
	switch axis {
	case "x", "X":
		img = image.NewGray16(image.Rect(0, 0, sh.Slices, sh.Rows))
		for r := 0; r < sh.Rows; r++ {
			for s := 0; s < sh.Slices; s++ {
				img.SetGray16(s, r, v.gray(v.volume.Data[sh.Index(s, r, position)]))
			}
		}
	case "y", "Y":
		img = image.NewGray16(image.Rect(0, 0, sh.Cols, sh.Slices))
		for s := 0; s < sh.Slices; s++ {
			for c := 0; c < sh.Cols; c++ {
				img.SetGray16(c, s, v.gray(v.volume.Data[sh.Index(s, position, c)]))
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, sh.Cols, sh.Rows))
		for r := 0; r < sh.Rows; r++ {
			for c := 0; c < sh.Cols; c++ {
				img.SetGray16(c, r, v.gray(v.volume.Data[sh.Index(position, r, c)]))
			}
		}
	}
	return img, nil
}

// RenderOverlay returns axial slice s with the foreground of mask blended in
// OverlayColor at the given opacity.
func (v *Viewer) RenderOverlay(s int, mask models.Mask, opacity float64) (*image.NRGBA, error) {
	if mask.Shape != v.volume.Shape {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "mask %+v does not match volume %+v", mask.Shape, v.volume.Shape)
	}
	base, err := v.ExtractSlice("z", s)
	if err != nil {
		return nil, err
	}
	out := imaging.Clone(base)
	cols := mask.Shape.Cols
	for i, set := range mask.Slice(s) {
		if !set {
			continue
		}
		x, y := i%cols, i/cols
		out.SetNRGBA(x, y, blend(out.NRGBAAt(x, y), OverlayColor, opacity))
	}
	return out, nil
}

func blend(under, over color.NRGBA, alpha float64) color.NRGBA {
	mix := func(a, b uint8) uint8 { return uint8(float64(a)*(1-alpha) + float64(b)*alpha + 0.5) }
	return color.NRGBA{R: mix(under.R, over.R), G: mix(under.G, over.G), B: mix(under.B, over.B), A: 0xff}
}

// RenderLabels returns axial slice s of a label volume in Palette colours.
// Unassigned voxels are black.
func RenderLabels(labels models.LabelVolume, s int) (*image.NRGBA, error) {
	sh := labels.Shape
	if s < 0 || s >= sh.Slices {
		return nil, errors.Errorf("slice %d outside [0, %d)", s, sh.Slices)
	}
	img := image.NewNRGBA(image.Rect(0, 0, sh.Cols, sh.Rows))
	for r := 0; r < sh.Rows; r++ {
		for c := 0; c < sh.Cols; c++ {
			l := labels.Data[sh.Index(s, r, c)]
			if l < 0 {
				img.SetNRGBA(c, r, color.NRGBA{A: 0xff})
				continue
			}
			img.SetNRGBA(c, r, Palette[int(l)%len(Palette)])
		}
	}
	return img, nil
}

// RenderMask returns axial slice s of a mask in black and white.
func RenderMask(mask models.Mask, s int) (*image.Gray, error) {
	sh := mask.Shape
	if s < 0 || s >= sh.Slices {
		return nil, errors.Errorf("slice %d outside [0, %d)", s, sh.Slices)
	}
	img := image.NewGray(image.Rect(0, 0, sh.Cols, sh.Rows))
	for i, set := range mask.Slice(s) {
		if set {
			img.Pix[i] = 0xff
		}
	}
	return img, nil
}

// Crop returns the part of img inside roi.
func Crop(img image.Image, roi regions.Rect) *image.NRGBA {
	return imaging.Crop(img, image.Rect(roi.Left, roi.Top, roi.Right, roi.Bottom))
}

// CropVolume copies the sub-volume of vol covering roi in slices [fromSlice, toSlice).
func CropVolume(vol models.Volume, roi regions.Rect, fromSlice, toSlice int) (models.Volume, error) {
	sh := vol.Shape
	if roi.Left < 0 || roi.Top < 0 || fromSlice < 0 {
		return models.Volume{}, errors.Errorf("start coordinates must be non-negative")
	}
	if roi.Right <= roi.Left || roi.Bottom <= roi.Top || toSlice <= fromSlice {
		return models.Volume{}, errors.Errorf("size dimensions must be positive")
	}
	if roi.Right > sh.Cols || roi.Bottom > sh.Rows || toSlice > sh.Slices {
		return models.Volume{}, errors.Errorf("region extends beyond volume boundaries")
	}

	out := models.NewVolume(models.Shape{
		Slices: toSlice - fromSlice,
		Rows:   roi.Bottom - roi.Top,
		Cols:   roi.Right - roi.Left,
	})
	for s := 0; s < out.Shape.Slices; s++ {
		for r := 0; r < out.Shape.Rows; r++ {
			src := sh.Index(fromSlice+s, roi.Top+r, roi.Left)
			copy(out.Data[out.Shape.Index(s, r, 0):out.Shape.Index(s, r, 0)+out.Shape.Cols], vol.Data[src:src+out.Shape.Cols])
		}
	}
	return out, nil
}

// SaveSlice writes img to filename; the format follows the extension.
func SaveSlice(img image.Image, filename string) error {
	if err := imaging.Save(img, filename); err != nil {
		return errors.Wrapf(err, "failed to save %s", filename)
	}
	return nil
}

// SaveSliceSequence writes every plane along axis to outputDir as PNG files.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	n, err := axisLength(v.volume.Shape, axis)
	if err != nil {
		return err
	}
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// SaveOverlaySequence writes an overlay PNG per axial slice holding any
// foreground voxel.
func (v *Viewer) SaveOverlaySequence(mask models.Mask, opacity float64, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}
	written := 0
	for s := 0; s < mask.Shape.Slices; s++ {
		if !anySet(mask.Slice(s)) {
			continue
		}
		img, err := v.RenderOverlay(s, mask, opacity)
		if err != nil {
			return written, err
		}
		if err := SaveSlice(img, filepath.Join(outputDir, fmt.Sprintf("overlay_%03d.png", s))); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func anySet(values []bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
