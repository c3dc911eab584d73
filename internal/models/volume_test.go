package models

import (
	"errors"
	"testing"
)

func TestShapeIndex(t *testing.T) {
	s := Shape{Slices: 3, Rows: 4, Cols: 5}
	if s.Voxels() != 60 {
		t.Errorf("Expected 60 voxels, got %d", s.Voxels())
	}
	if got := s.Index(2, 3, 4); got != 59 {
		t.Errorf("Expected last index 59, got %d", got)
	}
	if got := s.Index(1, 0, 0); got != 20 {
		t.Errorf("Expected slice stride 20, got %d", got)
	}
}

func TestFeatureTensorValidate(t *testing.T) {
	ft := NewFeatureTensor(Shape{Slices: 2, Rows: 2, Cols: 2}, 3)
	if err := ft.Validate(); err != nil {
		t.Fatalf("Expected valid tensor, got %v", err)
	}
	ft.Vector(7)[2] = 1.5
	if ft.Data[23] != 1.5 {
		t.Errorf("Vector should alias the last channel of the last voxel")
	}

	ft.Data = ft.Data[:10]
	if err := ft.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestMaskFromValues(t *testing.T) {
	shape := Shape{Slices: 1, Rows: 2, Cols: 2}
	m, err := MaskFromValues(shape, []int32{0, 1, 255, 0})
	if err != nil {
		t.Fatalf("MaskFromValues failed: %v", err)
	}
	if m.Count() != 2 || !m.Data[1] || !m.Data[2] {
		t.Errorf("Unexpected mask %v", m.Data)
	}

	if _, err := MaskFromValues(shape, []int32{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for short input, got %v", err)
	}
}

func TestVolumeSliceAndValidate(t *testing.T) {
	v := NewVolume(Shape{Slices: 2, Rows: 2, Cols: 3})
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	if s := v.Slice(1); len(s) != 6 || s[0] != 6 {
		t.Errorf("Expected slice 1 to start at value 6, got %v", s)
	}
	if err := v.Validate(); err != nil {
		t.Errorf("Expected a valid volume, got %v", err)
	}
	v.Data = v.Data[:4]
	if err := v.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestShapeValidRejectsOverflow(t *testing.T) {
	cases := []struct {
		name  string
		shape Shape
		want  bool
	}{
		{"ct stack", Shape{Slices: 600, Rows: 512, Cols: 512}, true},
		{"at the limit", Shape{Slices: 1, Rows: 1 << 15, Cols: 1 << 15}, true},
		{"zero slices", Shape{Slices: 0, Rows: 4, Cols: 4}, false},
		{"negative cols", Shape{Slices: 1, Rows: 4, Cols: -4}, false},
		{"wrapping product", Shape{Slices: 1 << 31, Rows: 1 << 31, Cols: 1 << 31}, false},
		{"huge plane", Shape{Slices: 1, Rows: 1 << 31, Cols: 1 << 31}, false},
		{"too many slices", Shape{Slices: 1 << 20, Rows: 1 << 10, Cols: 1 << 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.shape.Valid(); got != tc.want {
				t.Errorf("Expected Valid()=%v for %+v, got %v", tc.want, tc.shape, got)
			}
		})
	}

	v := Volume{Shape: Shape{Slices: 1 << 31, Rows: 1 << 31, Cols: 1 << 31}}
	if err := v.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for an overflowing shape, got %v", err)
	}

	ft := FeatureTensor{Shape: Shape{Slices: 1, Rows: 1 << 15, Cols: 1 << 15}, Channels: 4}
	if err := ft.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for too many feature values, got %v", err)
	}
}
