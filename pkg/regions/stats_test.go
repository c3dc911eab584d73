package regions

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"ctlungseg/internal/models"
)

func TestStats2D(t *testing.T) {
	mask := models.NewMask(models.Shape{Slices: 2, Rows: 10, Cols: 10})
	square(mask, 0, 2, 3, 4)
	square(mask, 0, 0, 8, 2)

	stats, err := NewAnalyzer(1).Stats2D(mask)
	if err != nil {
		t.Fatalf("Stats2D failed: %v", err)
	}
	want := []RegionStats{
		{Label: 1, Left: 8, Top: 0, Width: 2, Height: 2, Area: 4, Border: true},
		{Label: 2, Left: 3, Top: 2, Width: 4, Height: 4, Area: 16},
	}
	if diff := cmp.Diff(want, stats[0]); diff != "" {
		t.Errorf("Slice 0 stats mismatch (-want +got):\n%s", diff)
	}
	if len(stats[1]) != 0 {
		t.Errorf("Expected no regions in slice 1, got %v", stats[1])
	}
}

func TestROIAndSelectSlices(t *testing.T) {
	mask := models.NewMask(models.Shape{Slices: 3, Rows: 20, Cols: 20})
	square(mask, 0, 0, 0, 3)
	square(mask, 0, 10, 10, 5)
	square(mask, 1, 5, 5, 2)

	a := NewAnalyzer(1)
	stats, _ := a.Stats2D(mask)

	roi, ok := a.ROI(stats[0])
	if !ok {
		t.Fatalf("Expected a region of interest in slice 0")
	}
	if diff := cmp.Diff(Rect{Left: 0, Top: 0, Right: 15, Bottom: 15}, roi); diff != "" {
		t.Errorf("ROI mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a.ROI(stats[2]); ok {
		t.Errorf("Expected no region of interest in an empty slice")
	}

	a.Background = BackgroundBorder
	roi, _ = a.ROI(stats[0])
	if diff := cmp.Diff(Rect{Left: 10, Top: 10, Right: 15, Bottom: 15}, roi); diff != "" {
		t.Errorf("Border ROI mismatch (-want +got):\n%s", diff)
	}

	a.Background = BackgroundIndexZero
	selected, err := a.SelectSlices(mask, 4)
	if err != nil {
		t.Fatalf("SelectSlices failed: %v", err)
	}
	if diff := cmp.Diff([]int{0}, selected); diff != "" {
		t.Errorf("Selected slices mismatch (-want +got):\n%s", diff)
	}
}
