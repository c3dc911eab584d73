package metrics

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"ctlungseg/internal/models"
)

func maskOf(values ...int32) models.Mask {
	m, _ := models.MaskFromValues(models.Shape{Slices: 1, Rows: 1, Cols: len(values)}, values)
	return m
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestEvaluate(t *testing.T) {
	truth := maskOf(1, 1, 1, 0, 0, 0, 0, 1)
	pred := maskOf(1, 1, 0, 1, 0, 0, 0, 0)

	r, err := Evaluate("gt", "pred", truth, pred)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := Confusion{TP: 2, FP: 1, FN: 2, TN: 3}
	if r.Confusion != want {
		t.Errorf("Expected %+v, got %+v", want, r.Confusion)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"dice", r.Dice, 4.0 / 7.0},
		{"precision", r.Precision, 2.0 / 3.0},
		{"recall", r.Recall, 0.5},
		{"specificity", r.Specificity, 0.75},
		{"accuracy", r.Accuracy, 5.0 / 8.0},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s: expected %g, got %g", c.name, c.want, c.got)
		}
	}
}

func TestEvaluateIdenticalAndEmpty(t *testing.T) {
	m := maskOf(0, 1, 1, 0)
	r, _ := Evaluate("a", "b", m, m)
	if !approx(r.Dice, 1) || !approx(r.Accuracy, 1) {
		t.Errorf("Identical masks should score 1, got dice %g accuracy %g", r.Dice, r.Accuracy)
	}

	empty := maskOf(0, 0, 0)
	r, err := Evaluate("a", "b", empty, empty)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if r.Dice != 0 || r.Precision != 0 || math.IsNaN(r.Recall) {
		t.Errorf("Empty masks must not divide by zero, got %+v", r)
	}
}

func TestEvaluateShapeMismatch(t *testing.T) {
	if _, err := Evaluate("a", "b", maskOf(1, 0), maskOf(1, 0, 1)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestReportOutput(t *testing.T) {
	r, _ := Evaluate("truth.mask", "pred.mask", maskOf(1, 0), maskOf(1, 1))

	var csvOut bytes.Buffer
	if err := WriteCSV(&csvOut, r); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %q", csvOut.String())
	}
	if !strings.HasPrefix(lines[1], "truth.mask,pred.mask,0.666667,") {
		t.Errorf("Unexpected csv row %q", lines[1])
	}

	var table bytes.Buffer
	Render(&table, r)
	if !strings.Contains(table.String(), "pred.mask") {
		t.Errorf("Rendered table misses the prediction name:\n%s", table.String())
	}
}
