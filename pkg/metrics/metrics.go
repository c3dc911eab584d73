// Package metrics scores a predicted segmentation mask against ground truth.
package metrics

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// Eps keeps the ratios defined when a denominator is zero.
const Eps = 1e-9

// Confusion holds the voxel counts of a binary comparison.
type Confusion struct {
	TP, FP, FN, TN int
}

// Compare counts agreement between truth and prediction.
func Compare(truth, pred models.Mask) (Confusion, error) {
	if err := truth.Validate(); err != nil {
		return Confusion{}, errors.Wrap(err, "ground truth")
	}
	if err := pred.Validate(); err != nil {
		return Confusion{}, errors.Wrap(err, "prediction")
	}
	if truth.Shape != pred.Shape {
		return Confusion{}, errors.Wrapf(models.ErrShapeMismatch,
			"ground truth %+v and prediction %+v must have the same shape", truth.Shape, pred.Shape)
	}
	var c Confusion
	for i, t := range truth.Data {
		p := pred.Data[i]
		switch {
		case t && p:
			c.TP++
		case !t && p:
			c.FP++
		case t && !p:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Dice returns 2TP / (2TP + FP + FN).
func (c Confusion) Dice() float64 {
	return 2 * float64(c.TP) / (2*float64(c.TP) + float64(c.FP+c.FN) + Eps)
}

// Precision returns TP / (TP + FP).
func (c Confusion) Precision() float64 {
	return float64(c.TP) / (float64(c.TP+c.FP) + Eps)
}

// Recall returns TP / (TP + FN).
func (c Confusion) Recall() float64 {
	return float64(c.TP) / (float64(c.TP+c.FN) + Eps)
}

// Specificity returns TN / (TN + FP).
func (c Confusion) Specificity() float64 {
	return float64(c.TN) / (float64(c.TN+c.FP) + Eps)
}

// Accuracy returns the fraction of voxels on which both masks agree.
func (c Confusion) Accuracy() float64 {
	total := c.TP + c.FP + c.FN + c.TN
	if total == 0 {
		return 0
	}
	return float64(c.TP+c.TN) / float64(total)
}

// Report is the evaluation of one prediction.
type Report struct {
	GroundTruth string
	Prediction  string
	Confusion   Confusion

	Dice        float64
	Recall      float64
	Precision   float64
	Specificity float64
	Accuracy    float64
}

// Evaluate scores pred against truth. The names label the report rows.
func Evaluate(truthName, predName string, truth, pred models.Mask) (Report, error) {
	c, err := Compare(truth, pred)
	if err != nil {
		return Report{}, err
	}
	return Report{
		GroundTruth: truthName,
		Prediction:  predName,
		Confusion:   c,
		Dice:        c.Dice(),
		Recall:      c.Recall(),
		Precision:   c.Precision(),
		Specificity: c.Specificity(),
		Accuracy:    c.Accuracy(),
	}, nil
}

var columns = []string{"ground truth", "prediction", "dice score", "recall", "precision", "specificity", "accuracy"}

func (r Report) row() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return []string{r.GroundTruth, r.Prediction, f(r.Dice), f(r.Recall), f(r.Precision), f(r.Specificity), f(r.Accuracy)}
}

// Render prints the reports as a table.
func Render(w io.Writer, reports ...Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	for _, r := range reports {
		table.Append(r.row())
	}
	table.Render()
}

// WriteCSV writes the reports with a header row.
func WriteCSV(w io.Writer, reports ...Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}
	for _, r := range reports {
		if err := cw.Write(r.row()); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}
