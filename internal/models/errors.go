package models

import "github.com/pkg/errors"

var (
	// ErrConfiguration reports invalid parameters such as k larger than a
	// subsample, a non-positive subsample count or an empty population.
	ErrConfiguration = errors.New("configuration error")

	// ErrShapeMismatch reports a channel count or spatial shape disagreement
	// between a feature tensor, a centroid table and a mask.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDegenerateInput reports a selection request on a mask without any
	// foreground voxel. It is only returned by analyzers running in strict mode.
	ErrDegenerateInput = errors.New("degenerate input")
)
