package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// plane is one slice of an intensity volume or a mask.
type plane[T float64 | bool] struct {
	rows, cols int
	data       []T
}

// window collects the values within radius of (r, c), clipped to the plane,
// into buf and returns it.
func (p plane[T]) window(r, c, radius int, buf []T) []T {
	buf = buf[:0]
	r0, r1 := max(r-radius, 0), min(r+radius, p.rows-1)
	c0, c1 := max(c-radius, 0), min(c+radius, p.cols-1)
	for y := r0; y <= r1; y++ {
		buf = append(buf, p.data[y*p.cols+c0:y*p.cols+c1+1]...)
	}
	return buf
}

// medianFilter writes the neighbourhood median of every pixel to dst.
func medianFilter(p plane[float64], radius int, dst []float64) {
	buf := make([]float64, 0, (2*radius+1)*(2*radius+1))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			buf = p.window(r, c, radius, buf)
			sort.Float64s(buf)
			dst[r*p.cols+c] = stat.Quantile(0.5, stat.Empirical, buf, nil)
		}
	}
}

// stdFilter writes the neighbourhood population standard deviation of every
// pixel to dst.
func stdFilter(p plane[float64], radius int, dst []float64) {
	buf := make([]float64, 0, (2*radius+1)*(2*radius+1))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			buf = p.window(r, c, radius, buf)
			_, std := stat.PopMeanStdDev(buf, nil)
			dst[r*p.cols+c] = std
		}
	}
}

// equalize writes the local histogram rank of every pixel, the fraction of its
// neighbourhood not brighter than itself, to dst.
func equalize(p plane[float64], radius int, dst []float64) {
	buf := make([]float64, 0, (2*radius+1)*(2*radius+1))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			buf = p.window(r, c, radius, buf)
			center := p.data[r*p.cols+c]
			n := 0
			for _, v := range buf {
				if v <= center {
					n++
				}
			}
			dst[r*p.cols+c] = float64(n) / float64(len(buf))
		}
	}
}

// gammaCorrect writes (x - offset)^(1/gamma) to dst. offset is the minimum of
// the stack so that the base is never negative.
func gammaCorrect(p plane[float64], gamma, offset float64, dst []float64) {
	inv := 1 / gamma
	for i, v := range p.data {
		dst[i] = math.Pow(v-offset, inv)
	}
}

// majorityFilter writes the binary median of every pixel to dst: a pixel is
// set when more than half of its clipped neighbourhood is set.
func majorityFilter(p plane[bool], radius int, dst []bool) {
	buf := make([]bool, 0, (2*radius+1)*(2*radius+1))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			buf = p.window(r, c, radius, buf)
			n := 0
			for _, set := range buf {
				if set {
					n++
				}
			}
			dst[r*p.cols+c] = 2*n > len(buf)
		}
	}
}
