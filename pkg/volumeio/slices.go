package volumeio

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"ctlungseg/internal/models"
)

// SliceExtensions lists the image formats LoadSlices decodes.
var SliceExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}

// SliceLoader reads a CT stack stored as one grayscale image per slice.
// Pixel values are read at 16-bit depth and mapped to Scale*v + Intercept,
// so a 16-bit export with a -1024 intercept yields Hounsfield units.
type SliceLoader struct {
	Scale     float64
	Intercept float64
}

// NewSliceLoader returns a loader mapping 16-bit pixels to Hounsfield units.
func NewSliceLoader() *SliceLoader {
	return &SliceLoader{Scale: 1, Intercept: -1024}
}

// Load reads every slice image of dir, ordered by the number in its file name.
// All slices must share the same dimensions.
func (l *SliceLoader) Load(dir string) (models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.Volume{}, errors.Wrapf(err, "failed to read slice directory %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range SliceExtensions {
			if ext == want {
				files = append(files, e.Name())
				break
			}
		}
	}
	if len(files) == 0 {
		return models.Volume{}, errors.Errorf("no slice images found in %s", dir)
	}

	// Anatomical order follows the slice number embedded in the file name.
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var vol models.Volume
	for s, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return models.Volume{}, errors.Wrapf(err, "failed to load slice %s", name)
		}
		b := img.Bounds()
		if s == 0 {
			vol = models.NewVolume(models.Shape{Slices: len(files), Rows: b.Dy(), Cols: b.Dx()})
		} else if b.Dx() != vol.Shape.Cols || b.Dy() != vol.Shape.Rows {
			return models.Volume{}, errors.Wrapf(models.ErrShapeMismatch,
				"slice %s is %dx%d, expected %dx%d", name, b.Dx(), b.Dy(), vol.Shape.Cols, vol.Shape.Rows)
		}
		l.imageToFloat(img, vol.Slice(s))
	}
	return vol, nil
}

// extractNumber returns the digits of a file name as an integer, 0 if none.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (l *SliceLoader) imageToFloat(img image.Image, dst []float64) {
	b := img.Bounds()
	width := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			dst[y*width+x] = l.Scale*float64(g.Y) + l.Intercept
		}
	}
}
