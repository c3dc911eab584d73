// Package volumeio reads and writes the binary volume container used between
// the command line stages, and loads CT stacks from directories of slice images.
//
// A container file holds a fixed header followed by little-endian payload:
//
//	magic    [4]byte  "CTVL"
//	version  uint16
//	kind     uint8    (Kind)
//	reserved uint8
//	slices   uint32
//	rows     uint32
//	cols     uint32
//	channels uint32   (1 unless kind is KindFeatures)
//
// Files whose name ends in ".gz" are gzip-compressed.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// Kind identifies the payload of a container.
type Kind uint8

const (
	KindVolume   Kind = 1 // float64 intensities
	KindFeatures Kind = 2 // float64 feature vectors
	KindMask     Kind = 3 // one byte per voxel, 0 or 1
	KindLabels   Kind = 4 // int32 labels, -1 for unassigned
)

func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindFeatures:
		return "features"
	case KindMask:
		return "mask"
	case KindLabels:
		return "labels"
	default:
		return "unknown"
	}
}

const version = 1

var magic = [4]byte{'C', 'T', 'V', 'L'}

type header struct {
	Magic    [4]byte
	Version  uint16
	Kind     Kind
	Reserved uint8
	Slices   uint32
	Rows     uint32
	Cols     uint32
	Channels uint32
}

func (h header) shape() models.Shape {
	return models.Shape{Slices: int(h.Slices), Rows: int(h.Rows), Cols: int(h.Cols)}
}

func newHeader(kind Kind, shape models.Shape, channels int) header {
	return header{
		Magic:    magic,
		Version:  version,
		Kind:     kind,
		Slices:   uint32(shape.Slices),
		Rows:     uint32(shape.Rows),
		Cols:     uint32(shape.Cols),
		Channels: uint32(channels),
	}
}

// readHeader reads and checks a header of the expected kind.
func readHeader(r io.Reader, want Kind) (header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return header{}, errors.Wrap(err, "failed to read container header")
	}
	if h.Magic != magic {
		return header{}, errors.Errorf("not a volume container (magic %q)", h.Magic[:])
	}
	if h.Version != version {
		return header{}, errors.Errorf("unsupported container version %d", h.Version)
	}
	if h.Kind != want {
		return header{}, errors.Wrapf(models.ErrShapeMismatch, "container holds %s, expected %s", h.Kind, want)
	}
	if !h.shape().Valid() || h.Channels == 0 || uint64(h.Channels) > uint64(models.MaxVoxels/h.shape().Voxels()) {
		return header{}, errors.Wrapf(models.ErrShapeMismatch, "invalid container shape %+v x %d", h.shape(), h.Channels)
	}
	return h, nil
}

// WriteVolume encodes an intensity volume.
func WriteVolume(w io.Writer, v models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return writeFloats(w, newHeader(KindVolume, v.Shape, 1), v.Data)
}

// ReadVolume decodes an intensity volume.
func ReadVolume(r io.Reader) (models.Volume, error) {
	h, err := readHeader(r, KindVolume)
	if err != nil {
		return models.Volume{}, err
	}
	v := models.NewVolume(h.shape())
	if err := readFloats(r, v.Data); err != nil {
		return models.Volume{}, err
	}
	return v, nil
}

// WriteFeatures encodes a feature tensor.
func WriteFeatures(w io.Writer, ft models.FeatureTensor) error {
	if err := ft.Validate(); err != nil {
		return err
	}
	return writeFloats(w, newHeader(KindFeatures, ft.Shape, ft.Channels), ft.Data)
}

// ReadFeatures decodes a feature tensor.
func ReadFeatures(r io.Reader) (models.FeatureTensor, error) {
	h, err := readHeader(r, KindFeatures)
	if err != nil {
		return models.FeatureTensor{}, err
	}
	ft := models.NewFeatureTensor(h.shape(), int(h.Channels))
	if err := readFloats(r, ft.Data); err != nil {
		return models.FeatureTensor{}, err
	}
	return ft, nil
}

// WriteMask encodes a binary mask.
func WriteMask(w io.Writer, m models.Mask) error {
	if err := m.Validate(); err != nil {
		return err
	}
	buf := make([]byte, len(m.Data))
	for i, v := range m.Data {
		if v {
			buf[i] = 1
		}
	}
	if err := binary.Write(w, binary.LittleEndian, newHeader(KindMask, m.Shape, 1)); err != nil {
		return errors.Wrap(err, "failed to write container header")
	}
	_, err := w.Write(buf)
	return errors.Wrap(err, "failed to write mask")
}

// ReadMask decodes a binary mask. Any non-zero byte is foreground.
func ReadMask(r io.Reader) (models.Mask, error) {
	h, err := readHeader(r, KindMask)
	if err != nil {
		return models.Mask{}, err
	}
	m := models.NewMask(h.shape())
	buf := make([]byte, len(m.Data))
	if _, err := io.ReadFull(r, buf); err != nil {
		return models.Mask{}, errors.Wrap(err, "failed to read mask")
	}
	for i, b := range buf {
		m.Data[i] = b != 0
	}
	return m, nil
}

// WriteLabels encodes a label volume.
func WriteLabels(w io.Writer, lv models.LabelVolume) error {
	if !lv.Shape.Valid() || len(lv.Data) != lv.Shape.Voxels() {
		return errors.Wrapf(models.ErrShapeMismatch, "label volume holds %d voxels for shape %+v", len(lv.Data), lv.Shape)
	}
	if err := binary.Write(w, binary.LittleEndian, newHeader(KindLabels, lv.Shape, 1)); err != nil {
		return errors.Wrap(err, "failed to write container header")
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, lv.Data), "failed to write labels")
}

// ReadLabels decodes a label volume.
func ReadLabels(r io.Reader) (models.LabelVolume, error) {
	h, err := readHeader(r, KindLabels)
	if err != nil {
		return models.LabelVolume{}, err
	}
	lv := models.NewLabelVolume(h.shape(), 0)
	if err := binary.Read(r, binary.LittleEndian, lv.Data); err != nil {
		return models.LabelVolume{}, errors.Wrap(err, "failed to read labels")
	}
	return lv, nil
}

func writeFloats(w io.Writer, h header, data []float64) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return errors.Wrap(err, "failed to write container header")
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return errors.Wrap(err, "failed to write payload")
}

func readFloats(r io.Reader, dst []float64) error {
	buf := make([]byte, 8*len(dst))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrap(err, "failed to read payload")
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

// create opens path for writing, compressing when the name ends in ".gz".
// The returned close function flushes every layer.
func create(path string) (io.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		bw := bufio.NewWriter(f)
		return bw, func() error {
			if err := bw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}, nil
	}
	zw := pgzip.NewWriter(f)
	return zw, func() error {
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// open opens path for reading, decompressing when the name ends in ".gz".
func open(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return bufio.NewReader(f), f.Close, nil
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "failed to decompress %s", path)
	}
	return zr, func() error {
		zr.Close()
		return f.Close()
	}, nil
}

func save(path string, encode func(io.Writer) error) (err error) {
	w, closeFn, err := create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "failed to close %s", path)
		}
	}()
	return errors.Wrapf(encode(w), "failed to write %s", path)
}

func load(path string, decode func(io.Reader) error) error {
	r, closeFn, err := open(path)
	if err != nil {
		return err
	}
	defer closeFn()
	return errors.Wrapf(decode(r), "failed to read %s", path)
}

// SaveVolume writes v to path.
func SaveVolume(path string, v models.Volume) error {
	return save(path, func(w io.Writer) error { return WriteVolume(w, v) })
}

// LoadVolume reads an intensity volume from path.
func LoadVolume(path string) (v models.Volume, err error) {
	err = load(path, func(r io.Reader) (e error) { v, e = ReadVolume(r); return })
	return v, err
}

// SaveFeatures writes ft to path.
func SaveFeatures(path string, ft models.FeatureTensor) error {
	return save(path, func(w io.Writer) error { return WriteFeatures(w, ft) })
}

// LoadFeatures reads a feature tensor from path.
func LoadFeatures(path string) (ft models.FeatureTensor, err error) {
	err = load(path, func(r io.Reader) (e error) { ft, e = ReadFeatures(r); return })
	return ft, err
}

// SaveMask writes m to path.
func SaveMask(path string, m models.Mask) error {
	return save(path, func(w io.Writer) error { return WriteMask(w, m) })
}

// LoadMask reads a binary mask from path.
func LoadMask(path string) (m models.Mask, err error) {
	err = load(path, func(r io.Reader) (e error) { m, e = ReadMask(r); return })
	return m, err
}

// SaveLabels writes lv to path.
func SaveLabels(path string, lv models.LabelVolume) error {
	return save(path, func(w io.Writer) error { return WriteLabels(w, lv) })
}

// LoadLabels reads a label volume from path.
func LoadLabels(path string) (lv models.LabelVolume, err error) {
	err = load(path, func(r io.Reader) (e error) { lv, e = ReadLabels(r); return })
	return lv, err
}
