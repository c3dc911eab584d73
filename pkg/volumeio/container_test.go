package volumeio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ctlungseg/internal/models"
)

var testShape = models.Shape{Slices: 2, Rows: 3, Cols: 4}

func TestContainerFiles(t *testing.T) {
	dir := t.TempDir()

	vol := models.NewVolume(testShape)
	for i := range vol.Data {
		vol.Data[i] = float64(i)*1.5 - 1000
	}
	ft := models.NewFeatureTensor(testShape, 4)
	for i := range ft.Data {
		ft.Data[i] = float64(i) / 7
	}
	mask := models.NewMask(testShape)
	mask.Data[3], mask.Data[17] = true, true
	labels := models.NewLabelVolume(testShape, models.Unassigned)
	labels.Data[0], labels.Data[5] = 3, 0

	for name, suffix := range map[string]string{"plain": "", "compressed": ".gz"} {
		t.Run(name, func(t *testing.T) {
			base := filepath.Join(dir, name)

			if err := SaveVolume(base+".vol"+suffix, vol); err != nil {
				t.Fatalf("SaveVolume failed: %v", err)
			}
			gotVol, err := LoadVolume(base+".vol"+suffix)
			if err != nil {
				t.Fatalf("LoadVolume failed: %v", err)
			}
			if diff := cmp.Diff(vol, gotVol); diff != "" {
				t.Errorf("Volume mismatch (-want +got):\n%s", diff)
			}

			if err := SaveFeatures(base+".ft"+suffix, ft); err != nil {
				t.Fatalf("SaveFeatures failed: %v", err)
			}
			gotFt, err := LoadFeatures(base+".ft"+suffix)
			if err != nil {
				t.Fatalf("LoadFeatures failed: %v", err)
			}
			if diff := cmp.Diff(ft, gotFt); diff != "" {
				t.Errorf("Features mismatch (-want +got):\n%s", diff)
			}

			if err := SaveMask(base+".mask"+suffix, mask); err != nil {
				t.Fatalf("SaveMask failed: %v", err)
			}
			gotMask, err := LoadMask(base+".mask"+suffix)
			if err != nil {
				t.Fatalf("LoadMask failed: %v", err)
			}
			if diff := cmp.Diff(mask, gotMask); diff != "" {
				t.Errorf("Mask mismatch (-want +got):\n%s", diff)
			}

			if err := SaveLabels(base+".lbl"+suffix, labels); err != nil {
				t.Fatalf("SaveLabels failed: %v", err)
			}
			gotLabels, err := LoadLabels(base+".lbl"+suffix)
			if err != nil {
				t.Fatalf("LoadLabels failed: %v", err)
			}
			if diff := cmp.Diff(labels, gotLabels); diff != "" {
				t.Errorf("Labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadRejectsWrongKind(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMask(&buf, models.NewMask(testShape)); err != nil {
		t.Fatalf("WriteMask failed: %v", err)
	}
	if _, err := ReadVolume(&buf); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch reading a mask as a volume, got %v", err)
	}

	if _, err := ReadMask(bytes.NewReader([]byte("not a container at all"))); err == nil {
		t.Errorf("Expected an error for a bad magic")
	}

	buf.Reset()
	_ = WriteMask(&buf, models.NewMask(testShape))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	if _, err := ReadMask(truncated); err == nil {
		t.Errorf("Expected an error for a truncated payload")
	}
}

func TestReadRejectsOversizedHeader(t *testing.T) {
	cases := []struct {
		name string
		h    header
	}{
		{"wrapping voxel count", header{Magic: magic, Version: version, Kind: KindVolume, Slices: 1 << 31, Rows: 1 << 31, Cols: 1 << 31, Channels: 1}},
		{"max dims", header{Magic: magic, Version: version, Kind: KindVolume, Slices: math.MaxUint32, Rows: math.MaxUint32, Cols: math.MaxUint32, Channels: 1}},
		{"too many channels", header{Magic: magic, Version: version, Kind: KindFeatures, Slices: 1, Rows: 1 << 15, Cols: 1 << 15, Channels: 1 << 20}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := binary.Write(&buf, binary.LittleEndian, tc.h); err != nil {
				t.Fatalf("binary.Write failed: %v", err)
			}
			var err error
			if tc.h.Kind == KindFeatures {
				_, err = ReadFeatures(&buf)
			} else {
				_, err = ReadVolume(&buf)
			}
			if !errors.Is(err, models.ErrShapeMismatch) {
				t.Errorf("Expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}
