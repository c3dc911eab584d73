package centroids

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// magic identifies the binary centroid artifact.
var magic = [4]byte{'C', 'T', 'R', 'D'}

// maxValues bounds K*Channels of a table read from a stream.
const maxValues = 1 << 20

// Write serializes t as: magic, uint32 K, uint32 Channels, then K*Channels
// IEEE-754 float64 values, all little endian. Values round-trip bit-exactly.
func Write(w io.Writer, t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := w.Write(magic[:]); err != nil {
		return errors.Wrap(err, "failed to write centroid header")
	}
	header := [2]uint32{uint32(t.K), uint32(t.Channels)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "failed to write centroid header")
	}
	buf := make([]byte, 8*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write centroid values")
	}
	return nil
}

// Read parses a table written by Write.
func Read(r io.Reader) (Table, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Table{}, errors.Wrap(err, "failed to read centroid header")
	}
	if m != magic {
		return Table{}, errors.Errorf("not a centroid file (magic %q)", m[:])
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return Table{}, errors.Wrap(err, "failed to read centroid header")
	}
	if header[0] == 0 || header[1] == 0 {
		return Table{}, errors.Errorf("empty centroid table %dx%d", header[0], header[1])
	}
	if n := uint64(header[0]) * uint64(header[1]); n > maxValues {
		return Table{}, errors.Errorf("centroid table %dx%d exceeds %d values", header[0], header[1], maxValues)
	}
	k, c := int(header[0]), int(header[1])
	buf := make([]byte, 8*k*c)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Table{}, errors.Wrapf(err, "failed to read %dx%d centroid values", k, c)
	}
	t := Table{K: k, Channels: c, Data: make([]float64, k*c)}
	for i := range t.Data {
		t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return t, nil
}

// Save writes t to path, creating parent directories.
func Save(path string, t Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create centroid directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create centroid file")
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, t); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to flush centroid file")
	}
	return f.Close()
}

// Load reads a table saved by Save.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to open centroid file")
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

type yamlTable struct {
	Channels  int         `yaml:"channels"`
	Centroids [][]float64 `yaml:"centroids"`
}

// MarshalYAML renders the table as a human readable document.
func (t Table) MarshalYAML() (interface{}, error) {
	return yamlTable{Channels: t.Channels, Centroids: t.Rows()}, nil
}

// UnmarshalYAML parses the document produced by MarshalYAML.
func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	var y yamlTable
	if err := node.Decode(&y); err != nil {
		return err
	}
	parsed, err := New(y.Centroids)
	if err != nil {
		return err
	}
	if y.Channels != 0 && y.Channels != parsed.Channels {
		return errors.Errorf("declared %d channels, rows have %d", y.Channels, parsed.Channels)
	}
	*t = parsed
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveFile writes t as YAML when path ends in .yaml or .yml and in the
// binary format otherwise.
func SaveFile(path string, t Table) error {
	if !isYAML(path) {
		return Save(path, t)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal centroids")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create centroid directory")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "failed to write centroid file")
}

// LoadFile reads a table written by SaveFile.
func LoadFile(path string) (Table, error) {
	if !isYAML(path) {
		return Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to read centroid file")
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	return t, nil
}
