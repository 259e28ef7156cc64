// Package safetensors reads tensors from a safetensors archive: a
// little-endian header length, a JSON header mapping tensor names to dtype,
// shape, and byte offsets, followed by the raw tensor data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

type tensorMetadata struct {
	Type    string   `json:"dtype"`
	Shape   []uint64 `json:"shape"`
	Offsets []int64  `json:"data_offsets"`
}

// Model is an open safetensors archive. Tensor data is decoded lazily, one
// tensor per call, so only the tensors a model asks for are materialized.
type Model struct {
	path     string
	dataOff  int64
	metadata map[string]tensorMetadata
}

// Open parses the header of a safetensors archive.
func Open(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading header length: %w", err)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var metadata map[string]tensorMetadata
	if err := json.Unmarshal(b, &metadata); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	// "__metadata__" is free-form and not a tensor
	delete(metadata, "__metadata__")

	for name, md := range metadata {
		if md.Type != "" && len(md.Shape) == 0 {
			return nil, fmt.Errorf("tensor %q has no shape; quantized archives are unsupported", name)
		}
		if len(md.Offsets) != 2 || md.Offsets[1] < md.Offsets[0] {
			return nil, fmt.Errorf("tensor %q has invalid data offsets", name)
		}
	}

	return &Model{path: path, dataOff: 8 + n, metadata: metadata}, nil
}

// Names returns all tensor names in the archive, sorted.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.metadata))
	for name := range m.metadata {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether the archive contains the named tensor.
func (m *Model) Has(name string) bool {
	_, ok := m.metadata[name]
	return ok
}

// Shape returns the shape of the named tensor.
func (m *Model) Shape(name string) ([]int, error) {
	md, ok := m.metadata[name]
	if !ok {
		return nil, fmt.Errorf("tensor %q not found", name)
	}

	shape := make([]int, len(md.Shape))
	for i, d := range md.Shape {
		shape[i] = int(d)
	}
	return shape, nil
}

// Tensor reads and decodes the named tensor to float32, regardless of its
// on-disk dtype (F32, F16, or BF16).
func (m *Model) Tensor(name string) ([]float32, []int, error) {
	md, ok := m.metadata[name]
	if !ok {
		return nil, nil, fmt.Errorf("tensor %q not found", name)
	}

	f, err := os.Open(m.path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	if _, err := f.Seek(m.dataOff+md.Offsets[0], io.SeekStart); err != nil {
		return nil, nil, err
	}

	size := md.Offsets[1] - md.Offsets[0]

	var f32s []float32
	switch md.Type {
	case "F32":
		f32s = make([]float32, size/4)
		if err := binary.Read(f, binary.LittleEndian, f32s); err != nil {
			return nil, nil, err
		}
	case "F16":
		u16s := make([]uint16, size/2)
		if err := binary.Read(f, binary.LittleEndian, u16s); err != nil {
			return nil, nil, err
		}

		f32s = make([]float32, len(u16s))
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
	case "BF16":
		u8s := make([]uint8, size)
		if err := binary.Read(f, binary.LittleEndian, u8s); err != nil {
			return nil, nil, err
		}

		f32s = bfloat16.DecodeFloat32(u8s)
	default:
		return nil, nil, fmt.Errorf("tensor %q: unknown data type: %s", name, md.Type)
	}

	shape := make([]int, len(md.Shape))
	count := 1
	for i, d := range md.Shape {
		shape[i] = int(d)
		count *= int(d)
	}

	if count != len(f32s) {
		return nil, nil, fmt.Errorf("tensor %q: shape %v does not match %d elements", name, shape, len(f32s))
	}

	return f32s, shape, nil
}
