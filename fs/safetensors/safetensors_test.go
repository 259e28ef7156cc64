package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"
)

type testTensor struct {
	dtype string
	shape []int
	data  []float32
}

// writeArchive assembles a safetensors file from float32 source values,
// encoding each tensor in its declared on-disk dtype.
func writeArchive(t *testing.T, tensors map[string]testTensor) string {
	t.Helper()

	header := make(map[string]any)
	var body []byte

	for name, tt := range tensors {
		start := len(body)
		for _, v := range tt.data {
			switch tt.dtype {
			case "F32":
				body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
			case "F16":
				body = binary.LittleEndian.AppendUint16(body, float16.Fromfloat32(v).Bits())
			case "BF16":
				// bfloat16 is the upper half of the float32 bit pattern
				body = binary.LittleEndian.AppendUint16(body, uint16(math.Float32bits(v)>>16))
			default:
				t.Fatalf("unknown test dtype %q", tt.dtype)
			}
		}

		header[name] = map[string]any{
			"dtype":        tt.dtype,
			"shape":        tt.shape,
			"data_offsets": []int{start, len(body)},
		}
	}

	hb, err := json.Marshal(header)
	if err != nil {
		t.Fatal(err)
	}

	var file []byte
	file = binary.LittleEndian.AppendUint64(file, uint64(len(hb)))
	file = append(file, hb...)
	file = append(file, body...)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAndTensor(t *testing.T) {
	want := []float32{1, -2, 0.5, 4, -8, 16}
	for _, dtype := range []string{"F32", "F16", "BF16"} {
		t.Run(dtype, func(t *testing.T) {
			path := writeArchive(t, map[string]testTensor{
				"w": {dtype: dtype, shape: []int{2, 3}, data: want},
			})

			m, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			if !m.Has("w") || m.Has("missing") {
				t.Error("Has reports wrong membership")
			}

			data, shape, err := m.Tensor("w")
			if err != nil {
				t.Fatalf("Tensor: %v", err)
			}

			if diff := cmp.Diff([]int{2, 3}, shape); diff != "" {
				t.Errorf("shape (-want +got):\n%s", diff)
			}
			// The test values are exactly representable in every dtype.
			if diff := cmp.Diff(want, data); diff != "" {
				t.Errorf("data (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNamesSorted(t *testing.T) {
	path := writeArchive(t, map[string]testTensor{
		"b": {dtype: "F32", shape: []int{1}, data: []float32{1}},
		"a": {dtype: "F32", shape: []int{1}, data: []float32{2}},
		"c": {dtype: "F32", shape: []int{1}, data: []float32{3}},
	})

	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, m.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestTensorErrors(t *testing.T) {
	path := writeArchive(t, map[string]testTensor{
		"w": {dtype: "F32", shape: []int{4}, data: []float32{1, 2, 3, 4}},
	})

	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.Tensor("missing"); err == nil {
		t.Error("expected error for missing tensor")
	}
	if _, err := m.Shape("missing"); err == nil {
		t.Error("expected error for missing tensor shape")
	}
}

func TestOpenRejectsBadArchives(t *testing.T) {
	t.Run("shape element mismatch", func(t *testing.T) {
		// Declared shape says 3 elements but the data holds 4.
		path := writeArchive(t, map[string]testTensor{
			"w": {dtype: "F32", shape: []int{3}, data: []float32{1, 2, 3, 4}},
		})

		m, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := m.Tensor("w"); err == nil {
			t.Error("expected element count error")
		}
	})

	t.Run("unknown dtype", func(t *testing.T) {
		path := writeArchive(t, map[string]testTensor{
			"w": {dtype: "F32", shape: []int{1}, data: []float32{1}},
		})
		// Rewrite the header with an unsupported dtype.
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		n := binary.LittleEndian.Uint64(b[:8])
		hdr := make(map[string]tensorMetadata)
		if err := json.Unmarshal(b[8:8+n], &hdr); err != nil {
			t.Fatal(err)
		}
		md := hdr["w"]
		md.Type = "I64"
		hdr["w"] = md
		hb, _ := json.Marshal(hdr)
		if len(hb) > int(n) {
			t.Fatalf("rewritten header grew from %d to %d bytes", n, len(hb))
		}
		// Pad with spaces, which JSON parsing tolerates.
		for len(hb) < int(n) {
			hb = append(hb, ' ')
		}
		copy(b[8:], hb)
		if err := os.WriteFile(path, b, 0o644); err != nil {
			t.Fatal(err)
		}

		m, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := m.Tensor("w"); err == nil {
			t.Error("expected unknown dtype error")
		}
	})

	t.Run("truncated file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.safetensors")
		if err := os.WriteFile(path, []byte{1, 2}, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); err == nil {
			t.Error("expected header read error")
		}
	})
}

func TestMetadataEntryIgnored(t *testing.T) {
	header := map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"w": map[string]any{
			"dtype":        "F32",
			"shape":        []int{1},
			"data_offsets": []int{0, 4},
		},
	}
	hb, err := json.Marshal(header)
	if err != nil {
		t.Fatal(err)
	}

	var file []byte
	file = binary.LittleEndian.AppendUint64(file, uint64(len(hb)))
	file = append(file, hb...)
	file = binary.LittleEndian.AppendUint32(file, math.Float32bits(42))

	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if diff := cmp.Diff([]string{"w"}, m.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}

	data, _, err := m.Tensor("w")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(data) != "[42]" {
		t.Errorf("data = %v, want [42]", data)
	}
}
