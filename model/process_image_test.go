package model

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/PiaoShihao/photocritic/api"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x * 37), uint8(y * 53), 128, 255})
		}
	}

	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImageProcessorLoad(t *testing.T) {
	m := newTestModel(t, 1)

	// Any input geometry lands on the model's square edge.
	for _, size := range [][2]int{{10, 10}, {31, 9}, {3, 3}} {
		tensor, err := m.ImageProcessor.Load(writePNG(t, size[0], size[1]))
		if err != nil {
			t.Fatalf("Load %v: %v", size, err)
		}

		if tensor.Width != 4 || tensor.Height != 4 {
			t.Errorf("tensor %v = %dx%d, want 4x4", size, tensor.Width, tensor.Height)
		}
		for i, v := range tensor.Data {
			if v < 0 || v > 1 {
				t.Fatalf("sample %d = %v outside [0, 1]", i, v)
			}
		}
	}
}

// Every format with a Go encoder is decoded end to end. WebP and HEIC are
// decode-only packages with no encoder, so their coverage ends at the
// extension dispatch in TestSupported.
func TestImageProcessorLoadFormats(t *testing.T) {
	m := newTestModel(t, 1)

	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	for y := range 8 {
		for x := range 12 {
			img.Set(x, y, color.RGBA{uint8(x * 21), uint8(y * 31), 160, 255})
		}
	}

	encoders := map[string]func(io.Writer, image.Image) error{
		"photo.png": png.Encode,
		"photo.jpg": func(w io.Writer, src image.Image) error { return jpeg.Encode(w, src, nil) },
		"photo.gif": func(w io.Writer, src image.Image) error { return gif.Encode(w, src, nil) },
		"photo.bmp": bmp.Encode,
		"photo.tif": func(w io.Writer, src image.Image) error { return tiff.Encode(w, src, nil) },
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := encode(f, img); err != nil {
				f.Close()
				t.Fatal(err)
			}
			f.Close()

			tensor, err := m.ImageProcessor.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tensor.Width != 4 || tensor.Height != 4 {
				t.Errorf("tensor = %dx%d, want 4x4", tensor.Width, tensor.Height)
			}
		})
	}
}

func TestImageProcessorLoadErrors(t *testing.T) {
	m := newTestModel(t, 1)

	cases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "missing.png")},
		{"unsupported format", filepath.Join(t.TempDir(), "notes.txt")},
	}

	if err := os.WriteFile(cases[1].path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ImageProcessor.Load(tt.path)
			var ie *api.ImageError
			if !errors.As(err, &ie) {
				t.Fatalf("error = %v, want ImageError", err)
			}
			if ie.Path != tt.path {
				t.Errorf("ImageError.Path = %q, want %q", ie.Path, tt.path)
			}
		})
	}
}

func TestImageProcessorCorruptFile(t *testing.T) {
	m := newTestModel(t, 1)

	path := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(path, []byte("\x89PNG but not really"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := m.ImageProcessor.Load(path)
	var ie *api.ImageError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want ImageError", err)
	}
}
