// Package imageproc decodes photograph files and converts them to the
// normalized tensor form the vision encoder consumes.
package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// supportedExtensions enumerates the coverage formats, matched
// case-insensitively against the file extension.
var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".heif": true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".gif":  true,
}

// Supported reports whether the path names a coverage image format.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Decode opens and decodes an image file. The file must exist, be readable,
// and carry a coverage format extension.
func Decode(path string) (image.Image, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	return img, nil
}

// Composite returns an image with the alpha channel removed by drawing over
// a white background.
func Composite(img image.Image) image.Image {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

// Resize returns the image scaled to newSize with the deterministic
// Catmull-Rom kernel.
func Resize(img image.Image, newSize image.Point) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)
	return dst
}

// Clamp uniformly downscales the image so its longest side equals maxEdge.
// Images already within the ceiling are returned unchanged; Clamp never
// upscales and never changes the aspect ratio.
func Clamp(img image.Image, maxEdge int) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxEdge {
		return img
	}

	if w >= h {
		return Resize(img, image.Point{maxEdge, max(1, h*maxEdge/w)})
	}
	return Resize(img, image.Point{max(1, w*maxEdge/h), maxEdge})
}

// ImageTensor is a height x width x 3 grid of float32 RGB samples rescaled
// to [0, 1]. It is produced once per request and read-only afterwards.
type ImageTensor struct {
	Height int
	Width  int

	// Data is row-major with interleaved r, g, b channels. Alpha has been
	// composited away.
	Data []float32
}

// ToTensor converts an image to the normalized tensor form, rescaling each
// 8-bit channel sample to [0, 1] and discarding alpha.
func ToTensor(img image.Image) *ImageTensor {
	bounds := img.Bounds()
	t := &ImageTensor{
		Height: bounds.Dy(),
		Width:  bounds.Dx(),
		Data:   make([]float32, 0, bounds.Dy()*bounds.Dx()*3),
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			t.Data = append(t.Data,
				float32(r>>8)/255.0,
				float32(g>>8)/255.0,
				float32(b>>8)/255.0)
		}
	}

	return t
}

// At returns the c-th channel (0=r, 1=g, 2=b) of the pixel at (x, y).
func (t *ImageTensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*3+c]
}
