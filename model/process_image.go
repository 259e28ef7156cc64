package model

import (
	"image"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/fs"
	"github.com/PiaoShihao/photocritic/model/imageproc"
)

// DefaultMaxEdge is the pixel ceiling applied to the longest side of an
// input photograph before model-side resizing.
const DefaultMaxEdge = 1024

// ImageProcessor turns a photograph file into the fixed-size normalized
// tensor the vision encoder consumes.
type ImageProcessor struct {
	imageSize int
	maxEdge   int
}

func newImageProcessor(c *fs.ModelConfig) ImageProcessor {
	return ImageProcessor{
		imageSize: c.Vision.ImageSize,
		maxEdge:   DefaultMaxEdge,
	}
}

// Load decodes the image at path and returns its tensor form. The longest
// side is first capped at the configured ceiling (downscale only, aspect
// preserved), then the image is resized to the model's square input edge.
// Failures are reported as an ImageError naming the file.
func (p ImageProcessor) Load(path string) (*imageproc.ImageTensor, error) {
	img, err := imageproc.Decode(path)
	if err != nil {
		return nil, &api.ImageError{Path: path, Err: err}
	}

	return p.process(img), nil
}

func (p ImageProcessor) process(img image.Image) *imageproc.ImageTensor {
	img = imageproc.Composite(img)
	img = imageproc.Clamp(img, p.maxEdge)
	img = imageproc.Resize(img, image.Point{p.imageSize, p.imageSize})
	return imageproc.ToTensor(img)
}
