package api

import "fmt"

// Stage names the pipeline stage an error originated from. Fatal errors
// always carry a stage so callers see more than a raw low-level message.
type Stage string

const (
	StageLoad       Stage = "load"
	StagePreprocess Stage = "preprocess"
	StageEncode     Stage = "encode"
	StageFusion     Stage = "fusion"
	StageDecode     Stage = "decode"
)

// ModelLoadError reports missing, corrupt, or shape-mismatched weights or
// configuration at pipeline construction. Always fatal.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load: model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ImageError reports an unreadable or unsupported image file. Fatal for
// the request that supplied the image.
type ImageError struct {
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("preprocess: image %q: %v", e.Path, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// ShapeError reports a violated tensor-shape invariant between components.
// It indicates an internal inconsistency and is never recovered from.
type ShapeError struct {
	Stage Stage
	Want  int
	Got   int
	What  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: want %d, got %d", e.Stage, e.What, e.Want, e.Got)
}

// FusionError reports a mismatch between the number of image-placeholder
// tokens in a prompt and the number of visual embeddings supplied to the
// sequence builder. It must be raised before decoding begins.
type FusionError struct {
	Placeholders int
	Embeddings   int
}

func (e *FusionError) Error() string {
	return fmt.Sprintf("fusion: prompt has %d image placeholder tokens but %d visual embeddings were supplied",
		e.Placeholders, e.Embeddings)
}

// InferenceError reports a numeric failure during a forward pass, such as
// non-finite logits. Deterministic for a given input, so never retried.
type InferenceError struct {
	Step int
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("decode: step %d: %v", e.Step, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
