package model

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/fs"
	"github.com/PiaoShihao/photocritic/fs/safetensors"
	"github.com/PiaoShihao/photocritic/ml"
	"github.com/PiaoShihao/photocritic/model/imageproc"
)

// Model is the multimodal pipeline: tokenizer, vision encoder, cross-modal
// projector, and text decoder, sharing one immutable configuration.
type Model struct {
	BytePairEncoding

	*TextModel
	*VisionModel
	*Projector
	ImageProcessor

	config *fs.ModelConfig
	device ml.Device
}

// New allocates a model with the dimensions of c. Weights are zero until
// loaded; tests fill them directly.
func New(c *fs.ModelConfig, vocab *Vocabulary, device ml.Device) *Model {
	return &Model{
		BytePairEncoding: NewBytePairEncoding(vocab),
		TextModel:        newTextModel(c),
		VisionModel:      newVisionModel(c),
		Projector:        &Projector{},
		ImageProcessor:   newImageProcessor(c),
		config:           c,
		device:           device,
	}
}

// Load constructs the pipeline from a model directory containing
// config.json, tokenizer.json, and model.safetensors. Any missing or
// shape-mismatched tensor surfaces as a ModelLoadError before the first
// generation.
func Load(dir string, device ml.Device) (*Model, error) {
	start := time.Now()

	c, err := fs.LoadModelConfig(dir)
	if err != nil {
		return nil, &api.ModelLoadError{Path: dir, Err: err}
	}

	vocab, err := LoadVocabulary(dir, c)
	if err != nil {
		return nil, &api.ModelLoadError{Path: dir, Err: err}
	}

	m := New(c, vocab, device)

	st, err := safetensors.Open(filepath.Join(dir, "model.safetensors"))
	if err != nil {
		return nil, &api.ModelLoadError{Path: dir, Err: err}
	}

	if err := m.loadWeights(st); err != nil {
		return nil, &api.ModelLoadError{Path: dir, Err: err}
	}

	slog.Info("model loaded", "dir", dir, "type", c.ModelType,
		"layers", c.NumLayers, "vision_layers", c.Vision.NumLayers,
		"duration", time.Since(start))

	return m, nil
}

// Config returns the shared immutable model configuration.
func (m *Model) Config() *fs.ModelConfig { return m.config }

// Device returns the compute backend the pipeline was constructed with.
func (m *Model) Device() ml.Device { return m.device }

// EncodeMultimodal runs the vision encoder over an image tensor and
// projects the result into the text embedding space.
func (m *Model) EncodeMultimodal(t *imageproc.ImageTensor) ([][]float32, error) {
	if m.VisionModel == nil {
		return nil, errNoVisionModel
	}

	visual, err := m.VisionModel.Forward(m.device, t)
	if err != nil {
		return nil, err
	}

	return m.Projector.Forward(m.device, visual)
}

// Fuse builds the fused embedding sequence for a tokenized prompt: every
// token becomes its embedding lookup, except each image placeholder token,
// which consumes the next visual embedding in order.
//
// The count of placeholder tokens must exactly equal the count of visual
// embeddings. Any drift between the tokenizer-inserted placeholder count
// and the encoder-produced patch count is an error here, before any
// decoding starts. Mismatches are never truncated or padded.
func (m *Model) Fuse(promptTokens []int32, visual [][]float32) ([][]float32, error) {
	var placeholders int
	for _, id := range promptTokens {
		if m.Vocabulary().Is(id, SpecialImage) {
			placeholders++
		}
	}

	if placeholders != len(visual) {
		return nil, &api.FusionError{Placeholders: placeholders, Embeddings: len(visual)}
	}

	fused := make([][]float32, len(promptTokens))
	var used int
	for i, id := range promptTokens {
		if m.Vocabulary().Is(id, SpecialImage) {
			fused[i] = visual[used]
			used++
			continue
		}
		fused[i] = m.TokenEmbedding.Forward(id)
	}

	return fused, nil
}

// Embed returns the text embedding for a single token, used on the
// incremental decode path.
func (m *Model) Embed(id int32) []float32 {
	return m.TokenEmbedding.Forward(id)
}

// IsEOS reports whether id is an end-of-sequence token.
func (m *Model) IsEOS(id int32) bool {
	return m.Vocabulary().Is(id, SpecialEOS)
}

func errShape(want, got int) error {
	return &api.ShapeError{Stage: api.StageDecode, What: "embedding width", Want: want, Got: got}
}
