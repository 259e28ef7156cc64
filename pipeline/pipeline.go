// Package pipeline wires the photocritic stages end to end: image
// preprocessing, vision encoding, cross-modal fusion, and the
// generation loop, behind a single Generate call.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/ml"
	"github.com/PiaoShihao/photocritic/model"
	"github.com/PiaoShihao/photocritic/runner"
	"github.com/PiaoShihao/photocritic/sample"
)

// Pipeline owns a loaded model and its runner. It is safe for
// concurrent use; requests are serialized by the runner.
type Pipeline struct {
	model  *model.Model
	runner *runner.Runner
	device ml.Device
}

// New loads the model from dir onto the requested device. An unknown
// device name falls back to cpu with a warning rather than failing.
func New(dir, device string) (*Pipeline, error) {
	d := ml.Resolve(device)

	m, err := model.Load(dir, d)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		model:  m,
		runner: runner.NewRunner(m),
		device: d,
	}, nil
}

// NewFromModel wraps an already-constructed model. Used by tests.
func NewFromModel(m *model.Model) *Pipeline {
	return &Pipeline{
		model:  m,
		runner: runner.NewRunner(m),
		device: m.Device(),
	}
}

// Model exposes the underlying model for callers that need its
// configuration or tokenizer.
func (p *Pipeline) Model() *model.Model { return p.model }

// ClearCache releases the KV cache memory held after the last generation.
// Blocks until any in-flight generation finishes.
func (p *Pipeline) ClearCache() { p.runner.ClearCache() }

// Generate runs one critique request, streaming token responses
// through fn. All preprocessing happens up front: the image is decoded
// and encoded, the prompt templated and tokenized, placeholders fused
// with visual embeddings, and only then does decoding start.
func (p *Pipeline) Generate(ctx context.Context, req api.GenerateRequest, fn func(api.GenerateResponse)) error {
	start := time.Now()

	var visual [][]float32
	if req.ImagePath != "" {
		tensor, err := p.model.ImageProcessor.Load(req.ImagePath)
		if err != nil {
			return err
		}

		visual, err = p.model.EncodeMultimodal(tensor)
		if err != nil {
			return err
		}

		slog.Debug("image encoded", "path", req.ImagePath, "embeddings", len(visual),
			"duration", time.Since(start))
	}

	tokens, err := p.model.ApplyChatTemplate(req.Prompt, len(visual) > 0)
	if err != nil {
		return err
	}

	embeds, err := p.model.Fuse(tokens, visual)
	if err != nil {
		return err
	}

	return p.runner.Completion(ctx, runner.CompletionRequest{
		Embeds:    embeds,
		MaxTokens: req.MaxTokens,
		Sampler:   sample.NewSampler(req.Temperature, 0, 1.0, req.Seed),
	}, fn)
}

// GenerateText runs Generate and collects the streamed content into a
// single string along with the reason generation stopped.
func (p *Pipeline) GenerateText(ctx context.Context, req api.GenerateRequest) (string, api.DoneReason, error) {
	var sb strings.Builder
	var reason api.DoneReason

	err := p.Generate(ctx, req, func(resp api.GenerateResponse) {
		if resp.Done {
			reason = resp.DoneReason
			return
		}
		sb.WriteString(resp.Content)
	})
	if err != nil {
		return "", "", err
	}

	return sb.String(), reason, nil
}
