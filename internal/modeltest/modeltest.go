// Package modeltest builds small fully-weighted models for tests outside
// the model package.
package modeltest

import (
	"math/rand/v2"
	"testing"

	"github.com/PiaoShihao/photocritic/fs"
	"github.com/PiaoShihao/photocritic/ml"
	"github.com/PiaoShihao/photocritic/ml/nn"
	"github.com/PiaoShihao/photocritic/model"
)

// VocabSize is 256 byte tokens plus the six control tokens.
const VocabSize = 262

const (
	ImageToken       int32 = 258
	VisionStartToken int32 = 259
	VisionEndToken   int32 = 260
	EOSToken         int32 = 261
)

// Config returns a miniature multimodal configuration: a 4px square image
// of 2px patches (four placeholders) over an 8-wide decoder.
func Config() *fs.ModelConfig {
	return &fs.ModelConfig{
		ModelType:        "qwen2_5_vl",
		HiddenSize:       8,
		NumLayers:        2,
		NumHeads:         2,
		NumKVHeads:       1,
		IntermediateSize: 16,
		VocabSize:        VocabSize,
		MaxSeqLen:        4096,
		RopeBase:         10000,
		RMSNormEps:       1e-5,

		VisionStartTokenID: VisionStartToken,
		VisionEndTokenID:   VisionEndToken,
		ImageTokenID:       ImageToken,
		EOSTokenID:         EOSToken,

		Vision: fs.VisionConfig{
			HiddenSize:       8,
			IntermediateSize: 16,
			PatchSize:        2,
			ImageSize:        4,
			NumLayers:        2,
			NumHeads:         2,
			WindowSize:       2,
			FullAttnBlocks:   []int{1},
			RMSNormEps:       1e-5,
		},
	}
}

// byteToken mirrors the tokenizer's byte-to-rune remapping so every input
// byte has a vocabulary entry and text round-trips without merges.
func byteToken(b byte) string {
	r := rune(b)
	switch {
	case r == 0x00ad:
		r = 0x0143
	case r <= 0x0020:
		r += 0x0100
	case r >= 0x007f && r <= 0x00a0:
		r += 0x00a2
	}
	return string(r)
}

// Vocabulary covers every byte as a single token (ids 0..255) followed by
// the chat and vision control tokens.
func Vocabulary() *model.Vocabulary {
	v := &model.Vocabulary{
		Values:      make([]string, VocabSize),
		Types:       make([]int32, VocabSize),
		Image:       ImageToken,
		VisionStart: VisionStartToken,
		VisionEnd:   VisionEndToken,
		EOS:         []int32{EOSToken},
	}

	for b := range 256 {
		v.Values[b] = byteToken(byte(b))
		v.Types[b] = model.TOKEN_TYPE_NORMAL
	}

	for i, s := range []string{
		"<|im_start|>", "<|im_end|>", "<|image_pad|>",
		"<|vision_start|>", "<|vision_end|>", "<|endoftext|>",
	} {
		v.Values[256+i] = s
		v.Types[256+i] = model.TOKEN_TYPE_CONTROL
	}

	return v
}

// Fill populates every weight with small deterministic values so forward
// passes are reproducible and numerically tame.
func Fill(m *model.Model, seed uint64) {
	c := m.Config()
	rng := rand.New(rand.NewPCG(seed, seed))

	randSlice := func(n, fanIn int) []float32 {
		scale := 0.5 / float32(fanIn)
		s := make([]float32, n)
		for i := range s {
			s[i] = (rng.Float32()*2 - 1) * scale
		}
		return s
	}

	linear := func(out, in int, bias bool) *nn.Linear {
		l := &nn.Linear{Weight: randSlice(out*in, in), In: in, Out: out}
		if bias {
			l.Bias = randSlice(out, in)
		}
		return l
	}

	ones := func(dim int, eps float32) *nn.RMSNorm {
		w := make([]float32, dim)
		for i := range w {
			w[i] = 1
		}
		return &nn.RMSNorm{Weight: w, Eps: eps}
	}

	m.TokenEmbedding = &nn.Embedding{Weight: randSlice(c.VocabSize*c.HiddenSize, c.HiddenSize), Dim: c.HiddenSize}
	kvDim := c.NumKVHeads * c.HeadDim()
	for i := range m.TextModel.Layers {
		l := &m.TextModel.Layers[i]
		l.AttentionNorm = ones(c.HiddenSize, c.RMSNormEps)
		l.SelfAttention = &model.SelfAttention{
			Query:  linear(c.HiddenSize, c.HiddenSize, true),
			Key:    linear(kvDim, c.HiddenSize, true),
			Value:  linear(kvDim, c.HiddenSize, true),
			Output: linear(c.HiddenSize, c.HiddenSize, false),
		}
		l.MLPNorm = ones(c.HiddenSize, c.RMSNormEps)
		l.MLP = &model.MLP{
			Gate: linear(c.IntermediateSize, c.HiddenSize, false),
			Up:   linear(c.IntermediateSize, c.HiddenSize, false),
			Down: linear(c.HiddenSize, c.IntermediateSize, false),
		}
	}
	m.OutputNorm = ones(c.HiddenSize, c.RMSNormEps)
	m.Output = linear(c.VocabSize, c.HiddenSize, false)

	v := c.Vision
	m.PatchEmbedding = linear(v.HiddenSize, v.PatchSize*v.PatchSize*3, true)
	for i := range m.VisionModel.Layers {
		l := &m.VisionModel.Layers[i]
		l.Norm1 = ones(v.HiddenSize, v.RMSNormEps)
		l.SelfAttention = &model.VisionSelfAttention{
			Query:  linear(v.HiddenSize, v.HiddenSize, true),
			Key:    linear(v.HiddenSize, v.HiddenSize, true),
			Value:  linear(v.HiddenSize, v.HiddenSize, true),
			Output: linear(v.HiddenSize, v.HiddenSize, false),
		}
		l.Norm2 = ones(v.HiddenSize, v.RMSNormEps)
		l.MLP = &model.VisionMLP{
			Gate: linear(v.IntermediateSize, v.HiddenSize, false),
			Up:   linear(v.IntermediateSize, v.HiddenSize, false),
			Down: linear(v.HiddenSize, v.IntermediateSize, false),
		}
	}
	m.Projector.Proj = linear(c.HiddenSize, v.HiddenSize, true)
}

// New builds a test model with every weight filled from seed.
func New(tb testing.TB, seed uint64) *model.Model {
	tb.Helper()

	c := Config()
	if err := c.Validate(); err != nil {
		tb.Fatalf("test config invalid: %v", err)
	}

	m := model.New(c, Vocabulary(), ml.Device{Name: "cpu", Threads: 1})
	Fill(m, seed)
	return m
}
