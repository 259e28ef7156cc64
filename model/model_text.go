package model

import (
	"errors"
	"math"

	"github.com/PiaoShihao/photocritic/fs"
	"github.com/PiaoShihao/photocritic/kvcache"
	"github.com/PiaoShihao/photocritic/ml"
	"github.com/PiaoShihao/photocritic/ml/nn"
)

// ErrNonFinite reports NaN or Inf logits from a forward pass. The failure
// is deterministic for a given input, so it is never retried.
var ErrNonFinite = errors.New("non-finite logits")

// TextOptions contains the fixed text decoder dimensions.
type TextOptions struct {
	hiddenSize int
	numHeads   int
	numKVHeads int
	headDim    int
	eps        float32
	ropeBase   float32
}

// SelfAttention implements grouped-query self-attention: each group of
// numHeads/numKVHeads query heads shares one key/value head, which keeps
// the cache small.
type SelfAttention struct {
	Query  *nn.Linear
	Key    *nn.Linear
	Value  *nn.Linear
	Output *nn.Linear
}

// Forward scores one position against the cache. The key and value for
// this position are appended to the cache first, with rotary position
// encoding derived from the cache length: that is what keeps incremental
// calls consistent with a full re-score.
func (sa *SelfAttention) Forward(d ml.Device, hiddenState []float32, cache *kvcache.Causal, opts *TextOptions) []float32 {
	q := sa.Query.Forward(d, hiddenState)
	k := sa.Key.Forward(d, hiddenState)
	v := sa.Value.Forward(d, hiddenState)

	pos := cache.Pos()
	ml.RoPE(q, opts.headDim, pos, opts.ropeBase)
	ml.RoPE(k, opts.headDim, pos, opts.ropeBase)
	cache.Put(k, v)

	keys, values := cache.Keys(), cache.Values()
	kvMul := opts.numHeads / opts.numKVHeads
	scale := float32(1 / math.Sqrt(float64(opts.headDim)))

	attended := make([]float32, opts.numHeads*opts.headDim)
	scores := make([]float32, len(keys))
	for h := range opts.numHeads {
		qh := q[h*opts.headDim : (h+1)*opts.headDim]
		kvLo := (h / kvMul) * opts.headDim
		kvHi := kvLo + opts.headDim

		for t := range keys {
			scores[t] = ml.Dot(qh, keys[t][kvLo:kvHi]) * scale
		}
		ml.Softmax(scores)

		out := attended[h*opts.headDim : (h+1)*opts.headDim]
		for t := range values {
			ml.Axpy(scores[t], values[t][kvLo:kvHi], out)
		}
	}

	return sa.Output.Forward(d, attended)
}

// MLP is the gated feed-forward block with a sigmoid-gated linear unit
// activation.
type MLP struct {
	Gate *nn.Linear
	Up   *nn.Linear
	Down *nn.Linear
}

func (mlp *MLP) Forward(d ml.Device, hiddenState []float32) []float32 {
	gated := mlp.Gate.Forward(d, hiddenState)
	ml.SiLU(gated)

	up := mlp.Up.Forward(d, hiddenState)
	for i := range gated {
		gated[i] *= up[i]
	}

	return mlp.Down.Forward(d, gated)
}

// Layer is a single decoder block: pre-norm attention and pre-norm
// feed-forward, each with a residual add.
type Layer struct {
	AttentionNorm *nn.RMSNorm
	SelfAttention *SelfAttention
	MLPNorm       *nn.RMSNorm
	MLP           *MLP
}

func (l *Layer) Forward(d ml.Device, hiddenState []float32, cache *kvcache.Causal, opts *TextOptions) []float32 {
	attended := l.SelfAttention.Forward(d, l.AttentionNorm.Forward(hiddenState), cache, opts)
	ml.Axpy(1, hiddenState, attended)

	out := l.MLP.Forward(d, l.MLPNorm.Forward(attended))
	ml.Axpy(1, attended, out)
	return out
}

// TextModel is the decoder stack.
type TextModel struct {
	TokenEmbedding *nn.Embedding
	Layers         []Layer
	OutputNorm     *nn.RMSNorm
	Output         *nn.Linear

	*TextOptions
}

func newTextModel(c *fs.ModelConfig) *TextModel {
	return &TextModel{
		Layers: make([]Layer, c.NumLayers),
		TextOptions: &TextOptions{
			hiddenSize: c.HiddenSize,
			numHeads:   c.NumHeads,
			numKVHeads: c.NumKVHeads,
			headDim:    c.HeadDim(),
			eps:        c.RMSNormEps,
			ropeBase:   c.RopeBase,
		},
	}
}

// Forward scores the supplied embeddings against (and into) the cache and
// returns the vocabulary logits for the last supplied position.
//
// On the first call for a sequence the full fused embedding sequence is
// supplied and the cache is populated for every position (prefill); on
// subsequent calls only the newest position's embedding is supplied and it
// attends over the full accumulated cache (incremental decode). Positions
// are processed in order, so attention within a prefill batch is causal by
// construction.
func (m *TextModel) Forward(d ml.Device, embeds [][]float32, cache *kvcache.Causal) ([]float32, error) {
	if len(embeds) == 0 {
		return nil, errors.New("decode: empty embedding sequence")
	}

	var last []float32
	for _, e := range embeds {
		if len(e) != m.hiddenSize {
			return nil, errShape(m.hiddenSize, len(e))
		}

		hiddenState := make([]float32, m.hiddenSize)
		copy(hiddenState, e)

		for i := range m.Layers {
			cache.SetLayer(i)
			hiddenState = m.Layers[i].Forward(d, hiddenState, cache, m.TextOptions)
		}

		last = hiddenState
	}

	logits := m.Output.Forward(d, m.OutputNorm.Forward(last))
	if !ml.AllFinite(logits) {
		return nil, ErrNonFinite
	}

	return logits, nil
}
