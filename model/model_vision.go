package model

import (
	"errors"
	"math"
	"slices"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/fs"
	"github.com/PiaoShihao/photocritic/ml"
	"github.com/PiaoShihao/photocritic/ml/nn"
	"github.com/PiaoShihao/photocritic/model/imageproc"
)

// clipMean and clipStd are the channel statistics the vision encoder's
// pretraining normalized with.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// VisionModelOptions contains the fixed vision encoder dimensions.
type VisionModelOptions struct {
	hiddenSize int
	numHeads   int
	headDim    int
	patchSize  int
	imageSize  int
	windowSize int
	eps        float32

	// fullAttnBlocks are the layer indexes that attend across all patches;
	// every other layer uses windowed attention. This mixture is a fixed
	// architectural property.
	fullAttnBlocks []int
}

type VisionSelfAttention struct {
	Query  *nn.Linear
	Key    *nn.Linear
	Value  *nn.Linear
	Output *nn.Linear
}

// Forward runs full multi-head attention over all patches. mask is an
// additive patch x patch bias; nil means unrestricted attention.
func (sa *VisionSelfAttention) Forward(d ml.Device, hiddenStates, mask [][]float32, opts *VisionModelOptions) [][]float32 {
	n := len(hiddenStates)
	scale := float32(1 / math.Sqrt(float64(opts.headDim)))

	qs := make([][]float32, n)
	ks := make([][]float32, n)
	vs := make([][]float32, n)
	for i, h := range hiddenStates {
		qs[i] = sa.Query.Forward(d, h)
		ks[i] = sa.Key.Forward(d, h)
		vs[i] = sa.Value.Forward(d, h)
	}

	attended := make([][]float32, n)
	scores := make([]float32, n)
	for i := range n {
		attended[i] = make([]float32, opts.hiddenSize)
		for h := range opts.numHeads {
			lo, hi := h*opts.headDim, (h+1)*opts.headDim

			for j := range n {
				scores[j] = ml.Dot(qs[i][lo:hi], ks[j][lo:hi]) * scale
				if mask != nil {
					scores[j] += mask[i][j]
				}
			}
			ml.Softmax(scores)

			for j := range n {
				ml.Axpy(scores[j], vs[j][lo:hi], attended[i][lo:hi])
			}
		}
	}

	out := make([][]float32, n)
	for i := range n {
		out[i] = sa.Output.Forward(d, attended[i])
	}
	return out
}

type VisionMLP struct {
	Gate *nn.Linear
	Up   *nn.Linear
	Down *nn.Linear
}

func (mlp *VisionMLP) Forward(d ml.Device, hiddenState []float32) []float32 {
	gated := mlp.Gate.Forward(d, hiddenState)
	ml.SiLU(gated)

	up := mlp.Up.Forward(d, hiddenState)
	for i := range gated {
		gated[i] *= up[i]
	}

	return mlp.Down.Forward(d, gated)
}

type VisionEncoderLayer struct {
	Norm1         *nn.RMSNorm
	SelfAttention *VisionSelfAttention
	Norm2         *nn.RMSNorm
	MLP           *VisionMLP
}

func (e *VisionEncoderLayer) Forward(d ml.Device, hiddenStates, mask [][]float32, opts *VisionModelOptions) [][]float32 {
	normed := make([][]float32, len(hiddenStates))
	for i, h := range hiddenStates {
		normed[i] = e.Norm1.Forward(h)
	}

	attended := e.SelfAttention.Forward(d, normed, mask, opts)
	for i := range hiddenStates {
		ml.Axpy(1, hiddenStates[i], attended[i])
	}

	out := make([][]float32, len(attended))
	for i, h := range attended {
		out[i] = e.MLP.Forward(d, e.Norm2.Forward(h))
		ml.Axpy(1, h, out[i])
	}
	return out
}

// VisionModel is the patch-based vision encoder. It holds no mutable
// state: encoding the same tensor twice yields bit-identical output.
type VisionModel struct {
	PatchEmbedding *nn.Linear
	Layers         []VisionEncoderLayer

	*VisionModelOptions
}

func newVisionModel(c *fs.ModelConfig) *VisionModel {
	v := c.Vision
	return &VisionModel{
		Layers: make([]VisionEncoderLayer, v.NumLayers),
		VisionModelOptions: &VisionModelOptions{
			hiddenSize:     v.HiddenSize,
			numHeads:       v.NumHeads,
			headDim:        v.HiddenSize / v.NumHeads,
			patchSize:      v.PatchSize,
			imageSize:      v.ImageSize,
			windowSize:     v.WindowSize,
			eps:            v.RMSNormEps,
			fullAttnBlocks: v.FullAttnBlocks,
		},
	}
}

// Forward encodes an image tensor into one feature vector per patch, in
// row-major patch order.
func (m *VisionModel) Forward(d ml.Device, t *imageproc.ImageTensor) ([][]float32, error) {
	if t.Height != t.Width {
		return nil, &api.ShapeError{Stage: api.StageEncode, What: "image height", Want: t.Width, Got: t.Height}
	}
	if t.Width%m.patchSize != 0 {
		return nil, &api.ShapeError{
			Stage: api.StageEncode,
			What:  "image edge must be an exact multiple of patch size",
			Want:  m.patchSize * (t.Width / m.patchSize),
			Got:   t.Width,
		}
	}

	side := t.Width / m.patchSize
	hiddenStates := make([][]float32, side*side)
	patch := make([]float32, m.patchSize*m.patchSize*3)
	for py := range side {
		for px := range side {
			var i int
			for y := py * m.patchSize; y < (py+1)*m.patchSize; y++ {
				for x := px * m.patchSize; x < (px+1)*m.patchSize; x++ {
					for c := range 3 {
						patch[i] = (t.At(x, y, c) - clipMean[c]) / clipStd[c]
						i++
					}
				}
			}

			h := m.PatchEmbedding.Forward(d, patch)
			addPositionSignal(h, py, px)
			hiddenStates[py*side+px] = h
		}
	}

	mask := m.windowMask(side)
	for i := range m.Layers {
		layer := &m.Layers[i]
		if slices.Contains(m.fullAttnBlocks, i) {
			hiddenStates = layer.Forward(d, hiddenStates, nil, m.VisionModelOptions)
		} else {
			hiddenStates = layer.Forward(d, hiddenStates, mask, m.VisionModelOptions)
		}
	}

	return hiddenStates, nil
}

// addPositionSignal adds a fixed 2-D sinusoidal position encoding: the
// first half of the vector carries the row signal, the second half the
// column signal.
func addPositionSignal(h []float32, py, px int) {
	half := len(h) / 2
	encode := func(dst []float32, pos int) {
		for i := 0; i+1 < len(dst); i += 2 {
			freq := 1 / math.Pow(10000, float64(i)/float64(len(dst)))
			theta := float64(pos) * freq
			dst[i] += float32(math.Sin(theta))
			dst[i+1] += float32(math.Cos(theta))
		}
	}
	encode(h[:half], py)
	encode(h[half:], px)
}

// windowMask builds the additive attention bias restricting patches to
// their window: 0 within a window, -Inf across windows. Returns nil when
// the whole image fits in one window.
func (m *VisionModel) windowMask(side int) [][]float32 {
	windowPatches := m.windowSize / m.patchSize
	if windowPatches <= 0 || windowPatches >= side {
		return nil
	}

	windowsPerSide := (side + windowPatches - 1) / windowPatches
	windowOf := func(i int) int {
		py, px := i/side, i%side
		return (py/windowPatches)*windowsPerSide + px/windowPatches
	}

	negInf := float32(math.Inf(-1))
	mask := make([][]float32, side*side)
	for i := range mask {
		mask[i] = make([]float32, side*side)
		for j := range mask[i] {
			if windowOf(i) != windowOf(j) {
				mask[i][j] = negInf
			}
		}
	}
	return mask
}

// Projector linearly maps visual feature vectors into the text model's
// embedding space. Stateless beyond its fixed weights.
type Projector struct {
	Proj *nn.Linear
}

var errNoVisionModel = errors.New("model has no vision encoder")

// Forward re-dimensions each visual embedding to the text hidden size.
func (p *Projector) Forward(d ml.Device, visual [][]float32) ([][]float32, error) {
	out := make([][]float32, len(visual))
	for i, v := range visual {
		if len(v) != p.Proj.In {
			return nil, &api.ShapeError{
				Stage: api.StageEncode,
				What:  "projector input width",
				Want:  p.Proj.In,
				Got:   len(v),
			}
		}
		out[i] = p.Proj.Forward(d, v)
	}
	return out, nil
}
