package model

import (
	"fmt"

	"github.com/PiaoShihao/photocritic/fs/safetensors"
	"github.com/PiaoShihao/photocritic/ml/nn"
)

// loadWeights fills every module from a safetensors archive, validating
// each tensor's shape against the model configuration. Required tensors
// that are absent or mismatched abort the load.
func (m *Model) loadWeights(st *safetensors.Model) error {
	c := m.config

	matrix := func(name string, out, in int) ([]float32, error) {
		data, shape, err := st.Tensor(name)
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 || shape[0] != out || shape[1] != in {
			return nil, fmt.Errorf("tensor %q: shape %v, want [%d %d]", name, shape, out, in)
		}
		return data, nil
	}

	vector := func(name string, dim int) ([]float32, error) {
		data, shape, err := st.Tensor(name)
		if err != nil {
			return nil, err
		}
		if len(shape) != 1 || shape[0] != dim {
			return nil, fmt.Errorf("tensor %q: shape %v, want [%d]", name, shape, dim)
		}
		return data, nil
	}

	linear := func(name string, out, in int, bias bool) (*nn.Linear, error) {
		w, err := matrix(name+".weight", out, in)
		if err != nil {
			return nil, err
		}

		l := &nn.Linear{Weight: w, In: in, Out: out}
		if bias {
			if l.Bias, err = vector(name+".bias", out); err != nil {
				return nil, err
			}
		}
		return l, nil
	}

	norm := func(name string, dim int, eps float32) (*nn.RMSNorm, error) {
		w, err := vector(name+".weight", dim)
		if err != nil {
			return nil, err
		}
		return &nn.RMSNorm{Weight: w, Eps: eps}, nil
	}

	// text decoder
	embed, err := matrix("model.embed_tokens.weight", c.VocabSize, c.HiddenSize)
	if err != nil {
		return err
	}
	m.TokenEmbedding = &nn.Embedding{Weight: embed, Dim: c.HiddenSize}

	kvDim := c.NumKVHeads * c.HeadDim()
	for i := range m.TextModel.Layers {
		l := &m.TextModel.Layers[i]
		prefix := fmt.Sprintf("model.layers.%d.", i)

		if l.AttentionNorm, err = norm(prefix+"input_layernorm", c.HiddenSize, c.RMSNormEps); err != nil {
			return err
		}

		sa := &SelfAttention{}
		if sa.Query, err = linear(prefix+"self_attn.q_proj", c.HiddenSize, c.HiddenSize, true); err != nil {
			return err
		}
		if sa.Key, err = linear(prefix+"self_attn.k_proj", kvDim, c.HiddenSize, true); err != nil {
			return err
		}
		if sa.Value, err = linear(prefix+"self_attn.v_proj", kvDim, c.HiddenSize, true); err != nil {
			return err
		}
		if sa.Output, err = linear(prefix+"self_attn.o_proj", c.HiddenSize, c.HiddenSize, false); err != nil {
			return err
		}
		l.SelfAttention = sa

		if l.MLPNorm, err = norm(prefix+"post_attention_layernorm", c.HiddenSize, c.RMSNormEps); err != nil {
			return err
		}

		mlp := &MLP{}
		if mlp.Gate, err = linear(prefix+"mlp.gate_proj", c.IntermediateSize, c.HiddenSize, false); err != nil {
			return err
		}
		if mlp.Up, err = linear(prefix+"mlp.up_proj", c.IntermediateSize, c.HiddenSize, false); err != nil {
			return err
		}
		if mlp.Down, err = linear(prefix+"mlp.down_proj", c.HiddenSize, c.IntermediateSize, false); err != nil {
			return err
		}
		l.MLP = mlp
	}

	if m.OutputNorm, err = norm("model.norm", c.HiddenSize, c.RMSNormEps); err != nil {
		return err
	}

	// the output head is tied to the token embedding when absent
	if st.Has("lm_head.weight") {
		if m.Output, err = linear("lm_head", c.VocabSize, c.HiddenSize, false); err != nil {
			return err
		}
	} else {
		m.Output = &nn.Linear{Weight: embed, In: c.HiddenSize, Out: c.VocabSize}
	}

	// vision encoder
	v := c.Vision
	patchDim := v.PatchSize * v.PatchSize * 3
	if m.PatchEmbedding, err = linear("visual.patch_embed.proj", v.HiddenSize, patchDim, st.Has("visual.patch_embed.proj.bias")); err != nil {
		return err
	}

	for i := range m.VisionModel.Layers {
		l := &m.VisionModel.Layers[i]
		prefix := fmt.Sprintf("visual.blocks.%d.", i)

		if l.Norm1, err = norm(prefix+"norm1", v.HiddenSize, v.RMSNormEps); err != nil {
			return err
		}

		sa := &VisionSelfAttention{}
		if sa.Query, err = linear(prefix+"attn.q_proj", v.HiddenSize, v.HiddenSize, true); err != nil {
			return err
		}
		if sa.Key, err = linear(prefix+"attn.k_proj", v.HiddenSize, v.HiddenSize, true); err != nil {
			return err
		}
		if sa.Value, err = linear(prefix+"attn.v_proj", v.HiddenSize, v.HiddenSize, true); err != nil {
			return err
		}
		if sa.Output, err = linear(prefix+"attn.proj", v.HiddenSize, v.HiddenSize, false); err != nil {
			return err
		}
		l.SelfAttention = sa

		if l.Norm2, err = norm(prefix+"norm2", v.HiddenSize, v.RMSNormEps); err != nil {
			return err
		}

		mlp := &VisionMLP{}
		if mlp.Gate, err = linear(prefix+"mlp.gate_proj", v.IntermediateSize, v.HiddenSize, false); err != nil {
			return err
		}
		if mlp.Up, err = linear(prefix+"mlp.up_proj", v.IntermediateSize, v.HiddenSize, false); err != nil {
			return err
		}
		if mlp.Down, err = linear(prefix+"mlp.down_proj", v.HiddenSize, v.IntermediateSize, false); err != nil {
			return err
		}
		l.MLP = mlp
	}

	// cross-modal projector
	if m.Projector.Proj, err = linear("visual.merger.proj", c.HiddenSize, v.HiddenSize, true); err != nil {
		return err
	}

	return nil
}
