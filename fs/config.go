// Package fs reads model configuration and weights from a local model
// directory: a config.json describing the architecture dimensions and a
// model.safetensors weight archive.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VisionConfig describes the vision encoder dimensions.
type VisionConfig struct {
	HiddenSize       int     `json:"hidden_size"`
	IntermediateSize int     `json:"intermediate_size"`
	PatchSize        int     `json:"patch_size"`
	ImageSize        int     `json:"image_size"`
	NumLayers        int     `json:"depth"`
	NumHeads         int     `json:"num_heads"`
	WindowSize       int     `json:"window_size"`
	FullAttnBlocks   []int   `json:"fullatt_block_indexes"`
	RMSNormEps       float32 `json:"rms_norm_eps"`
}

// ModelConfig is the immutable description of the model dimensions, parsed
// once from config.json at pipeline construction and shared by reference.
// The pipeline is hard-wired to this one configuration shape; there is no
// dynamic architecture dispatch.
type ModelConfig struct {
	ModelType        string  `json:"model_type"`
	HiddenSize       int     `json:"hidden_size"`
	NumLayers        int     `json:"num_hidden_layers"`
	NumHeads         int     `json:"num_attention_heads"`
	NumKVHeads       int     `json:"num_key_value_heads"`
	IntermediateSize int     `json:"intermediate_size"`
	VocabSize        int     `json:"vocab_size"`
	MaxSeqLen        int     `json:"max_position_embeddings"`
	RopeBase         float32 `json:"rope_theta"`
	RMSNormEps       float32 `json:"rms_norm_eps"`

	VisionStartTokenID int32 `json:"vision_start_token_id"`
	VisionEndTokenID   int32 `json:"vision_end_token_id"`
	ImageTokenID       int32 `json:"image_token_id"`
	EOSTokenID         int32 `json:"eos_token_id"`

	Vision VisionConfig `json:"vision_config"`
}

// LoadModelConfig parses and validates config.json from a model directory.
func LoadModelConfig(dir string) (*ModelConfig, error) {
	p := filepath.Join(dir, "config.json")
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	var c ModelConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	return &c, nil
}

// Validate checks the structural invariants the forward passes depend on.
func (c *ModelConfig) Validate() error {
	switch {
	case c.HiddenSize <= 0 || c.NumLayers <= 0 || c.VocabSize <= 0:
		return fmt.Errorf("invalid text dimensions: hidden=%d layers=%d vocab=%d",
			c.HiddenSize, c.NumLayers, c.VocabSize)
	case c.NumHeads <= 0 || c.NumKVHeads <= 0:
		return fmt.Errorf("invalid attention heads: heads=%d kv=%d", c.NumHeads, c.NumKVHeads)
	case c.NumHeads < c.NumKVHeads:
		return fmt.Errorf("attention heads (%d) must be >= key/value heads (%d)",
			c.NumHeads, c.NumKVHeads)
	case c.NumHeads%c.NumKVHeads != 0:
		return fmt.Errorf("attention heads (%d) must be divisible by key/value heads (%d)",
			c.NumHeads, c.NumKVHeads)
	case c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("hidden size (%d) must be divisible by attention heads (%d)",
			c.HiddenSize, c.NumHeads)
	case c.IntermediateSize <= 0:
		return fmt.Errorf("invalid feed-forward size: %d", c.IntermediateSize)
	case c.MaxSeqLen <= 0:
		return fmt.Errorf("invalid max sequence length: %d", c.MaxSeqLen)
	case c.RopeBase <= 0:
		return fmt.Errorf("invalid rope base frequency: %f", c.RopeBase)
	}

	v := c.Vision
	switch {
	case v.HiddenSize <= 0 || v.NumLayers <= 0:
		return fmt.Errorf("invalid vision dimensions: hidden=%d depth=%d", v.HiddenSize, v.NumLayers)
	case v.NumHeads <= 0 || v.HiddenSize%v.NumHeads != 0:
		return fmt.Errorf("vision hidden size (%d) must be divisible by vision heads (%d)",
			v.HiddenSize, v.NumHeads)
	case v.IntermediateSize <= 0:
		return fmt.Errorf("invalid vision feed-forward size: %d", v.IntermediateSize)
	case v.PatchSize <= 0 || v.ImageSize <= 0:
		return fmt.Errorf("invalid patch geometry: patch=%d image=%d", v.PatchSize, v.ImageSize)
	case v.ImageSize%v.PatchSize != 0:
		return fmt.Errorf("image size (%d) must be an exact multiple of patch size (%d)",
			v.ImageSize, v.PatchSize)
	}

	for _, i := range v.FullAttnBlocks {
		if i < 0 || i >= v.NumLayers {
			return fmt.Errorf("full attention block index %d out of range [0, %d)", i, v.NumLayers)
		}
	}

	return nil
}

// NumPatches returns the number of vision patches for the configured image
// size, which is also the number of image placeholder tokens a prompt with
// an image must carry.
func (c *ModelConfig) NumPatches() int {
	side := c.Vision.ImageSize / c.Vision.PatchSize
	return side * side
}

// HeadDim returns the per-head dimension of the text decoder.
func (c *ModelConfig) HeadDim() int { return c.HiddenSize / c.NumHeads }
