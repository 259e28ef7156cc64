package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *ModelConfig {
	return &ModelConfig{
		ModelType:        "qwen2_5_vl",
		HiddenSize:       2048,
		NumLayers:        36,
		NumHeads:         16,
		NumKVHeads:       2,
		IntermediateSize: 11008,
		VocabSize:        151936,
		MaxSeqLen:        128000,
		RopeBase:         1000000,
		RMSNormEps:       1e-6,

		VisionStartTokenID: 151652,
		VisionEndTokenID:   151653,
		ImageTokenID:       151655,
		EOSTokenID:         151645,

		Vision: VisionConfig{
			HiddenSize:       1280,
			IntermediateSize: 3420,
			PatchSize:        14,
			ImageSize:        448,
			NumLayers:        32,
			NumHeads:         16,
			WindowSize:       112,
			FullAttnBlocks:   []int{7, 15, 23, 31},
			RMSNormEps:       1e-6,
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ModelConfig)
	}{
		{"zero hidden size", func(c *ModelConfig) { c.HiddenSize = 0 }},
		{"zero layers", func(c *ModelConfig) { c.NumLayers = 0 }},
		{"kv heads exceed heads", func(c *ModelConfig) { c.NumKVHeads = 32 }},
		{"heads not divisible by kv heads", func(c *ModelConfig) { c.NumKVHeads = 3 }},
		{"hidden not divisible by heads", func(c *ModelConfig) { c.NumHeads = 13 }},
		{"zero rope base", func(c *ModelConfig) { c.RopeBase = 0 }},
		{"image not multiple of patch", func(c *ModelConfig) { c.Vision.ImageSize = 450 }},
		{"full attention index out of range", func(c *ModelConfig) { c.Vision.FullAttnBlocks = []int{32} }},
		{"zero vision intermediate", func(c *ModelConfig) { c.Vision.IntermediateSize = 0 }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestNumPatches(t *testing.T) {
	c := validConfig()
	if got := c.NumPatches(); got != 1024 {
		t.Errorf("NumPatches = %d, want 1024 for a 448px image with 14px patches", got)
	}
}

func TestHeadDim(t *testing.T) {
	c := validConfig()
	if got := c.HeadDim(); got != 128 {
		t.Errorf("HeadDim = %d, want 128", got)
	}
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadModelConfig(dir); err == nil {
			t.Error("expected error for missing config.json")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
			"model_type": "qwen2_5_vl",
			"hidden_size": 64,
			"num_hidden_layers": 2,
			"num_attention_heads": 4,
			"num_key_value_heads": 2,
			"intermediate_size": 128,
			"vocab_size": 256,
			"max_position_embeddings": 4096,
			"rope_theta": 10000,
			"rms_norm_eps": 1e-6,
			"vision_start_token_id": 4,
			"vision_end_token_id": 5,
			"image_token_id": 6,
			"eos_token_id": 3,
			"vision_config": {
				"hidden_size": 32,
				"intermediate_size": 64,
				"patch_size": 2,
				"image_size": 8,
				"depth": 2,
				"num_heads": 2,
				"window_size": 4,
				"fullatt_block_indexes": [1],
				"rms_norm_eps": 1e-6
			}
		}`), 0o644)
		if err != nil {
			t.Fatal(err)
		}

		c, err := LoadModelConfig(dir)
		if err != nil {
			t.Fatalf("LoadModelConfig: %v", err)
		}

		if c.HiddenSize != 64 || c.Vision.PatchSize != 2 || c.NumPatches() != 16 {
			t.Errorf("unexpected parse: hidden=%d patch=%d patches=%d",
				c.HiddenSize, c.Vision.PatchSize, c.NumPatches())
		}
	})

	t.Run("invalid dimensions rejected", func(t *testing.T) {
		bad := t.TempDir()
		err := os.WriteFile(filepath.Join(bad, "config.json"), []byte(`{"hidden_size": -1}`), 0o644)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := LoadModelConfig(bad); err == nil {
			t.Error("expected validation error")
		}
	})
}
