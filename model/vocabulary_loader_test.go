package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiaoShihao/photocritic/fs"
)

func writeTokenizer(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(body), 0o644))
	return dir
}

func loaderConfig() *fs.ModelConfig {
	return &fs.ModelConfig{
		ImageTokenID:       6,
		VisionStartTokenID: 7,
		VisionEndTokenID:   8,
		EOSTokenID:         5,
	}
}

func TestLoadVocabulary(t *testing.T) {
	dir := writeTokenizer(t, `{
		"added_tokens": [
			{"id": 5, "content": "<|endoftext|>", "special": true},
			{"id": 6, "content": "<|image_pad|>", "special": true},
			{"id": 7, "content": "<|vision_start|>", "special": true},
			{"id": 8, "content": "<|vision_end|>", "special": true}
		],
		"model": {
			"type": "BPE",
			"vocab": {"a": 0, "b": 1, "c": 2, "ab": 3, "abc": 4},
			"merges": ["a b", "ab c"]
		}
	}`)

	v, err := LoadVocabulary(dir, loaderConfig())
	require.NoError(t, err)

	assert.Equal(t, int32(3), v.Encode("ab"))
	assert.True(t, v.IsControl(6))
	assert.False(t, v.IsControl(3))
	assert.Equal(t, int32(6), v.Image)
	assert.Equal(t, int32(7), v.VisionStart)
	assert.Equal(t, int32(8), v.VisionEnd)
	assert.Equal(t, []int32{5}, v.EOS)

	assert.Equal(t, 0, v.Merge("a", "b"))
	assert.Equal(t, 1, v.Merge("ab", "c"))
	assert.Equal(t, -1, v.Merge("b", "c"))
}

func TestLoadVocabularyNestedMerges(t *testing.T) {
	dir := writeTokenizer(t, `{
		"added_tokens": [
			{"id": 5, "content": "<|endoftext|>", "special": true},
			{"id": 6, "content": "<|image_pad|>", "special": true},
			{"id": 7, "content": "<|vision_start|>", "special": true},
			{"id": 8, "content": "<|vision_end|>", "special": true}
		],
		"model": {
			"type": "BPE",
			"vocab": {"a": 0, "b": 1, "ab": 2},
			"merges": [["a", "b"]]
		}
	}`)

	v, err := LoadVocabulary(dir, loaderConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Merge("a", "b"))
}

func TestLoadVocabularyErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadVocabulary(t.TempDir(), loaderConfig())
		assert.Error(t, err)
	})

	t.Run("unsupported tokenizer type", func(t *testing.T) {
		dir := writeTokenizer(t, `{"model": {"type": "Unigram", "vocab": {}}}`)
		_, err := LoadVocabulary(dir, loaderConfig())
		assert.Error(t, err)
	})

	t.Run("missing special tokens", func(t *testing.T) {
		dir := writeTokenizer(t, `{"model": {"type": "BPE", "vocab": {"a": 0}}}`)
		_, err := LoadVocabulary(dir, loaderConfig())
		assert.Error(t, err)
	})
}
