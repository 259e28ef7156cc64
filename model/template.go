package model

import (
	"fmt"
)

const defaultSystemPrompt = "You are a helpful assistant."

// ApplyChatTemplate wraps a raw user prompt in the ChatML layout the model
// was trained on. When an image accompanies the prompt, a vision-start
// marker, one image placeholder per vision patch, and a vision-end marker
// are inserted before the textual prompt tokens. The sequence builder
// depends on that ordering.
func (m *Model) ApplyChatTemplate(prompt string, hasImage bool) ([]int32, error) {
	v := m.Vocabulary()

	imStart := v.Encode("<|im_start|>")
	imEnd := v.Encode("<|im_end|>")
	if imStart < 0 || imEnd < 0 {
		return nil, fmt.Errorf("encode: vocabulary is missing chat role markers")
	}

	newline, err := m.Encode("\n")
	if err != nil {
		return nil, err
	}

	var ids []int32
	appendText := func(s string) error {
		enc, err := m.Encode(s)
		if err != nil {
			return err
		}
		ids = append(ids, enc...)
		return nil
	}

	ids = append(ids, imStart)
	if err := appendText("system\n" + defaultSystemPrompt); err != nil {
		return nil, err
	}
	ids = append(ids, imEnd)
	ids = append(ids, newline...)

	ids = append(ids, imStart)
	if err := appendText("user\n"); err != nil {
		return nil, err
	}

	if hasImage {
		ids = append(ids, v.VisionStart)
		for range m.config.NumPatches() {
			ids = append(ids, v.Image)
		}
		ids = append(ids, v.VisionEnd)
	}

	if err := appendText(prompt); err != nil {
		return nil, err
	}
	ids = append(ids, imEnd)
	ids = append(ids, newline...)

	ids = append(ids, imStart)
	if err := appendText("assistant\n"); err != nil {
		return nil, err
	}

	return ids, nil
}
