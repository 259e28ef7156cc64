package model

import (
	"slices"
	"testing"
)

func TestApplyChatTemplateWithImage(t *testing.T) {
	m := newTestModel(t, 1)
	v := m.Vocabulary()

	ids, err := m.ApplyChatTemplate("rate this photo", true)
	if err != nil {
		t.Fatalf("ApplyChatTemplate: %v", err)
	}

	var placeholders int
	for _, id := range ids {
		if v.Is(id, SpecialImage) {
			placeholders++
		}
	}
	if placeholders != m.config.NumPatches() {
		t.Errorf("placeholders = %d, want %d (one per patch)", placeholders, m.config.NumPatches())
	}

	// Vision markers bracket the placeholder run, strictly before the
	// user prompt text.
	start := slices.Index(ids, v.VisionStart)
	end := slices.Index(ids, v.VisionEnd)
	if start < 0 || end < 0 || end != start+m.config.NumPatches()+1 {
		t.Fatalf("vision markers misplaced: start=%d end=%d", start, end)
	}
	for i := start + 1; i < end; i++ {
		if !v.Is(ids[i], SpecialImage) {
			t.Fatalf("token at %d inside vision span is not a placeholder", i)
		}
	}

	promptIDs, err := m.Encode("rate this photo")
	if err != nil {
		t.Fatal(err)
	}
	promptAt := indexOfSubsequence(ids, promptIDs)
	if promptAt < 0 {
		t.Fatal("prompt tokens not found in templated sequence")
	}
	if promptAt <= end {
		t.Errorf("prompt tokens at %d precede vision end marker at %d", promptAt, end)
	}
}

func TestApplyChatTemplateTextOnly(t *testing.T) {
	m := newTestModel(t, 1)
	v := m.Vocabulary()

	ids, err := m.ApplyChatTemplate("describe composition", false)
	if err != nil {
		t.Fatalf("ApplyChatTemplate: %v", err)
	}

	for i, id := range ids {
		if v.Is(id, SpecialImage) || v.Is(id, SpecialVisionStart) || v.Is(id, SpecialVisionEnd) {
			t.Errorf("vision token at %d in a text-only prompt", i)
		}
	}

	// The assistant turn opener must come last so generation continues
	// the assistant message.
	imStart := v.Encode("<|im_start|>")
	last := -1
	for i, id := range ids {
		if id == imStart {
			last = i
		}
	}
	suffix, err := m.Decode(ids[last:])
	if err != nil {
		t.Fatal(err)
	}
	if suffix != "assistant\n" {
		t.Errorf("sequence tail = %q, want assistant turn opener", suffix)
	}
}

func indexOfSubsequence(haystack, needle []int32) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}
