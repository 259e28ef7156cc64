package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/kvcache"
)

func testEmbeds(m *Model, ids ...int32) [][]float32 {
	embeds := make([][]float32, len(ids))
	for i, id := range ids {
		embeds[i] = m.Embed(id)
	}
	return embeds
}

// Incremental decoding against the cache must produce the same logits as
// re-scoring the whole sequence from an empty cache.
func TestForwardIncrementalMatchesFull(t *testing.T) {
	m := newTestModel(t, 3)
	ids := []int32{10, 20, 30, 40, 50}

	incremental := kvcache.NewCausal(m.config.NumLayers)
	if _, err := m.TextModel.Forward(m.Device(), testEmbeds(m, ids[:4]...), incremental); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	got, err := m.TextModel.Forward(m.Device(), testEmbeds(m, ids[4]), incremental)
	if err != nil {
		t.Fatalf("incremental step: %v", err)
	}

	full := kvcache.NewCausal(m.config.NumLayers)
	want, err := m.TextModel.Forward(m.Device(), testEmbeds(m, ids...), full)
	if err != nil {
		t.Fatalf("full re-score: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("incremental logits diverge from full re-score (-full +incremental):\n%s", diff)
	}
}

func TestForwardDeterministic(t *testing.T) {
	m := newTestModel(t, 4)
	ids := []int32{1, 2, 3}

	a, err := m.TextModel.Forward(m.Device(), testEmbeds(m, ids...), kvcache.NewCausal(m.config.NumLayers))
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.TextModel.Forward(m.Device(), testEmbeds(m, ids...), kvcache.NewCausal(m.config.NumLayers))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same input produced different logits (-first +second):\n%s", diff)
	}
}

func TestForwardLogitsShape(t *testing.T) {
	m := newTestModel(t, 5)

	logits, err := m.TextModel.Forward(m.Device(), testEmbeds(m, 7), kvcache.NewCausal(m.config.NumLayers))
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != m.config.VocabSize {
		t.Errorf("logits length = %d, want vocab size %d", len(logits), m.config.VocabSize)
	}
}

func TestForwardRejectsBadWidth(t *testing.T) {
	m := newTestModel(t, 5)

	_, err := m.TextModel.Forward(m.Device(), [][]float32{make([]float32, 3)}, kvcache.NewCausal(m.config.NumLayers))
	var se *api.ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want ShapeError", err)
	}
	if se.Want != m.config.HiddenSize || se.Got != 3 {
		t.Errorf("ShapeError want=%d got=%d", se.Want, se.Got)
	}
}

func TestForwardEmptySequence(t *testing.T) {
	m := newTestModel(t, 5)
	if _, err := m.TextModel.Forward(m.Device(), nil, kvcache.NewCausal(m.config.NumLayers)); err == nil {
		t.Error("expected error for empty sequence")
	}
}
