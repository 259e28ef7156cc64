package kvcache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCausal(t *testing.T) {
	c := NewCausal(2)

	if c.Len() != 0 || c.Pos() != 0 {
		t.Fatalf("new cache not empty: len=%d pos=%d", c.Len(), c.Pos())
	}

	c.SetLayer(0)
	if pos := c.Put([]float32{1}, []float32{10}); pos != 0 {
		t.Errorf("first Put position = %d, want 0", pos)
	}
	if pos := c.Put([]float32{2}, []float32{20}); pos != 1 {
		t.Errorf("second Put position = %d, want 1", pos)
	}

	if diff := cmp.Diff([][]float32{{1}, {2}}, c.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float32{{10}, {20}}, c.Values()); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}

	// Layers are independent.
	c.SetLayer(1)
	if c.Pos() != 0 {
		t.Errorf("layer 1 pos = %d, want 0", c.Pos())
	}
	c.Put([]float32{3}, []float32{30})

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 (layer 0 count)", c.Len())
	}

	c.Reset()
	c.SetLayer(0)
	if c.Len() != 0 || c.Pos() != 0 || len(c.Keys()) != 0 {
		t.Errorf("cache not empty after Reset")
	}
}
