// Package kvcache provides the key/value cache the text decoder accumulates
// attention state in across incremental forward passes.
package kvcache

// Causal stores the key and value vectors for every position already
// scored, per layer. It is an append-only buffer owned exclusively by one
// in-flight generation: the cache is reset at the start of a generation
// call, grows by one position per decoded token, and is discarded (or
// explicitly cleared) when the generation terminates. It must never be
// shared across concurrent generations.
type Causal struct {
	curLayer int

	// keys[layer][position] and values[layer][position] hold one vector of
	// numKVHeads*headDim elements each.
	keys   [][][]float32
	values [][][]float32
}

// NewCausal returns an empty cache for a model with numLayers decoder
// layers.
func NewCausal(numLayers int) *Causal {
	return &Causal{
		keys:   make([][][]float32, numLayers),
		values: make([][][]float32, numLayers),
	}
}

// SetLayer selects the layer subsequent Put, Keys, and Values calls
// operate on.
func (c *Causal) SetLayer(layer int) {
	c.curLayer = layer
}

// Put appends the key and value vectors for the next position of the
// current layer and returns the position index they were stored at. The
// returned index is the rotary position the key must have been encoded
// with, which is what keeps the cache correct across incremental calls.
func (c *Causal) Put(key, value []float32) int {
	pos := len(c.keys[c.curLayer])
	c.keys[c.curLayer] = append(c.keys[c.curLayer], key)
	c.values[c.curLayer] = append(c.values[c.curLayer], value)
	return pos
}

// Keys returns all stored key vectors of the current layer in position
// order.
func (c *Causal) Keys() [][]float32 { return c.keys[c.curLayer] }

// Values returns all stored value vectors of the current layer in position
// order.
func (c *Causal) Values() [][]float32 { return c.values[c.curLayer] }

// Pos returns the position index the next Put on the current layer will
// store at.
func (c *Causal) Pos() int { return len(c.keys[c.curLayer]) }

// Len returns the number of positions stored. All layers hold the same
// count between forward passes.
func (c *Causal) Len() int {
	if len(c.keys) == 0 {
		return 0
	}
	return len(c.keys[0])
}

// Reset empties the cache, releasing all stored vectors. Safe to call only
// when no generation is in flight.
func (c *Causal) Reset() {
	for i := range c.keys {
		c.keys[i] = nil
		c.values[i] = nil
	}
}
