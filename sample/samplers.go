// Package sample selects the next token from a logit distribution.
package sample

import (
	"errors"
	"math/rand/v2"
	"slices"
)

// token represents information about a single token during sampling
type token struct {
	id    int32   // The token's unique identifier
	value float32 // The raw logit or probability from the model
}

// Sampler picks a token id from vocabulary logits. A zero temperature
// sampler is deterministic argmax; otherwise logits are temperature
// scaled, optionally truncated by topK/topP, normalized, and sampled.
type Sampler struct {
	rng         *rand.Rand
	topK        int
	topP        float32
	temperature float32
}

// NewSampler builds a sampler. topK <= 0 and topP >= 1 disable their
// truncations. A non-zero seed makes sampling reproducible.
func NewSampler(temperature float32, topK int, topP float32, seed int64) Sampler {
	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	}

	return Sampler{
		rng:         rng,
		topK:        topK,
		topP:        topP,
		temperature: temperature,
	}
}

func (s Sampler) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return -1, errors.New("sample: no logits provided to sample")
	}

	tokens := make([]token, len(logits))
	for i := range logits {
		tokens[i].id = int32(i)
		tokens[i].value = logits[i]
	}

	if s.temperature == 0 {
		return greedy(tokens).id, nil
	}

	tokens = topK(tokens, s.topK)
	temperature(tokens, s.temperature)
	softmax(tokens)
	tokens = topP(tokens, s.topP)

	var r float32
	if s.rng != nil {
		r = s.rng.Float32()
	} else {
		r = rand.Float32()
	}

	// Calculate cumulative sum of probabilities
	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		tokens[i].value = sum
	}
	r *= tokens[len(tokens)-1].value

	idx, _ := slices.BinarySearchFunc(tokens, r, func(token token, target float32) int {
		if token.value < target {
			return -1
		}
		return 1
	})
	if idx >= len(tokens) {
		idx = len(tokens) - 1
	}

	return tokens[idx].id, nil
}

// greedy returns the highest probability token from the tokens
func greedy(tokens []token) token {
	max := tokens[0]
	for i := 1; i < len(tokens); i++ {
		if tokens[i].value > max.value {
			max = tokens[i]
		}
	}

	return max
}
