package sample

import (
	"container/heap"
	"math"
	"slices"
)

func temperature(ts []token, temp float32) {
	for i := range ts {
		ts[i].value /= temp
	}
}

// softmax normalizes token values in place, subtracting the maximum
// logit first for numerical stability.
func softmax(ts []token) {
	if len(ts) == 0 {
		return
	}

	max := ts[0].value
	for _, v := range ts {
		if v.value > max {
			max = v.value
		}
	}

	var sum float32
	for i := range ts {
		ts[i].value = float32(math.Exp(float64(ts[i].value - max)))
		sum += ts[i].value
	}

	for i := range ts {
		ts[i].value /= sum
	}
}

// tokenHeap implements heap.Interface and holds tokens as a min-heap to track k largest elements
type tokenHeap []token

func (h tokenHeap) Len() int           { return len(h) }
func (h tokenHeap) Less(i, j int) bool { return h[i].value < h[j].value }
func (h tokenHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *tokenHeap) Push(x any) {
	*h = append(*h, x.(token))
}

func (h *tokenHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK limits the number of tokens considered to the k highest logits
func topK(ts []token, k int) []token {
	if k <= 0 || k >= len(ts) {
		sortLogits(ts)
		return ts
	}

	// Build min-heap of first k elements
	h := make(tokenHeap, k)
	copy(h, ts[:k])
	heap.Init(&h)

	// Process remaining elements - if larger than heap root, replace root
	for i := k; i < len(ts); i++ {
		if ts[i].value > h[0].value {
			h[0] = ts[i]
			heap.Fix(&h, 0)
		}
	}

	// Convert heap to sorted slice in descending order
	result := make([]token, len(h))
	for i := k - 1; i >= 0; i-- {
		result[i] = h[0]
		heap.Pop(&h)
	}

	return result
}

// topP limits tokens to those with cumulative probability p.
// Requires ts to be sorted in descending order of probabilities.
func topP(ts []token, p float32) []token {
	if p == 1.0 || p <= 0 {
		return ts
	}

	// Find cutoff index where cumulative sum exceeds p
	var sum float32
	for i, t := range ts {
		sum += t.value
		if sum > p {
			return ts[:i+1]
		}
	}

	return ts
}

func sortLogits(ts []token) {
	slices.SortStableFunc(ts, func(a, b token) int {
		switch {
		case a.value < b.value:
			return 1
		case a.value > b.value:
			return -1
		default:
			return 0
		}
	})
}
