// Package runner drives the token generation loop over a fused embedding
// sequence: one prefill pass, then incremental KV-cached decode steps
// until end-of-sequence, the token budget, or cancellation.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/kvcache"
	"github.com/PiaoShihao/photocritic/logutil"
	"github.com/PiaoShihao/photocritic/model"
	"github.com/PiaoShihao/photocritic/sample"
)

// DefaultMaxTokens bounds generation when the request does not.
const DefaultMaxTokens = 512

var errEmptySequence = errors.New("empty embedding sequence")

type state int

const (
	statePrefill state = iota
	stateDecoding
	stateStoppedEOS
	stateStoppedLimit
	stateStoppedCancelled
)

func (s state) String() string {
	switch s {
	case statePrefill:
		return "prefill"
	case stateDecoding:
		return "decoding"
	case stateStoppedEOS:
		return "stopped_eos"
	case stateStoppedLimit:
		return "stopped_limit"
	case stateStoppedCancelled:
		return "stopped_cancelled"
	}
	return "unknown"
}

// CompletionRequest carries one generation over an already-fused
// embedding sequence.
type CompletionRequest struct {
	// Embeds is the fused prompt: one embedding vector per position,
	// text and visual interleaved in prompt order.
	Embeds [][]float32

	// MaxTokens bounds the number of new tokens. Zero means
	// DefaultMaxTokens.
	MaxTokens int

	Sampler sample.Sampler
}

// Runner owns a model and its KV cache. At most one completion runs at
// a time; the cache is reset at the start of every request, so no state
// leaks between generations.
type Runner struct {
	model *model.Model
	cache *kvcache.Causal

	mu sync.Mutex
}

func NewRunner(m *model.Model) *Runner {
	return &Runner{
		model: m,
		cache: kvcache.NewCausal(m.Config().NumLayers),
	}
}

// ClearCache releases the key/value vectors held from the last completion.
// It takes the same mutex as Completion, so it never runs while a
// generation is in flight.
func (r *Runner) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Reset()
}

// Completion generates tokens for req, invoking fn once per decoded
// token and a final time with Done set. Cancellation via ctx is a
// normal termination: fn receives DoneReasonCancel and Completion
// returns nil. The context is polled between decode steps, so at most
// one token is produced after cancellation is observed.
func (r *Runner) Completion(ctx context.Context, req CompletionRequest, fn func(api.GenerateResponse)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(req.Embeds) == 0 {
		return &api.InferenceError{Step: 0, Err: errEmptySequence}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	requestID := uuid.New().String()
	start := time.Now()
	slog.Debug("completion started", "id", requestID, "prompt_len", len(req.Embeds), "max_tokens", maxTokens)

	r.cache.Reset()

	finish := func(s state, reason api.DoneReason, count int) {
		slog.Debug("completion finished", "id", requestID, "state", s.String(),
			"eval_count", count, "duration", time.Since(start))
		fn(api.GenerateResponse{
			Done:          true,
			DoneReason:    reason,
			TotalDuration: time.Since(start),
			EvalCount:     count,
		})
	}

	cur := statePrefill
	embeds := req.Embeds
	var count int

	for {
		if ctx.Err() != nil {
			finish(stateStoppedCancelled, api.DoneReasonCancel, count)
			return nil
		}

		logutil.Trace("forward", "id", requestID, "state", cur.String(), "step", count)

		logits, err := r.model.TextModel.Forward(r.model.Device(), embeds, r.cache)
		if err != nil {
			return &api.InferenceError{Step: count, Err: err}
		}

		tok, err := req.Sampler.Sample(logits)
		if err != nil {
			return &api.InferenceError{Step: count, Err: err}
		}

		if r.model.IsEOS(tok) {
			finish(stateStoppedEOS, api.DoneReasonStop, count)
			return nil
		}

		count++

		piece, err := r.model.Decode([]int32{tok})
		if err != nil {
			return &api.InferenceError{Step: count, Err: err}
		}

		fn(api.GenerateResponse{Content: piece, Token: tok})

		if count >= maxTokens {
			finish(stateStoppedLimit, api.DoneReasonLength, count)
			return nil
		}

		// Incremental step: only the freshly sampled token is fed back;
		// everything earlier is served from the cache.
		cur = stateDecoding
		embeds = [][]float32{r.model.Embed(tok)}
	}
}
