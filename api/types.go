// Package api defines the request and response types shared between the
// photocritic pipeline and its callers, along with the error taxonomy
// surfaced by every stage.
package api

import (
	"encoding/json"
	"time"
)

// GenerateRequest describes a single critique request. ImagePath is
// optional; when empty the model runs text-only.
type GenerateRequest struct {
	// Prompt is the user prompt. When empty, a default aesthetic-analysis
	// prompt is substituted by the caller.
	Prompt string `json:"prompt"`

	// ImagePath is the path to the photograph to critique.
	ImagePath string `json:"image_path,omitempty"`

	// MaxTokens bounds the number of new tokens generated.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling. 0 selects the argmax token every step.
	Temperature float32 `json:"temperature,omitempty"`

	// Seed makes non-zero temperature sampling reproducible.
	Seed int64 `json:"seed,omitempty"`
}

// DoneReason states why a generation terminated.
type DoneReason string

const (
	// DoneReasonStop indicates the model produced an end-of-sequence token.
	DoneReasonStop DoneReason = "stop"
	// DoneReasonLength indicates the new-token budget was reached.
	DoneReasonLength DoneReason = "length"
	// DoneReasonCancel indicates the caller cancelled the request. The
	// partial result remains valid; cancellation is not an error.
	DoneReasonCancel DoneReason = "cancel"
)

// GenerateResponse is one element of the token stream. A response with
// Done set carries no content of its own.
type GenerateResponse struct {
	Content    string     `json:"content"`
	Token      int32      `json:"token"`
	Done       bool       `json:"done"`
	DoneReason DoneReason `json:"done_reason,omitempty"`

	TotalDuration time.Duration `json:"total_duration,omitempty"`
	EvalCount     int           `json:"eval_count,omitempty"`
}

// AestheticScores holds the per-dimension scores extracted from a critique.
type AestheticScores struct {
	Composition                float64 `json:"composition"`
	FocalLength                float64 `json:"focal_length"`
	ContrastExposureBrightness float64 `json:"contrast_exposure_brightness"`
	Overall                    float64 `json:"overall"`
}

// AestheticAnalysis is the structured form of a critique.
type AestheticAnalysis struct {
	CompositionAnalysis                string          `json:"composition_analysis"`
	FocalLengthAnalysis                string          `json:"focal_length_analysis"`
	ContrastExposureBrightnessAnalysis string          `json:"contrast_exposure_brightness_analysis"`
	OverallEvaluation                  string          `json:"overall_evaluation"`
	Suggestions                        string          `json:"suggestions"`
	Scores                             AestheticScores `json:"scores"`
}

func (a AestheticAnalysis) String() string {
	b, _ := json.MarshalIndent(a, "", "  ")
	return string(b)
}
