package api

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestErrorsUnwrap(t *testing.T) {
	cause := fs.ErrNotExist

	cases := []error{
		&ModelLoadError{Path: "./Models", Err: cause},
		&ImageError{Path: "photo.jpg", Err: cause},
		&InferenceError{Step: 3, Err: cause},
	}

	for _, err := range cases {
		t.Run(fmt.Sprintf("%T", err), func(t *testing.T) {
			if !errors.Is(err, cause) {
				t.Errorf("errors.Is(%v, cause) = false, want true", err)
			}

			wrapped := fmt.Errorf("request failed: %w", err)
			switch err.(type) {
			case *ModelLoadError:
				var target *ModelLoadError
				if !errors.As(wrapped, &target) {
					t.Error("errors.As failed to recover ModelLoadError")
				}
			case *ImageError:
				var target *ImageError
				if !errors.As(wrapped, &target) {
					t.Error("errors.As failed to recover ImageError")
				}
			case *InferenceError:
				var target *InferenceError
				if !errors.As(wrapped, &target) {
					t.Error("errors.As failed to recover InferenceError")
				}
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want []string
	}{
		{&ModelLoadError{Path: "./Models", Err: errors.New("no config")}, []string{"load", "./Models", "no config"}},
		{&ImageError{Path: "a.webp", Err: errors.New("bad header")}, []string{"preprocess", "a.webp", "bad header"}},
		{&ShapeError{Stage: StageEncode, What: "patch width", Want: 1280, Got: 640}, []string{"encode", "patch width", "1280", "640"}},
		{&FusionError{Placeholders: 4, Embeddings: 2}, []string{"fusion", "4", "2"}},
		{&InferenceError{Step: 7, Err: errors.New("non-finite logits")}, []string{"decode", "step 7", "non-finite"}},
	}

	for _, tt := range cases {
		msg := tt.err.Error()
		for _, want := range tt.want {
			if !strings.Contains(msg, want) {
				t.Errorf("%T message %q missing %q", tt.err, msg, want)
			}
		}
	}
}
