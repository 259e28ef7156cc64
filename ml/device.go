// Package ml provides the compute kernels for the transformer forward
// passes. All tensors are flat row-major []float32 slices; matrix shapes
// are passed explicitly.
package ml

import (
	"log/slog"

	"github.com/PiaoShihao/photocritic/envconfig"
)

// Device is the resolved compute backend for a pipeline. It is chosen once
// at construction and injected into every component that runs kernels,
// rather than consulted as ambient global state.
type Device struct {
	// Name identifies the backend. Only the portable CPU backend is
	// compiled into this build; a GPU request falls back to it.
	Name string

	// Threads is the number of goroutines a single forward pass may fan
	// out to. Parallelism never crosses a decoding step boundary.
	Threads int
}

// Resolve picks the best available backend for the requested device name.
func Resolve(requested string) Device {
	d := Device{Name: "cpu", Threads: envconfig.NumThreads()}
	if requested != "" && requested != "cpu" {
		slog.Warn("requested device is not available in this build, using cpu", "device", requested)
	}

	slog.Debug("resolved compute device", "name", d.Name, "threads", d.Threads)
	return d
}
