// Package nn provides the weight-bearing modules the models are composed
// of. Modules hold their parameters as flat row-major float32 slices and
// run on the device handed to Forward.
package nn

import (
	"github.com/PiaoShihao/photocritic/ml"
)

// Linear is an affine map from In to Out features. Bias may be nil.
type Linear struct {
	Weight []float32 // Out rows of In columns
	Bias   []float32
	In     int
	Out    int
}

func (l *Linear) Forward(d ml.Device, x []float32) []float32 {
	dst := make([]float32, l.Out)
	d.MatVec(dst, l.Weight, x, l.Out, l.In)
	if l.Bias != nil {
		ml.Axpy(1, l.Bias, dst)
	}
	return dst
}

// Embedding is a lookup table of Dim-wide rows.
type Embedding struct {
	Weight []float32
	Dim    int
}

// Forward returns a copy of the embedding row so callers may mutate it
// without aliasing the table.
func (e *Embedding) Forward(id int32) []float32 {
	dst := make([]float32, e.Dim)
	copy(dst, e.Weight[int(id)*e.Dim:(int(id)+1)*e.Dim])
	return dst
}

// RMSNorm applies root-mean-square scale normalization with a learned
// per-channel gain.
type RMSNorm struct {
	Weight []float32
	Eps    float32
}

func (n *RMSNorm) Forward(x []float32) []float32 {
	dst := make([]float32, len(x))
	ml.RMSNorm(dst, x, n.Weight, n.Eps)
	return dst
}
