package ml

import (
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// minParallelRows is the matrix height below which fanning out to multiple
// goroutines costs more than it saves.
const minParallelRows = 256

// MatVec computes dst = w · x where w is a rows×cols row-major matrix.
// Rows are split across the device's threads; each output element is
// written exactly once so the result is deterministic.
func (d Device) MatVec(dst, w, x []float32, rows, cols int) {
	gemv := func(lo, hi int) {
		blas32.Gemv(blas.NoTrans, 1,
			blas32.General{Rows: hi - lo, Cols: cols, Stride: cols, Data: w[lo*cols : hi*cols]},
			blas32.Vector{N: cols, Inc: 1, Data: x},
			0,
			blas32.Vector{N: hi - lo, Inc: 1, Data: dst[lo:hi]})
	}

	if d.Threads <= 1 || rows < minParallelRows {
		gemv(0, rows)
		return
	}

	var g errgroup.Group
	chunk := (rows + d.Threads - 1) / d.Threads
	for lo := 0; lo < rows; lo += chunk {
		lo, hi := lo, min(lo+chunk, rows)
		g.Go(func() error {
			gemv(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// Dot returns the inner product of two equal-length vectors.
func Dot(x, y []float32) float32 {
	return blas32.Dot(
		blas32.Vector{N: len(x), Inc: 1, Data: x},
		blas32.Vector{N: len(y), Inc: 1, Data: y})
}

// Axpy computes y += alpha*x.
func Axpy(alpha float32, x, y []float32) {
	blas32.Axpy(alpha,
		blas32.Vector{N: len(x), Inc: 1, Data: x},
		blas32.Vector{N: len(y), Inc: 1, Data: y})
}

// RMSNorm writes weight*(x/rms(x)) into dst. Root-mean-square scale
// normalization only; no mean centering.
func RMSNorm(dst, x, weight []float32, eps float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	inv := float32(1 / math.Sqrt(float64(ss/float32(len(x))+eps)))

	for i, v := range x {
		dst[i] = weight[i] * (inv * v)
	}
}

// Softmax normalizes x in place, subtracting the max logit first to avoid
// overflow.
func Softmax(x []float32) {
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - maxVal)))
		sum += x[i]
	}

	for i := range x {
		x[i] /= sum
	}
}

// SiLU computes the sigmoid-gated linear unit x*sigmoid(x) elementwise in
// place.
func SiLU(x []float32) {
	for i, v := range x {
		x[i] = v / (1 + float32(math.Exp(float64(-v))))
	}
}

// RoPE rotates consecutive pairs within each head of x by a position
// dependent angle. x is a flat concatenation of heads of headDim elements.
// The angle for pair j uses frequency base^(-j/headDim), so attention
// scores depend only on relative position.
func RoPE(x []float32, headDim, pos int, base float32) {
	numHeads := len(x) / headDim
	for h := range numHeads {
		head := x[h*headDim : (h+1)*headDim]
		for j := 0; j < headDim; j += 2 {
			freq := 1 / math.Pow(float64(base), float64(j)/float64(headDim))
			theta := float64(pos) * freq
			cos, sin := float32(math.Cos(theta)), float32(math.Sin(theta))

			x0, x1 := head[j], head[j+1]
			head[j] = x0*cos - x1*sin
			head[j+1] = x0*sin + x1*cos
		}
	}
}

// AllFinite reports whether x is free of NaN and Inf values.
func AllFinite(x []float32) bool {
	for _, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
