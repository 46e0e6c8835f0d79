// Package lpc implements the linear-prediction analysis used by the
// lossless path: autocorrelation, the Levinson-Durbin recursion and
// fixed-point quantization of the resulting predictor coefficients.
package lpc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CoeffPrecision is the number of fractional bits targeted when
// quantizing predictor coefficients.
const CoeffPrecision = 15

// Autocorrelation returns the autocorrelation of x at lags 0 through
// maxLag. Lags beyond the signal length are zero.
func Autocorrelation(x []float64, maxLag int) []float64 {
	r := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag && lag < len(x); lag++ {
		r[lag] = floats.Dot(x[:len(x)-lag], x[lag:])
	}
	return r
}

// LevinsonDurbin runs the Levinson-Durbin recursion on the
// autocorrelation sequence r and returns predictor coefficient sets for
// orders 1 through maxOrder. The prediction of sample n with the order-k
// set c is sum(c[i]*x[n-1-i], i=0..k-1).
//
// The recursion stops early when it becomes unstable (a non-finite
// value, or a reflection coefficient of magnitude >= 1), so the
// returned slice may hold fewer than maxOrder sets.
func LevinsonDurbin(r []float64, maxOrder int) [][]float64 {
	if maxOrder >= len(r) {
		maxOrder = len(r) - 1
	}
	if maxOrder < 1 || r[0] == 0 {
		return nil
	}
	var sets [][]float64
	a := make([]float64, maxOrder+1)
	prev := make([]float64, maxOrder+1)
	errEnergy := r[0]
	for m := 1; m <= maxOrder; m++ {
		acc := r[m]
		for i := 1; i < m; i++ {
			acc -= a[i] * r[m-i]
		}
		k := acc / errEnergy
		if math.IsNaN(k) || math.IsInf(k, 0) || math.Abs(k) >= 1 {
			break
		}
		copy(prev, a)
		a[m] = k
		for i := 1; i < m; i++ {
			a[i] = prev[i] - k*prev[m-i]
		}
		errEnergy *= 1 - k*k
		set := make([]float64, m)
		copy(set, a[1:m+1])
		sets = append(sets, set)
		if errEnergy <= 0 {
			break
		}
	}
	return sets
}

// Quantize converts floating predictor coefficients to 32-bit integers
// with a shared right-shift. The shift is chosen so the largest
// magnitude coefficient keeps CoeffPrecision fractional bits without
// overflowing the integer range.
func Quantize(c []float64) (q []int32, shift uint8) {
	cmax := 0.0
	for _, v := range c {
		if a := math.Abs(v); a > cmax {
			cmax = a
		}
	}
	shift = CoeffPrecision
	if cmax > 0 {
		for shift > 0 && cmax*float64(uint64(1)<<shift) >= float64(1<<30) {
			shift--
		}
	}
	q = make([]int32, len(c))
	scale := float64(uint64(1) << shift)
	for i, v := range c {
		x := math.Round(v * scale)
		if x > math.MaxInt32 {
			x = math.MaxInt32
		} else if x < math.MinInt32 {
			x = math.MinInt32
		}
		q[i] = int32(x)
	}
	return q, shift
}
