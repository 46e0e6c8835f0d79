package dsp

import (
	"math"
	"sync"
)

// dct4 tables are cached per transform length; only the long and short
// coefficient counts ever occur.
var (
	dct4Mu     sync.Mutex
	dct4Tables = map[int][]float64{}
)

// dct4Table returns the m-by-m kernel cos(pi/m (k+1/2)(j+1/2)) as a flat
// row-major table.
func dct4Table(m int) []float64 {
	dct4Mu.Lock()
	defer dct4Mu.Unlock()
	if tab, ok := dct4Tables[m]; ok {
		return tab
	}
	tab := make([]float64, m*m)
	for k := 0; k < m; k++ {
		for j := 0; j < m; j++ {
			tab[k*m+j] = math.Cos(math.Pi / float64(m) * (float64(k) + 0.5) * (float64(j) + 0.5))
		}
	}
	dct4Tables[m] = tab
	return tab
}

// dct4 computes the length-m DCT-IV of c. The transform is its own
// inverse up to a factor of 2/m.
func dct4(c []float64) []float64 {
	m := len(c)
	tab := dct4Table(m)
	out := make([]float64, m)
	for j := 0; j < m; j++ {
		var sum float64
		for k := 0; k < m; k++ {
			sum += c[k] * tab[k*m+j]
		}
		out[j] = sum
	}
	return out
}

// Mdct computes the forward MDCT of the 2m input samples x using the
// window win, returning m coefficients. The input is windowed, folded
// into an m-point sequence and passed through a DCT-IV:
//
//	X[j] = sum(win[n]*x[n] * cos(pi/m (n + 1/2 + m/2)(j + 1/2)), n=0..2m-1)
func Mdct(x, win []float64) []float64 {
	n := len(x)
	m := n / 2
	half := m / 2
	c := make([]float64, m)
	for k := 0; k < half; k++ {
		c[k] = -win[3*half-1-k]*x[3*half-1-k] - win[k+3*half]*x[k+3*half]
	}
	for k := half; k < m; k++ {
		c[k] = win[k-half]*x[k-half] - win[3*half-1-k]*x[3*half-1-k]
	}
	return dct4(c)
}

// Imdct computes the inverse MDCT of the m coefficients X, returning 2m
// windowed output samples ready to be overlap-added:
//
//	y[n] = win[n] * 2/m * sum(X[j] * cos(pi/m (n + 1/2 + m/2)(j + 1/2)), j=0..m-1)
func Imdct(X, win []float64) []float64 {
	m := len(X)
	half := m / 2
	d := dct4(X)
	scale := 2 / float64(m)
	y := make([]float64, 2*m)
	for n := 0; n < half; n++ {
		y[n] = win[n] * scale * d[n+half]
	}
	for n := half; n < m+half; n++ {
		y[n] = -win[n] * scale * d[m+half-1-n]
	}
	for n := m + half; n < 2*m; n++ {
		y[n] = -win[n] * scale * d[n-m-half]
	}
	return y
}
