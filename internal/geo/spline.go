package geo

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInsufficientSamples is returned when a spline fit is requested with
// fewer than two samples.
var ErrInsufficientSamples = errors.New("geo: at least 2 samples required for spline fit")

// CubicSpline is a natural cubic spline fitted through a set of samples.
// Between knots x[i] and x[i+1] the curve is
//
//	s(t) = a[i] + b[i]*(t-x[i]) + c[i]*(t-x[i])^2 + d[i]*(t-x[i])^3
//
// with zero curvature at both boundary knots. Evaluation outside the
// fitted range extrapolates the boundary segment.
type CubicSpline struct {
	xs []float64
	a  []float64
	b  []float64
	c  []float64
	d  []float64
}

// NewCubicSpline fits a natural cubic spline through (xs[i], ys[i]).
// xs must be strictly increasing and of the same length as ys.
func NewCubicSpline(xs, ys []float64) (*CubicSpline, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("geo: mismatched sample lengths (%d xs, %d ys)", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, ErrInsufficientSamples
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("geo: spline samples must be strictly increasing at index %d", i)
		}
	}

	n := len(xs)
	h := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		h[i] = xs[i+1] - xs[i]
	}

	// Solve the tridiagonal system for the second derivatives (Thomas
	// algorithm). Natural boundary: m[0] = m[n-1] = 0.
	m := make([]float64, n)
	if n > 2 {
		sub := make([]float64, n-2)  // below diagonal
		diag := make([]float64, n-2) // diagonal
		sup := make([]float64, n-2)  // above diagonal
		rhs := make([]float64, n-2)

		for i := 1; i < n-1; i++ {
			sub[i-1] = h[i-1]
			diag[i-1] = 2 * (h[i-1] + h[i])
			sup[i-1] = h[i]
			rhs[i-1] = 6 * ((ys[i+1]-ys[i])/h[i] - (ys[i]-ys[i-1])/h[i-1])
		}

		for i := 1; i < n-2; i++ {
			w := sub[i] / diag[i-1]
			diag[i] -= w * sup[i-1]
			rhs[i] -= w * rhs[i-1]
		}

		m[n-2] = rhs[n-3] / diag[n-3]
		for i := n - 4; i >= 0; i-- {
			m[i+1] = (rhs[i] - sup[i]*m[i+2]) / diag[i]
		}
	}

	s := &CubicSpline{
		xs: append([]float64(nil), xs...),
		a:  make([]float64, n-1),
		b:  make([]float64, n-1),
		c:  make([]float64, n-1),
		d:  make([]float64, n-1),
	}
	for i := 0; i < n-1; i++ {
		s.a[i] = ys[i]
		s.b[i] = (ys[i+1]-ys[i])/h[i] - h[i]*(2*m[i]+m[i+1])/6
		s.c[i] = m[i] / 2
		s.d[i] = (m[i+1] - m[i]) / (6 * h[i])
	}

	return s, nil
}

// segment returns the index of the polynomial segment containing t
func (s *CubicSpline) segment(t float64) int {
	i := sort.SearchFloat64s(s.xs, t) - 1
	if i < 0 {
		i = 0
	}
	if i > len(s.a)-1 {
		i = len(s.a) - 1
	}
	return i
}

// At evaluates the spline at t
func (s *CubicSpline) At(t float64) float64 {
	i := s.segment(t)
	dt := t - s.xs[i]
	return s.a[i] + dt*(s.b[i]+dt*(s.c[i]+dt*s.d[i]))
}

// Slope evaluates the first derivative at t
func (s *CubicSpline) Slope(t float64) float64 {
	i := s.segment(t)
	dt := t - s.xs[i]
	return s.b[i] + dt*(2*s.c[i]+3*dt*s.d[i])
}

// Curvature evaluates the second derivative at t
func (s *CubicSpline) Curvature(t float64) float64 {
	i := s.segment(t)
	dt := t - s.xs[i]
	return 2*s.c[i] + 6*dt*s.d[i]
}
