package samplesize

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	DefaultMaxSamples = 1_000_000
	precision         = 256
)

var (
	ErrOverflow         = errors.New("samplesize: no sample size satisfies the bound within the search limit")
	ErrInvalidParameter = errors.New("samplesize: invalid parameter")
)

// Dimension counts the decision variables the robustness bound depends on:
// affine rule coefficients plus one value variable per category. Overflow
// variables are not counted.
func Dimension(flights, categories, windows, operations int, linear bool) int {
	nw := flights*categories*windows*operations + categories
	if linear {
		nw += flights * categories * (windows * (windows - 1) / 2) * operations
	}
	return nw
}

// Estimate returns the smallest N >= nw such that
// sum_{i<nw} C(N,i) eps^i (1-eps)^(N-i) <= beta.
func Estimate(epsilon, beta float64, nw, maxN int) (int, error) {
	if epsilon <= 0 || epsilon >= 1 {
		return 0, fmt.Errorf("%w: epsilon %g not in (0,1)", ErrInvalidParameter, epsilon)
	}
	if beta <= 0 || beta >= 1 {
		return 0, fmt.Errorf("%w: beta %g not in (0,1)", ErrInvalidParameter, beta)
	}
	if nw < 1 {
		return 0, fmt.Errorf("%w: dimension %d < 1", ErrInvalidParameter, nw)
	}
	if maxN <= 0 {
		maxN = DefaultMaxSamples
	}
	if maxN < nw {
		return 0, fmt.Errorf("%w: dimension %d exceeds limit %d", ErrOverflow, nw, maxN)
	}

	b := newBound(epsilon, beta, nw)
	if b.satisfied(nw) {
		return nw, nil
	}
	// The tail is non-increasing in N, so gallop to a satisfying N and bisect.
	lo := nw
	hi := -1
	for step := 1; ; step *= 2 {
		cand := nw + step
		if cand >= maxN {
			if !b.satisfied(maxN) {
				return 0, fmt.Errorf("%w: epsilon=%g beta=%g dimension=%d limit=%d", ErrOverflow, epsilon, beta, nw, maxN)
			}
			hi = maxN
			break
		}
		if b.satisfied(cand) {
			hi = cand
			break
		}
		lo = cand
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if b.satisfied(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

type bound struct {
	eps  *big.Float
	q    *big.Float
	beta *big.Float
	nw   int
}

func newBound(epsilon, beta float64, nw int) *bound {
	return &bound{
		eps:  newFloat().SetFloat64(epsilon),
		q:    newFloat().SetFloat64(1 - epsilon),
		beta: newFloat().SetFloat64(beta),
		nw:   nw,
	}
}

func (b *bound) satisfied(n int) bool {
	return Tail(n, b.nw, b.eps, b.q).Cmp(b.beta) <= 0
}

// Tail evaluates P(Binomial(n, eps) < nw) with exact binomial coefficients.
func Tail(n, nw int, eps, q *big.Float) *big.Float {
	sum := newFloat()
	coef := big.NewInt(1)
	for i := 0; i < nw && i <= n; i++ {
		if i > 0 {
			coef.Mul(coef, big.NewInt(int64(n-i+1)))
			coef.Quo(coef, big.NewInt(int64(i)))
		}
		term := newFloat().SetInt(coef)
		term.Mul(term, pow(eps, i))
		term.Mul(term, pow(q, n-i))
		sum.Add(sum, term)
	}
	return sum
}

func pow(x *big.Float, k int) *big.Float {
	result := newFloat().SetFloat64(1)
	base := newFloat().Set(x)
	for k > 0 {
		if k&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		k >>= 1
	}
	return result
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(precision)
}
