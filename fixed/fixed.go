// Package fixed implements 17.14 fixed-point arithmetic, the
// representation the MLFQ scheduler uses for recent_cpu and load_avg
// so that fractional CPU shares survive without a floating-point unit
// in the kernel.
package fixed

const (
	fracBits = 14
	f        = 1 << fracBits
)

// T is a signed 17.14 fixed-point number.
type T int64

// FromInt converts an integer to fixed-point.
func FromInt(n int64) T { return T(n * f) }

// ToIntTrunc converts to an integer by truncation toward zero.
func (x T) ToIntTrunc() int64 { return int64(x) / f }

// ToIntRound converts to an integer, rounding halves away from zero.
func (x T) ToIntRound() int64 {
	n := int64(x)
	if n >= 0 {
		return (n + f/2) / f
	}
	return (n - f/2) / f
}

// Add returns x+y.
func (x T) Add(y T) T { return x + y }

// Sub returns x-y.
func (x T) Sub(y T) T { return x - y }

// AddInt returns x+n for an integer n.
func (x T) AddInt(n int64) T { return x + FromInt(n) }

// SubInt returns x-n for an integer n.
func (x T) SubInt(n int64) T { return x - FromInt(n) }

// Mul returns x*y in fixed-point, widening through int64 to avoid
// overflow before rescaling.
func (x T) Mul(y T) T { return T((int64(x) * int64(y)) / f) }

// MulInt returns x*n for an integer n.
func (x T) MulInt(n int64) T { return x * T(n) }

// Div returns x/y in fixed-point.
func (x T) Div(y T) T { return T((int64(x) * f) / int64(y)) }

// DivInt returns x/n for an integer n.
func (x T) DivInt(n int64) T { return T(int64(x) / n) }

// Neg returns -x.
func (x T) Neg() T { return -x }
