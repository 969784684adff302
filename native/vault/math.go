package vault

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

// WAD is the fixed-point scale of rates: 1e18 represents 1.0.
const WAD uint64 = 1_000_000_000_000_000_000

var (
	wad       = uint256.NewInt(WAD)
	maxUint64 = uint256.NewInt(math.MaxUint64)
)

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrArithmeticOverflow, a, b)
	}
	return a - b, nil
}

// mulDiv returns floor(a*b/d) computed with a 256-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	return narrow(product.Div(product, uint256.NewInt(d)))
}

// mulDiv3 returns floor(a*b*c/d). The product of three 64-bit factors always
// fits in 192 bits so only the final narrowing can overflow.
func mulDiv3(a, b, c, d *uint256.Int) (uint64, error) {
	if d.IsZero() {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return 0, fmt.Errorf("%w: intermediate product", ErrArithmeticOverflow)
	}
	product, overflow = product.MulOverflow(product, c)
	if overflow {
		return 0, fmt.Errorf("%w: intermediate product", ErrArithmeticOverflow)
	}
	return narrow(product.Div(product, d))
}

func narrow(v *uint256.Int) (uint64, error) {
	if v.Gt(maxUint64) {
		return 0, fmt.Errorf("%w: %s exceeds 64 bits", ErrArithmeticOverflow, v.Dec())
	}
	return v.Uint64(), nil
}

// wadMul returns floor(a*b/WAD).
func wadMul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: fixed-point product", ErrArithmeticOverflow)
	}
	return product.Div(product, wad), nil
}

// powWad raises a WAD-scaled base to n by repeated squaring, flooring after
// every multiplication. Flooring each step keeps the result monotone in base.
func powWad(base *uint256.Int, n uint64) (*uint256.Int, error) {
	result := new(uint256.Int).Set(wad)
	acc := new(uint256.Int).Set(base)
	var err error
	for n > 0 {
		if n&1 == 1 {
			if result, err = wadMul(result, acc); err != nil {
				return nil, err
			}
		}
		n >>= 1
		if n > 0 {
			if acc, err = wadMul(acc, acc); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// FormatPercent renders an 18-decimal percentage such as the APY value with
// the requested number of fractional digits, truncating the rest.
func FormatPercent(v *uint256.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 18 {
		decimals = 18
	}
	whole := new(uint256.Int).Div(v, wad)
	frac := new(uint256.Int).Mod(v, wad)
	if decimals == 0 {
		return whole.Dec()
	}
	digits := frac.Dec()
	digits = strings.Repeat("0", 18-len(digits)) + digits
	return whole.Dec() + "." + digits[:decimals]
}
