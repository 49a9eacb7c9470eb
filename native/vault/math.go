package vault

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	precision   = mustBigInt("1000000000000000000") // 1e18 fixed-point scale

	// MinHealthFactor is the 1e18-scale boundary below which positions become
	// liquidatable. Exactly 1.0 is still safe.
	MinHealthFactor = mustBigInt("1000000000000000000")

	// MaxHealthFactor is reported for positions with no outstanding debt. It is
	// the largest 256-bit value so every minimum comparison trivially passes.
	MaxHealthFactor = new(uint256.Int).Not(uint256.NewInt(0)).ToBig()
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulDivFloor returns a*b/den rounded toward zero. Valuations and claim
// conversions always round against the position holder.
func mulDivFloor(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// FormatHealthFactor renders a 1e18-scale health factor as a decimal string.
// The no-debt sentinel renders as "max".
func FormatHealthFactor(hf *big.Int) string {
	if hf == nil {
		return "0"
	}
	if hf.Cmp(MaxHealthFactor) >= 0 {
		return "max"
	}
	quo, rem := new(big.Int).QuoRem(hf, precision, new(big.Int))
	if rem.Sign() == 0 {
		return quo.Text(10)
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.Text(10)), "0")
	return quo.Text(10) + "." + frac
}
