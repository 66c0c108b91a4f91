// fees.go - Basis-point fee arithmetic.
//
// Shield deposits use the inclusive mode: the fee is carved out of the
// deposited amount so base+fee reproduces it exactly. Unshields use the
// exclusive mode: the fee is computed on the withdrawn amount and taken
// from it before payout. Intra-pool transfers carry no fee.

package pool

import "math/big"

// BasisPointScale is the denominator of all fee rates: 10000 = 100%.
const BasisPointScale = 10000

var bpScale = big.NewInt(BasisPointScale)

// InclusiveFee splits a gross amount into base and fee such that
// base + fee == amount, with base = amount*10000/(10000+feeBP).
func InclusiveFee(amount *big.Int, feeBP uint64) (base, fee *big.Int) {
	if feeBP == 0 {
		return new(big.Int).Set(amount), new(big.Int)
	}
	den := new(big.Int).Add(bpScale, new(big.Int).SetUint64(feeBP))
	base = new(big.Int).Mul(amount, bpScale)
	base.Div(base, den)
	fee = new(big.Int).Sub(amount, base)
	return base, fee
}

// ExclusiveFee computes the fee on a net amount: fee = amount*feeBP/10000.
func ExclusiveFee(amount *big.Int, feeBP uint64) *big.Int {
	if feeBP == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(feeBP))
	return fee.Div(fee, bpScale)
}
