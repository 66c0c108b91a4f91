package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInclusiveFeeRoundTrip(t *testing.T) {
	amounts := []int64{0, 1, 2, 999, 10000, 10001, 123456789, 1 << 40}
	rates := []uint64{0, 1, 25, 250, 999, 9999}

	for _, a := range amounts {
		for _, bp := range rates {
			amount := big.NewInt(a)
			base, fee := InclusiveFee(amount, bp)
			sum := new(big.Int).Add(base, fee)
			require.Zero(t, sum.Cmp(amount), "amount=%d bp=%d", a, bp)
			require.True(t, fee.Sign() >= 0)
			if bp == 0 {
				require.Zero(t, fee.Sign())
			}
		}
	}
}

func TestExclusiveFee(t *testing.T) {
	require.Zero(t, ExclusiveFee(big.NewInt(123456), 0).Sign())
	require.Equal(t, int64(25), ExclusiveFee(big.NewInt(10000), 25).Int64())
	// Truncating division: sub-basis-point remainders stay with the payee.
	require.Equal(t, int64(0), ExclusiveFee(big.NewInt(399), 25).Int64())
}
