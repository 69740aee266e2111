package allocator

import (
	"testing"

	"github.com/smallbiznis/hongbao/internal/packet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MinShare:           1,
		BombEligibleCounts: []int{5, 7, 10},
		BombsPerPacket:     1,
		BombPenaltyBps:     15000,
		BombMaxMultiple:    3,
	}
}

func signedSum(shares []Share) int64 {
	var sum int64
	for _, share := range shares {
		sum += share.Amount
	}
	return sum
}

func TestAllocateEvenSplitsExactly(t *testing.T) {
	shares, err := Allocate(10000, 5, domain.PolicyEven, testConfig())
	require.NoError(t, err)
	require.Len(t, shares, 5)

	for _, share := range shares {
		assert.Equal(t, int64(2000), share.Amount)
		assert.Equal(t, domain.VariantNormal, share.Variant)
	}
}

func TestAllocateEvenLargestRemainder(t *testing.T) {
	shares, err := Allocate(10, 3, domain.PolicyEven, testConfig())
	require.NoError(t, err)

	amounts := []int64{shares[0].Amount, shares[1].Amount, shares[2].Amount}
	assert.Equal(t, []int64{4, 3, 3}, amounts)
	assert.Equal(t, int64(10), signedSum(shares))
}

func TestAllocateRandomExactSumAndFloor(t *testing.T) {
	for i := 0; i < 200; i++ {
		shares, err := Allocate(1000, 3, domain.PolicyRandom, testConfig())
		require.NoError(t, err)
		require.Len(t, shares, 3)

		assert.Equal(t, int64(1000), signedSum(shares))
		for _, share := range shares {
			assert.GreaterOrEqual(t, share.Amount, int64(1))
			assert.Equal(t, domain.VariantNormal, share.Variant)
		}
	}
}

func TestAllocateRandomTightBudget(t *testing.T) {
	// Exactly min per share leaves no slack for the draw.
	cfg := testConfig()
	cfg.MinShare = 10
	shares, err := Allocate(50, 5, domain.PolicyRandom, cfg)
	require.NoError(t, err)

	for _, share := range shares {
		assert.Equal(t, int64(10), share.Amount)
	}
}

func TestAllocateLuckyTagsSingleMax(t *testing.T) {
	for i := 0; i < 100; i++ {
		shares, err := Allocate(5000, 8, domain.PolicyLucky, testConfig())
		require.NoError(t, err)
		assert.Equal(t, int64(5000), signedSum(shares))

		tagged := -1
		var max int64
		for _, share := range shares {
			if share.Amount > max {
				max = share.Amount
			}
		}
		for j, share := range shares {
			if share.Variant == domain.VariantLuckyMax {
				require.Equal(t, -1, tagged, "expected exactly one lucky tag")
				tagged = j
			}
		}
		require.NotEqual(t, -1, tagged)
		assert.Equal(t, max, shares[tagged].Amount)
	}
}

func TestAllocateBombSignedSum(t *testing.T) {
	for i := 0; i < 200; i++ {
		shares, err := Allocate(10000, 5, domain.PolicyBomb, testConfig())
		require.NoError(t, err)
		require.Len(t, shares, 5)

		assert.Equal(t, int64(10000), signedSum(shares))

		bombs := 0
		for _, share := range shares {
			if share.Variant == domain.VariantBombHit {
				bombs++
				assert.Negative(t, share.Amount)
			} else {
				assert.GreaterOrEqual(t, share.Amount, int64(1))
			}
		}
		assert.Equal(t, 1, bombs)
	}
}

func TestAllocateBombPenaltyBounds(t *testing.T) {
	shares, err := Allocate(10000, 5, domain.PolicyBomb, testConfig())
	require.NoError(t, err)

	// avg 2000, 150% penalty => 3000; cap at 3x avg leaves it untouched.
	for _, share := range shares {
		if share.Variant == domain.VariantBombHit {
			assert.Equal(t, int64(-3000), share.Amount)
		}
	}
}

func TestAllocateBombIneligibleCount(t *testing.T) {
	_, err := Allocate(10000, 4, domain.PolicyBomb, testConfig())
	assert.ErrorIs(t, err, domain.ErrBombCountNotEligible)
}

func TestAllocateRejectsUnderfundedTotal(t *testing.T) {
	cfg := testConfig()
	cfg.MinShare = 100

	_, err := Allocate(499, 5, domain.PolicyRandom, cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidTotalAmount)
}

func TestAllocateRejectsUnknownPolicy(t *testing.T) {
	_, err := Allocate(1000, 5, domain.Policy("tontine"), testConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}
