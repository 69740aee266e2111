// Package allocator draws a packet's full share sequence up front. Shares
// are drawn once at creation and consumed sequentially under the claim
// guard, which is what keeps the exact-sum guarantee independent of claim
// concurrency.
package allocator

import (
	"math/rand/v2"
	"slices"

	"github.com/smallbiznis/hongbao/internal/packet/domain"
)

// Config bounds the draw. Amounts are minor units.
type Config struct {
	MinShare           int64
	BombEligibleCounts []int
	BombsPerPacket     int
	BombPenaltyBps     int64
	BombMaxMultiple    int64
}

// Share is one pre-drawn amount. Amount is negative only for bomb hits.
type Share struct {
	Amount  int64
	Variant domain.VariantFlag
}

// Allocate produces the ordered share sequence for a packet. The signed sum
// of the result always equals total exactly; every non-bomb share is at
// least cfg.MinShare.
func Allocate(total int64, shareCount int, policy domain.Policy, cfg Config) ([]Share, error) {
	minShare := cfg.MinShare
	if minShare <= 0 {
		minShare = 1
	}
	if shareCount < 1 {
		return nil, domain.ErrInvalidShareCount
	}
	if total < int64(shareCount)*minShare {
		return nil, domain.ErrInvalidTotalAmount
	}

	switch policy {
	case domain.PolicyEven:
		return even(total, shareCount), nil
	case domain.PolicyRandom:
		return tagged(random(total, shareCount, minShare), domain.VariantNormal), nil
	case domain.PolicyLucky:
		return lucky(total, shareCount, minShare), nil
	case domain.PolicyBomb:
		return bomb(total, shareCount, minShare, cfg)
	default:
		return nil, domain.ErrInvalidPolicy
	}
}

// even splits by the largest-remainder method: the residual after integer
// division goes to the first shares one unit at a time.
func even(total int64, n int) []Share {
	base := total / int64(n)
	rem := total % int64(n)

	shares := make([]Share, n)
	for i := range shares {
		amount := base
		if int64(i) < rem {
			amount++
		}
		shares[i] = Share{Amount: amount, Variant: domain.VariantNormal}
	}
	return shares
}

// random is the doubling-average red-envelope draw: each share is uniform
// in [min, 2 x average-of-remaining], capped so every later share can still
// receive min; the final share takes whatever remains.
func random(total int64, n int, min int64) []int64 {
	amounts := make([]int64, n)
	remaining := total
	for i := 0; i < n-1; i++ {
		left := int64(n - i)
		max := 2 * (remaining / left)
		draw := min
		if max > min {
			draw = min + rand.Int64N(max-min+1)
		}
		if ceil := remaining - (left-1)*min; draw > ceil {
			draw = ceil
		}
		amounts[i] = draw
		remaining -= draw
	}
	amounts[n-1] = remaining
	return amounts
}

func tagged(amounts []int64, flag domain.VariantFlag) []Share {
	shares := make([]Share, len(amounts))
	for i, amount := range amounts {
		shares[i] = Share{Amount: amount, Variant: flag}
	}
	return shares
}

// lucky is random with the single largest share tagged for celebration.
// The tag carries no value difference.
func lucky(total int64, n int, min int64) []Share {
	shares := tagged(random(total, n, min), domain.VariantNormal)
	best := 0
	for i, share := range shares {
		if share.Amount > shares[best].Amount {
			best = i
		}
	}
	shares[best].Variant = domain.VariantLuckyMax
	return shares
}

// bomb places cfg.BombsPerPacket penalty shares at uniformly chosen
// positions. Each bomb's amount is -penalty; the positive shares are a
// random allocation of total plus the collected penalties, so the signed
// sum still equals total.
func bomb(total int64, n int, min int64, cfg Config) ([]Share, error) {
	if !slices.Contains(cfg.BombEligibleCounts, n) {
		return nil, domain.ErrBombCountNotEligible
	}

	bombs := cfg.BombsPerPacket
	if bombs < 1 {
		bombs = 1
	}
	if bombs > 2 {
		bombs = 2
	}
	if bombs >= n {
		bombs = n - 1
	}

	avg := total / int64(n)
	penalty := avg * cfg.BombPenaltyBps / 10000
	if ceil := avg * cfg.BombMaxMultiple; cfg.BombMaxMultiple > 0 && penalty > ceil {
		penalty = ceil
	}
	if penalty < min {
		penalty = min
	}

	positives := random(total+int64(bombs)*penalty, n-bombs, min)

	shares := make([]Share, n)
	bombAt := make(map[int]bool, bombs)
	for _, pos := range rand.Perm(n)[:bombs] {
		bombAt[pos] = true
	}

	next := 0
	for i := range shares {
		if bombAt[i] {
			shares[i] = Share{Amount: -penalty, Variant: domain.VariantBombHit}
			continue
		}
		shares[i] = Share{Amount: positives[next], Variant: domain.VariantNormal}
		next++
	}
	return shares, nil
}
