package fees

import (
	"math/big"
	"sort"
)

// MaxBps is the exclusive upper bound for platform fees: never 100% or more.
const MaxBps uint32 = 10_000

// Calculator resolves the platform fee rate for a settlement. storedBps is
// the flat rate persisted in state; value lazily resolves the sale value in
// base-currency units so implementations that ignore it never trigger an
// oracle lookup. Implementations return the rate in basis points, always
// below MaxBps.
type Calculator interface {
	FeeBps(storedBps uint32, value func() (*big.Int, error)) (uint32, error)
}

// Flat applies the stored flat rate unchanged. This is the v1 behaviour.
type Flat struct{}

// FeeBps implements Calculator.
func (Flat) FeeBps(storedBps uint32, _ func() (*big.Int, error)) (uint32, error) {
	if storedBps >= MaxBps {
		return MaxBps - 1, nil
	}
	return storedBps, nil
}

// Tier maps sale values strictly below UpTo to a rate. A nil UpTo marks the
// unbounded tail tier.
type Tier struct {
	UpTo *big.Int
	Bps  uint32
}

// Tiered derives the rate from the sale value: higher value, lower
// proportional fee. The stored flat rate is left untouched; the dynamic rate
// is computed at settlement time only.
type Tiered struct {
	tiers []Tier
}

// NewTiered constructs a tiered calculator. Tiers are sorted by ascending
// bound; the entry with a nil bound catches everything above the last bound.
func NewTiered(tiers []Tier) *Tiered {
	sorted := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		clone := Tier{Bps: tier.Bps}
		if tier.UpTo != nil {
			clone.UpTo = new(big.Int).Set(tier.UpTo)
		}
		sorted = append(sorted, clone)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UpTo == nil {
			return false
		}
		if sorted[j].UpTo == nil {
			return true
		}
		return sorted[i].UpTo.Cmp(sorted[j].UpTo) < 0
	})
	return &Tiered{tiers: sorted}
}

// DefaultTiered returns the v2 schedule over 10^18-unit base amounts:
// below 10 units 200 bps, below 100 units 150 bps, above that 100 bps.
func DefaultTiered() *Tiered {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return NewTiered([]Tier{
		{UpTo: new(big.Int).Mul(big.NewInt(10), unit), Bps: 200},
		{UpTo: new(big.Int).Mul(big.NewInt(100), unit), Bps: 150},
		{UpTo: nil, Bps: 100},
	})
}

// FeeBps implements Calculator.
func (t *Tiered) FeeBps(storedBps uint32, value func() (*big.Int, error)) (uint32, error) {
	if t == nil || len(t.tiers) == 0 {
		return Flat{}.FeeBps(storedBps, value)
	}
	amount := big.NewInt(0)
	if value != nil {
		resolved, err := value()
		if err != nil {
			return 0, err
		}
		if resolved != nil {
			amount = resolved
		}
	}
	for _, tier := range t.tiers {
		if tier.UpTo == nil || amount.Cmp(tier.UpTo) < 0 {
			return capBps(tier.Bps), nil
		}
	}
	return capBps(t.tiers[len(t.tiers)-1].Bps), nil
}

func capBps(bps uint32) uint32 {
	if bps >= MaxBps {
		return MaxBps - 1
	}
	return bps
}

// Split divides a gross settlement amount into the platform fee and the
// seller's net proceeds. Truncating integer division; the fee never exceeds
// the gross amount.
func Split(gross *big.Int, bps uint32) (fee, net *big.Int) {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(bps)))
	fee.Div(fee, big.NewInt(int64(MaxBps)))
	if fee.Cmp(gross) >= 0 {
		return new(big.Int).Set(gross), big.NewInt(0)
	}
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}
