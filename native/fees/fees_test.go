package fees

import (
	"errors"
	"math/big"
	"testing"
)

func units(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func TestFlatIgnoresValue(t *testing.T) {
	called := false
	bps, err := Flat{}.FeeBps(200, func() (*big.Int, error) {
		called = true
		return nil, errors.New("should not be called")
	})
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	if called {
		t.Fatalf("flat calculator resolved the sale value")
	}
	if bps != 200 {
		t.Fatalf("bps = %d, want 200", bps)
	}

	bps, err = Flat{}.FeeBps(50_000, nil)
	if err != nil {
		t.Fatalf("flat cap: %v", err)
	}
	if bps != MaxBps-1 {
		t.Fatalf("uncapped stored rate passed through: %d", bps)
	}
}

func TestTieredBoundaries(t *testing.T) {
	tiered := DefaultTiered()
	cases := []struct {
		name  string
		value *big.Int
		want  uint32
	}{
		{"small", units(7), 200},
		{"first boundary", units(10), 150},
		{"medium", units(17), 150},
		{"second boundary", units(100), 100},
		{"large", units(150), 100},
		{"zero", big.NewInt(0), 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bps, err := tiered.FeeBps(200, func() (*big.Int, error) {
				return tc.value, nil
			})
			if err != nil {
				t.Fatalf("fee bps: %v", err)
			}
			if bps != tc.want {
				t.Fatalf("bps = %d, want %d", bps, tc.want)
			}
		})
	}
}

func TestTieredPropagatesValueError(t *testing.T) {
	wantErr := errors.New("oracle down")
	_, err := DefaultTiered().FeeBps(200, func() (*big.Int, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want value error, got %v", err)
	}
}

func TestTieredEmptyFallsBackToFlat(t *testing.T) {
	bps, err := NewTiered(nil).FeeBps(250, nil)
	if err != nil {
		t.Fatalf("empty tiers: %v", err)
	}
	if bps != 250 {
		t.Fatalf("bps = %d, want 250", bps)
	}
}

func TestSplitTruncates(t *testing.T) {
	// 200 bps of 1.05 units: truncating division.
	gross, _ := new(big.Int).SetString("1050000000000000000", 10)
	fee, net := Split(gross, 200)
	wantFee, _ := new(big.Int).SetString("21000000000000000", 10)
	if fee.Cmp(wantFee) != 0 {
		t.Fatalf("fee = %s, want %s", fee, wantFee)
	}
	if new(big.Int).Add(fee, net).Cmp(gross) != 0 {
		t.Fatalf("fee + net != gross")
	}

	// Tiny amounts truncate to a zero fee.
	fee, net = Split(big.NewInt(49), 200)
	if fee.Sign() != 0 {
		t.Fatalf("fee on dust = %s, want 0", fee)
	}
	if net.Cmp(big.NewInt(49)) != 0 {
		t.Fatalf("net = %s, want 49", net)
	}

	fee, net = Split(nil, 200)
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("nil gross split = %s/%s", fee, net)
	}
}
