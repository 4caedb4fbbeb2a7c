package pricing

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func units(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func TestValueInQuoteUnit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := NewManualFeed()
	// $2000 with 8 decimals.
	if err := base.Set(big.NewInt(200000000000), 8, now); err != nil {
		t.Fatalf("set: %v", err)
	}
	n := NewNormalizer(base, time.Hour)
	n.SetClock(func() time.Time { return now })

	// 1 unit at $2000 is worth 2000 in 8-decimal quote units.
	value, err := n.ValueInQuoteUnit([20]byte{}, true, units(1))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Cmp(big.NewInt(200000000000)) != 0 {
		t.Fatalf("value = %s, want 200000000000", value)
	}

	// Half a unit truncates cleanly.
	half := new(big.Int).Div(units(1), big.NewInt(2))
	value, err = n.ValueInQuoteUnit([20]byte{}, true, half)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Cmp(big.NewInt(100000000000)) != 0 {
		t.Fatalf("value = %s, want 100000000000", value)
	}
}

func TestTokenFeedRequired(t *testing.T) {
	n := NewNormalizer(NewManualFeed(), 0)
	token := testAddr(0x0a)
	if _, err := n.ValueInQuoteUnit(token, false, units(1)); !errors.Is(err, ErrNoPriceFeed) {
		t.Fatalf("want ErrNoPriceFeed, got %v", err)
	}
	feed := NewManualFeed()
	if err := feed.Set(big.NewInt(100000000), 8, time.Now()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := n.SetFeed(token, feed); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !n.HasFeed(token) {
		t.Fatalf("feed not registered")
	}
	if _, err := n.ValueInQuoteUnit(token, false, units(1)); err != nil {
		t.Fatalf("value: %v", err)
	}
}

func TestStalePriceRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := NewManualFeed()
	if err := base.Set(big.NewInt(200000000000), 8, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("set: %v", err)
	}
	n := NewNormalizer(base, time.Hour)
	n.SetClock(func() time.Time { return now })

	if _, err := n.BasePrice(); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("want ErrStalePrice, got %v", err)
	}

	// A refreshed quote passes again.
	if err := base.Set(big.NewInt(200000000000), 8, now.Add(-time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := n.BasePrice(); err != nil {
		t.Fatalf("fresh price rejected: %v", err)
	}
}

func TestBaseEquivalent(t *testing.T) {
	now := time.Now()
	base := NewManualFeed()
	if err := base.Set(big.NewInt(200000000000), 8, now); err != nil { // $2000
		t.Fatalf("set: %v", err)
	}
	tokenFeed := NewManualFeed()
	if err := tokenFeed.Set(big.NewInt(100000000000), 8, now); err != nil { // $1000
		t.Fatalf("set: %v", err)
	}
	n := NewNormalizer(base, 0)
	token := testAddr(0x0b)
	if err := n.SetFeed(token, tokenFeed); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 34 tokens at $1000 equal 17 base units at $2000.
	got, err := n.BaseEquivalent(token, false, units(34))
	if err != nil {
		t.Fatalf("equivalent: %v", err)
	}
	if got.Cmp(units(17)) != 0 {
		t.Fatalf("equivalent = %s, want %s", got, units(17))
	}

	// Base amounts pass through without touching any feed.
	empty := NewNormalizer(nil, 0)
	got, err = empty.BaseEquivalent([20]byte{}, true, units(5))
	if err != nil {
		t.Fatalf("base passthrough: %v", err)
	}
	if got.Cmp(units(5)) != 0 {
		t.Fatalf("passthrough = %s, want %s", got, units(5))
	}
}
