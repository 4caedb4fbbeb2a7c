package pricing

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// baseDecimals is the fixed-point exponent of on-ledger amounts. Both the
// base currency and token currencies account in 10^18 units.
const baseDecimals = 18

var amountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(baseDecimals), nil)

// Normalizer converts amounts in any accepted currency into the oracle quote
// unit (USD) using per-currency price feeds. The base currency uses a fixed,
// separately configured feed; token feeds are registered individually.
type Normalizer struct {
	mu       sync.RWMutex
	baseFeed PriceFeed
	feeds    map[[20]byte]PriceFeed
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewNormalizer constructs a normalizer with the supplied base-currency feed
// and freshness window. A zero maxAge disables staleness checks.
func NewNormalizer(baseFeed PriceFeed, maxAge time.Duration) *Normalizer {
	return &Normalizer{
		baseFeed: baseFeed,
		feeds:    make(map[[20]byte]PriceFeed),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetClock overrides the time source used for staleness checks (primarily for
// deterministic testing).
func (n *Normalizer) SetClock(now func() time.Time) {
	if n == nil || now == nil {
		return
	}
	n.mu.Lock()
	n.nowFn = now
	n.mu.Unlock()
}

// SetBaseFeed replaces the base-currency feed.
func (n *Normalizer) SetBaseFeed(feed PriceFeed) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.baseFeed = feed
	n.mu.Unlock()
}

// SetFeed registers or replaces the feed for a token currency.
func (n *Normalizer) SetFeed(token [20]byte, feed PriceFeed) error {
	if n == nil {
		return fmt.Errorf("pricing: normalizer not configured")
	}
	if feed == nil {
		return fmt.Errorf("pricing: feed must not be nil")
	}
	n.mu.Lock()
	n.feeds[token] = feed
	n.mu.Unlock()
	return nil
}

// HasFeed reports whether a feed is registered for the token currency.
func (n *Normalizer) HasFeed(token [20]byte) bool {
	if n == nil {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.feeds[token]
	return ok
}

func (n *Normalizer) feedFor(token [20]byte, isBase bool) (PriceFeed, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if isBase {
		if n.baseFeed == nil {
			return nil, ErrNoPriceFeed
		}
		return n.baseFeed, nil
	}
	feed, ok := n.feeds[token]
	if !ok {
		return nil, ErrNoPriceFeed
	}
	return feed, nil
}

func (n *Normalizer) freshPrice(feed PriceFeed) (PriceData, error) {
	price, err := feed.LatestPrice()
	if err != nil {
		return PriceData{}, err
	}
	if price.Price == nil || price.Price.Sign() <= 0 {
		return PriceData{}, fmt.Errorf("pricing: feed returned invalid price")
	}
	n.mu.RLock()
	maxAge := n.maxAge
	nowFn := n.nowFn
	n.mu.RUnlock()
	if maxAge > 0 && !price.UpdatedAt.IsZero() {
		if price.UpdatedAt.Before(nowFn().Add(-maxAge)) {
			return PriceData{}, ErrStalePrice
		}
	}
	return price, nil
}

// BasePrice returns the latest base-currency price in the oracle quote unit.
func (n *Normalizer) BasePrice() (PriceData, error) {
	if n == nil {
		return PriceData{}, fmt.Errorf("pricing: normalizer not configured")
	}
	feed, err := n.feedFor([20]byte{}, true)
	if err != nil {
		return PriceData{}, err
	}
	return n.freshPrice(feed)
}

// TokenPrice returns the latest price for a registered token currency.
func (n *Normalizer) TokenPrice(token [20]byte) (PriceData, error) {
	if n == nil {
		return PriceData{}, fmt.Errorf("pricing: normalizer not configured")
	}
	feed, err := n.feedFor(token, false)
	if err != nil {
		return PriceData{}, err
	}
	return n.freshPrice(feed)
}

// ValueInQuoteUnit converts an amount denominated in the supplied currency
// into the oracle quote unit: amount * price / 10^18. The result carries the
// feed's decimal exponent. isBase selects the base-currency feed regardless
// of the token argument.
func (n *Normalizer) ValueInQuoteUnit(token [20]byte, isBase bool, amount *big.Int) (*big.Int, error) {
	if n == nil {
		return nil, fmt.Errorf("pricing: normalizer not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("pricing: amount must not be negative")
	}
	feed, err := n.feedFor(token, isBase)
	if err != nil {
		return nil, err
	}
	price, err := n.freshPrice(feed)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, price.Price)
	return value.Quo(value, amountScale), nil
}

// BaseEquivalent converts a token-currency amount into base-currency units by
// routing through the quote unit: amount * tokenPrice / basePrice. Base
// amounts pass through unchanged.
func (n *Normalizer) BaseEquivalent(token [20]byte, isBase bool, amount *big.Int) (*big.Int, error) {
	if n == nil {
		return nil, fmt.Errorf("pricing: normalizer not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("pricing: amount must not be negative")
	}
	if isBase {
		return new(big.Int).Set(amount), nil
	}
	tokenPrice, err := n.TokenPrice(token)
	if err != nil {
		return nil, err
	}
	basePrice, err := n.BasePrice()
	if err != nil {
		return nil, err
	}
	if basePrice.Price.Sign() <= 0 {
		return nil, fmt.Errorf("pricing: base price must be positive")
	}
	value := new(big.Int).Mul(amount, tokenPrice.Price)
	return value.Quo(value, basePrice.Price), nil
}
