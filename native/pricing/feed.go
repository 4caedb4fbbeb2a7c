package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PriceData captures a fixed-point price reported by an oracle together with
// its decimal exponent and the timestamp reported upstream.
type PriceData struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Clone returns a deep copy of the price to prevent accidental mutations.
func (p PriceData) Clone() PriceData {
	clone := PriceData{Decimals: p.Decimals, UpdatedAt: p.UpdatedAt}
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return clone
}

// PriceFeed resolves the latest price for a single asset.
type PriceFeed interface {
	LatestPrice() (PriceData, error)
}

// ErrNoPriceFeed indicates that no oracle is registered for the queried
// currency.
var ErrNoPriceFeed = errors.New("pricing: no price feed registered")

// ErrStalePrice indicates the freshest available quote is older than the
// configured freshness window.
var ErrStalePrice = errors.New("pricing: no fresh price available")

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu    sync.RWMutex
	price PriceData
	set   bool
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set stores the supplied price with the provided timestamp.
func (m *ManualFeed) Set(price *big.Int, decimals uint8, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("manual feed: price must be positive")
	}
	m.mu.Lock()
	m.price = PriceData{Price: new(big.Int).Set(price), Decimals: decimals, UpdatedAt: ts}
	m.set = true
	m.mu.Unlock()
	return nil
}

// LatestPrice retrieves the stored price.
func (m *ManualFeed) LatestPrice() (PriceData, error) {
	if m == nil {
		return PriceData{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return PriceData{}, ErrNoPriceFeed
	}
	return m.price.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches price data from a JSON endpoint exposing
// {"price": "...", "decimals": n, "timestamp": unix}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used.
func NewHTTPFeed(client HTTPDoer, endpoint string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint)}
}

func (f *HTTPFeed) LatestPrice() (PriceData, error) {
	if f == nil || f.endpoint == "" {
		return PriceData{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return PriceData{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return PriceData{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceData{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Decimals  uint8  `json:"decimals"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceData{}, fmt.Errorf("http feed: decode: %w", err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok || price.Sign() <= 0 {
		return PriceData{}, fmt.Errorf("http feed: invalid price %q", payload.Price)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return PriceData{Price: price, Decimals: payload.Decimals, UpdatedAt: ts}, nil
}
