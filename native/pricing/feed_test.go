package pricing

import (
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"
)

type stubDoer struct {
	status int
	body   string
	err    error
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func TestHTTPFeedParsesPayload(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body:   `{"price":"200000000000","decimals":8,"timestamp":1700000000}`,
	}
	feed := NewHTTPFeed(doer, "https://oracle.example.com/base")
	price, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price.Price.Cmp(big.NewInt(200000000000)) != 0 {
		t.Fatalf("price = %s", price.Price)
	}
	if price.Decimals != 8 {
		t.Fatalf("decimals = %d", price.Decimals)
	}
	if !price.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %v", price.UpdatedAt)
	}
}

func TestHTTPFeedRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		doer *stubDoer
	}{
		{"server error", &stubDoer{status: http.StatusInternalServerError, body: "oops"}},
		{"invalid json", &stubDoer{status: http.StatusOK, body: "{"}},
		{"zero price", &stubDoer{status: http.StatusOK, body: `{"price":"0","decimals":8}`}},
		{"garbage price", &stubDoer{status: http.StatusOK, body: `{"price":"abc","decimals":8}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			feed := NewHTTPFeed(tc.doer, "https://oracle.example.com/base")
			if _, err := feed.LatestPrice(); err == nil {
				t.Fatalf("bad response accepted")
			}
		})
	}
}

func TestManualFeedRequiresValue(t *testing.T) {
	feed := NewManualFeed()
	if _, err := feed.LatestPrice(); err == nil {
		t.Fatalf("empty feed returned a price")
	}
	if err := feed.Set(big.NewInt(0), 8, time.Now()); err == nil {
		t.Fatalf("zero price accepted")
	}
	if err := feed.Set(big.NewInt(100), 8, time.Now()); err != nil {
		t.Fatalf("set: %v", err)
	}
	price, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if price.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("price = %s", price.Price)
	}
}
