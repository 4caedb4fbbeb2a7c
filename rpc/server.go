package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auctionhouse/native/auction"
	"auctionhouse/native/pricing"
	"auctionhouse/native/upgrade"
)

// Server exposes the auction engine and upgrade controller over HTTP.
type Server struct {
	engine     *auction.Engine
	controller *upgrade.Controller
	logger     *slog.Logger
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
}

// NewServer wires the HTTP surface. A nil logger falls back to the default.
func NewServer(engine *auction.Engine, controller *upgrade.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auctionhouse",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "HTTP requests served, labelled by route and outcome.",
	}, []string{"route", "status"})
	registry.MustRegister(requests)
	return &Server{
		engine:     engine,
		controller: controller,
		logger:     logger,
		registry:   registry,
		requests:   requests,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auctions", s.handleCreateAuction)
		r.Get("/auctions", s.handleListAuctions)
		r.Get("/auctions/{id}", s.handleGetAuction)
		r.Post("/auctions/{id}/bids", s.handleBid)
		r.Post("/auctions/{id}/end", s.handleEndAuction)
		r.Post("/auctions/{id}/refund", s.handleClaimRefund)
		r.Get("/value", s.handleValue)
		r.Get("/version", s.handleVersion)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/fee", s.handleSetFee)
			r.Post("/fee-recipient", s.handleSetFeeRecipient)
			r.Post("/price-feed", s.handleSetPriceFeed)
			r.Post("/ownership", s.handleTransferOwnership)
			r.Post("/upgrade", s.handleUpgrade)
			r.Post("/initialize", s.handleInitialize)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, "healthz", http.StatusOK, map[string]string{"status": "ok"})
}

type createAuctionRequest struct {
	Seller          string `json:"seller"`
	AssetRegistry   string `json:"assetRegistry"`
	AssetID         uint64 `json:"assetId"`
	PaymentToken    string `json:"paymentToken"`
	MinRaisePercent uint64 `json:"minRaisePercent"`
	StartPrice      string `json:"startPrice"`
	DurationSeconds int64  `json:"durationSeconds"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	const route = "create_auction"
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	registry, err := parseAddress(req.AssetRegistry)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	token, err := parseOptionalAddress(req.PaymentToken)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	startPrice, err := parseAmount(req.StartPrice)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	record, err := s.engine.CreateAuction(seller, registry, req.AssetID, token, req.MinRaisePercent, startPrice, req.DurationSeconds)
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.logger.Info("auction created", "auctionId", record.ID, "seller", req.Seller)
	s.writeJSON(w, route, http.StatusCreated, auctionView(record, s.now()))
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	const route = "list_auctions"
	records, err := s.engine.GetAuctions()
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	now := s.now()
	views := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		views = append(views, auctionView(record, now))
	}
	s.writeJSON(w, route, http.StatusOK, views)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	const route = "get_auction"
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	record, err := s.engine.GetAuction(id)
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, auctionView(record, s.now()))
}

type bidRequest struct {
	Bidder        string `json:"bidder"`
	Amount        string `json:"amount"`
	AttachedValue string `json:"attachedValue"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	const route = "place_bid"
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	bidder, err := parseAddress(req.Bidder)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	attached := big.NewInt(0)
	if req.AttachedValue != "" {
		attached, err = parseAmount(req.AttachedValue)
		if err != nil {
			s.writeError(w, route, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.engine.Bid(bidder, id, amount, attached); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "accepted"})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleEndAuction(w http.ResponseWriter, r *http.Request) {
	const route = "end_auction"
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.EndAuction(caller, id); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.logger.Info("auction settled", "auctionId", id)
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Server) handleClaimRefund(w http.ResponseWriter, r *http.Request) {
	const route = "claim_refund"
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	amount, err := s.engine.ClaimRefund(caller, id)
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"refunded": amount.String()})
}

// handleValue reports the oracle-quote value of an amount in the supplied
// currency. An empty or zero token parameter selects the base currency.
func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	const route = "quote_value"
	token, err := parseOptionalAddress(r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	value, err := s.engine.ValueInQuoteUnit(token, amount)
	if err != nil {
		if errors.Is(err, pricing.ErrNoPriceFeed) || errors.Is(err, pricing.ErrStalePrice) {
			s.writeError(w, route, http.StatusConflict, err)
			return
		}
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{
		"token":  formatAddress(token),
		"amount": amount.String(),
		"value":  value.String(),
	})
}

type setPriceFeedRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	URL    string `json:"url"`
}

func (s *Server) handleSetPriceFeed(w http.ResponseWriter, r *http.Request) {
	const route = "admin_set_price_feed"
	var req setPriceFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("rpc: feed url must not be empty"))
		return
	}
	feed := pricing.NewHTTPFeed(nil, req.URL)
	if err := s.engine.SetPriceFeed(caller, token, feed); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	const route = "version"
	version, err := s.controller.ActiveVersion()
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	upgradedAt, err := s.controller.LastUpgradeTime()
	if err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]interface{}{
		"version":         version,
		"lastUpgradeTime": upgradedAt,
	})
}

type setFeeRequest struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	const route = "admin_set_fee"
	var req setFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetPlatformFee(caller, req.FeeBps); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "updated"})
}

type setRecipientRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	const route = "admin_set_fee_recipient"
	var req setRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetFeeRecipient(caller, recipient); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "updated"})
}

type transferOwnershipRequest struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	const route = "admin_transfer_ownership"
	var req transferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	newOwner, err := parseAddress(req.NewOwner)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "updated"})
}

type upgradeRequest struct {
	Caller  string          `json:"caller"`
	Version string          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	const route = "admin_upgrade"
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.Upgrade(caller, req.Version, req.Payload); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.logger.Info("logic upgraded", "version", req.Version)
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "upgraded", "version": req.Version})
}

type initializeRequest struct {
	Caller  string          `json:"caller"`
	Version string          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	const route = "admin_initialize"
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, route, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.InitializeVersion(caller, req.Version, req.Payload); err != nil {
		s.writeEngineError(w, route, err)
		return
	}
	s.logger.Info("logic initialized", "version", req.Version)
	s.writeJSON(w, route, http.StatusOK, map[string]string{"status": "initialized", "version": req.Version})
}

func (s *Server) now() int64 { return time.Now().Unix() }

func auctionView(a *auction.Auction, now int64) map[string]interface{} {
	view := map[string]interface{}{
		"id":              a.ID,
		"seller":          formatAddress(a.Seller),
		"assetRegistry":   formatAddress(a.AssetRegistry),
		"assetId":         a.AssetID,
		"paymentToken":    formatAddress(a.PaymentToken),
		"minRaisePercent": a.MinRaisePercent,
		"startPrice":      a.StartPrice.String(),
		"startTime":       a.StartTime,
		"endTime":         a.EndTime,
		"highestBid":      a.HighestBid.String(),
		"ended":           a.Ended,
		"status":          a.Status(now).String(),
	}
	if a.HasBid() {
		view["highestBidder"] = formatAddress(a.HighestBidder)
	}
	if a.Ended {
		view["settledAt"] = a.SettledAt
		if a.FeePaid != nil {
			view["feePaid"] = a.FeePaid.String()
		}
	}
	return view
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := parseOptionalAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("rpc: address must not be empty or zero")
	}
	return addr, nil
}

// parseOptionalAddress accepts an empty string or the zero address as the
// base-currency sentinel.
func parseOptionalAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("rpc: decode address %q: %w", value, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("rpc: address %q has %d bytes, want 20", value, len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc: amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("rpc: invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("rpc: amount must not be negative")
	}
	return amount, nil
}

func parseID(value string) (uint64, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rpc: invalid auction id %q", value)
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, status int, payload interface{}) {
	s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "route", route, "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, route string, status int, err error) {
	s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, route string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrUnauthorized), errors.Is(err, upgrade.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrAlreadyEnded),
		errors.Is(err, auction.ErrBiddingClosed),
		errors.Is(err, auction.ErrNotExpired),
		errors.Is(err, auction.ErrHighestBidder),
		errors.Is(err, auction.ErrNothingToClaim),
		errors.Is(err, upgrade.ErrAlreadyInitialized):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrValueMismatch),
		errors.Is(err, auction.ErrValueNotAccepted),
		errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, auction.ErrZeroStartPrice),
		errors.Is(err, auction.ErrInvalidDuration),
		errors.Is(err, auction.ErrInvalidAssetID),
		errors.Is(err, auction.ErrZeroAssetRegistry),
		errors.Is(err, auction.ErrZeroAddress),
		errors.Is(err, auction.ErrFeeBpsRange),
		errors.Is(err, upgrade.ErrUnknownVersion):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", route, "err", err)
	}
	s.writeError(w, route, status, err)
}
