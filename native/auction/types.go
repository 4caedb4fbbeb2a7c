package auction

import (
	"errors"
	"fmt"
	"math/big"
)

// Status captures the lifecycle position of an auction derived from its
// stored fields and the current time.
type Status uint8

const (
	// StatusActive covers [startTime, endTime) with no settlement recorded.
	StatusActive Status = iota
	// StatusExpired means bidding has closed but nobody has settled yet.
	StatusExpired
	// StatusSettled is terminal; no further bids or settlement are allowed.
	StatusSettled
)

// String renders the status for events and RPC payloads.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// BaseCurrency is the reserved payment-token sentinel meaning the ledger's
// native base currency.
var BaseCurrency = [20]byte{}

// IsBaseCurrency reports whether the payment token denotes the base currency.
func IsBaseCurrency(token [20]byte) bool {
	return token == BaseCurrency
}

// Auction captures a single listing. Seller, asset identity, payment token,
// raise percentage, start price and time window are immutable after creation;
// only the highest bid pair mutates during bidding and Ended flips exactly
// once at settlement.
type Auction struct {
	ID              uint64
	Seller          [20]byte
	AssetRegistry   [20]byte
	AssetID         uint64
	PaymentToken    [20]byte
	MinRaisePercent uint64
	StartPrice      *big.Int
	StartTime       int64
	EndTime         int64
	HighestBidder   [20]byte
	HighestBid      *big.Int
	Ended           bool
	SettledAt       int64
	FeePaid         *big.Int
}

// Status derives the lifecycle state at the supplied unix timestamp.
func (a *Auction) Status(now int64) Status {
	if a == nil {
		return StatusSettled
	}
	if a.Ended {
		return StatusSettled
	}
	if now >= a.EndTime {
		return StatusExpired
	}
	return StatusActive
}

// HasBid reports whether any bid has been accepted. The no-bidder sentinel is
// the zero address paired with a zero highest bid.
func (a *Auction) HasBid() bool {
	if a == nil {
		return false
	}
	return a.HighestBidder != ([20]byte{}) && a.HighestBid != nil && a.HighestBid.Sign() > 0
}

// Clone returns a deep copy of the auction so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.StartPrice != nil {
		clone.StartPrice = new(big.Int).Set(a.StartPrice)
	} else {
		clone.StartPrice = big.NewInt(0)
	}
	if a.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(a.HighestBid)
	} else {
		clone.HighestBid = big.NewInt(0)
	}
	if a.FeePaid != nil {
		clone.FeePaid = new(big.Int).Set(a.FeePaid)
	}
	return &clone
}

// SanitizeAuction validates and normalises the supplied auction, returning a
// cloned instance with non-nil amount fields. The original is not mutated.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("auction: nil auction")
	}
	clone := a.Clone()
	if clone.AssetRegistry == ([20]byte{}) {
		return nil, fmt.Errorf("auction: asset registry address must not be zero")
	}
	if clone.AssetID == 0 {
		return nil, fmt.Errorf("auction: asset id must be greater than zero")
	}
	if clone.StartPrice.Sign() <= 0 {
		return nil, fmt.Errorf("auction: start price must be greater than zero")
	}
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("auction: end time must follow start time")
	}
	if clone.HighestBid.Sign() < 0 {
		return nil, fmt.Errorf("auction: highest bid must not be negative")
	}
	return clone, nil
}

// Rejection sentinels grouped by failure category. Wrapped messages add the
// offending values; callers match with errors.Is.
var (
	// Validation.
	ErrZeroAssetRegistry = errors.New("auction: asset registry address cannot be zero")
	ErrInvalidAssetID    = errors.New("auction: asset id must be greater than zero")
	ErrZeroStartPrice    = errors.New("auction: start price must be greater than zero")
	ErrInvalidDuration   = errors.New("auction: duration must be greater than zero")
	ErrInvalidAmount     = errors.New("auction: amount must be positive")
	ErrZeroAddress       = errors.New("auction: invalid zero address")

	// Authorization.
	ErrUnauthorized = errors.New("auction: caller lacks required privilege")

	// State conflict.
	ErrNotFound       = errors.New("auction: auction not found")
	ErrAlreadyEnded   = errors.New("auction: auction has already ended")
	ErrBiddingClosed  = errors.New("auction: auction has ended")
	ErrNotExpired     = errors.New("auction: auction has not ended yet")
	ErrHighestBidder  = errors.New("auction: you are the highest bidder")
	ErrNothingToClaim = errors.New("auction: nothing to claim")

	// Economic.
	ErrRaisePercentRange = errors.New("auction: minimum raise percent out of range")
	ErrBidTooLow         = errors.New("auction: bid amount must be at least the minimum raise higher than the current highest bid")
	ErrValueMismatch     = errors.New("auction: incorrect base currency amount sent")
	ErrValueNotAccepted  = errors.New("auction: base currency not accepted for token auctions")
	ErrFeeBpsRange       = errors.New("auction: platform fee bps out of range")
)
