package auction

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"auctionhouse/core/types"
)

// Event type identifiers emitted by the auction engine.
const (
	EventTypeCreated       = "auction.created"
	EventTypeBidPlaced     = "auction.bid_placed"
	EventTypeEnded         = "auction.ended"
	EventTypeNoBids        = "auction.ended_no_bids"
	EventTypeRefundClaimed = "auction.refund_claimed"
)

func attrAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func attrAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewCreatedEvent describes a freshly listed auction.
func NewCreatedEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeCreated,
		Attributes: map[string]string{
			"auctionId":     strconv.FormatUint(a.ID, 10),
			"seller":        attrAddr(a.Seller),
			"assetRegistry": attrAddr(a.AssetRegistry),
			"assetId":       strconv.FormatUint(a.AssetID, 10),
			"paymentToken":  attrAddr(a.PaymentToken),
			"startPrice":    attrAmount(a.StartPrice),
			"endTime":       strconv.FormatInt(a.EndTime, 10),
		},
	}
}

// NewBidPlacedEvent describes a bid accepted as the new highest.
func NewBidPlacedEvent(a *Auction, bidder [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBidPlaced,
		Attributes: map[string]string{
			"auctionId": strconv.FormatUint(a.ID, 10),
			"bidder":    attrAddr(bidder),
			"amount":    attrAmount(amount),
		},
	}
}

// NewEndedEvent describes a settlement with a winning bid.
func NewEndedEvent(a *Auction, fee, net *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeEnded,
		Attributes: map[string]string{
			"auctionId": strconv.FormatUint(a.ID, 10),
			"winner":    attrAddr(a.HighestBidder),
			"amount":    attrAmount(a.HighestBid),
			"fee":       attrAmount(fee),
			"net":       attrAmount(net),
		},
	}
}

// NewNoBidsEvent describes a settlement where the asset returned to the
// seller untouched.
func NewNoBidsEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeNoBids,
		Attributes: map[string]string{
			"auctionId": strconv.FormatUint(a.ID, 10),
			"seller":    attrAddr(a.Seller),
			"assetId":   strconv.FormatUint(a.AssetID, 10),
		},
	}
}

// NewRefundClaimedEvent describes a successful refund withdrawal.
func NewRefundClaimedEvent(a *Auction, bidder [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundClaimed,
		Attributes: map[string]string{
			"auctionId":    strconv.FormatUint(a.ID, 10),
			"bidder":       attrAddr(bidder),
			"amount":       attrAmount(amount),
			"paymentToken": attrAddr(a.PaymentToken),
		},
	}
}
