package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"auctionhouse/core/types"
	"auctionhouse/native/auction"
	"auctionhouse/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func sampleAuction() *auction.Auction {
	return &auction.Auction{
		ID:              7,
		Seller:          testAddr(0x01),
		AssetRegistry:   testAddr(0x02),
		AssetID:         42,
		PaymentToken:    testAddr(0x03),
		MinRaisePercent: 5,
		StartPrice:      big.NewInt(1_000_000),
		StartTime:       1_700_000_000,
		EndTime:         1_700_003_600,
		HighestBidder:   testAddr(0x04),
		HighestBid:      big.NewInt(2_000_000),
		Ended:           true,
		SettledAt:       1_700_003_700,
		FeePaid:         big.NewInt(40_000),
	}
}

func TestAuctionRoundTrip(t *testing.T) {
	m := newTestManager(t)
	want := sampleAuction()
	if err := m.AuctionPut(want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := m.AuctionGet(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("auction not found")
	}
	if got.ID != want.ID || got.Seller != want.Seller || got.AssetID != want.AssetID {
		t.Fatalf("identity fields differ: %+v", got)
	}
	if got.StartPrice.Cmp(want.StartPrice) != 0 || got.HighestBid.Cmp(want.HighestBid) != 0 {
		t.Fatalf("amounts differ: %+v", got)
	}
	if got.SettledAt != want.SettledAt || got.FeePaid.Cmp(want.FeePaid) != 0 {
		t.Fatalf("settlement fields differ: %+v", got)
	}

	_, ok, err = m.AuctionGet(99)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing auction reported found")
	}
}

// legacyStoredAuction is the persisted layout before the settlement fields
// were appended. Byte streams written in this shape must still decode.
type legacyStoredAuction struct {
	ID              uint64
	Seller          [20]byte
	AssetRegistry   [20]byte
	AssetID         uint64
	PaymentToken    [20]byte
	MinRaisePercent uint64
	StartPrice      *big.Int
	StartTime       uint64
	EndTime         uint64
	HighestBidder   [20]byte
	HighestBid      *big.Int
	Ended           bool
}

func TestAuctionDecodesLegacyLayout(t *testing.T) {
	m := newTestManager(t)
	legacy := legacyStoredAuction{
		ID:              3,
		Seller:          testAddr(0x01),
		AssetRegistry:   testAddr(0x02),
		AssetID:         9,
		MinRaisePercent: 5,
		StartPrice:      big.NewInt(100),
		StartTime:       1_600_000_000,
		EndTime:         1_600_003_600,
		HighestBidder:   testAddr(0x04),
		HighestBid:      big.NewInt(150),
		Ended:           true,
	}
	encoded, err := rlp.EncodeToBytes(&legacy)
	if err != nil {
		t.Fatalf("encode legacy: %v", err)
	}
	if err := m.db.Put(auctionKey(3), encoded); err != nil {
		t.Fatalf("put raw: %v", err)
	}

	got, ok, err := m.AuctionGet(3)
	if err != nil {
		t.Fatalf("decode legacy layout: %v", err)
	}
	if !ok {
		t.Fatalf("legacy auction not found")
	}
	if !got.Ended || got.HighestBid.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("legacy fields lost: %+v", got)
	}
	// Appended fields default to their zero values.
	if got.SettledAt != 0 {
		t.Fatalf("settled at = %d, want 0", got.SettledAt)
	}
	if got.FeePaid.Sign() != 0 {
		t.Fatalf("fee paid = %s, want 0", got.FeePaid)
	}
}

func TestAuctionCounter(t *testing.T) {
	m := newTestManager(t)
	counter, err := m.AuctionCounter()
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter != 0 {
		t.Fatalf("fresh counter = %d, want 0", counter)
	}
	if err := m.SetAuctionCounter(12); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	counter, err = m.AuctionCounter()
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter != 12 {
		t.Fatalf("counter = %d, want 12", counter)
	}
}

func TestRefundBalanceZeroDeletes(t *testing.T) {
	m := newTestManager(t)
	token := testAddr(0x0a)
	bidder := testAddr(0x0b)

	balance, err := m.RefundBalance(token, bidder)
	if err != nil {
		t.Fatalf("read fresh: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("fresh balance = %s, want 0", balance)
	}
	if err := m.SetRefundBalance(token, bidder, big.NewInt(500)); err != nil {
		t.Fatalf("set: %v", err)
	}
	balance, _ = m.RefundBalance(token, bidder)
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance = %s, want 500", balance)
	}
	if err := m.SetRefundBalance(token, bidder, big.NewInt(0)); err != nil {
		t.Fatalf("zero: %v", err)
	}
	if _, err := m.db.Get(refundKey(token, bidder)); err != storage.ErrKeyNotFound {
		t.Fatalf("zeroed refund still stored: %v", err)
	}
	if err := m.SetRefundBalance(token, bidder, big.NewInt(-1)); err == nil {
		t.Fatalf("negative balance accepted")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(0x0c)
	acc, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if acc.Balance.Sign() != 0 {
		t.Fatalf("fresh balance = %s, want 0", acc.Balance)
	}
	if err := m.PutAccount(addr, &types.Account{Nonce: 3, Balance: big.NewInt(777)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	acc, err = m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Nonce != 3 || acc.Balance.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("account = %+v", acc)
	}
}

func TestParams(t *testing.T) {
	m := newTestManager(t)

	owner, err := m.Owner()
	if err != nil {
		t.Fatalf("fresh owner: %v", err)
	}
	if owner != ([20]byte{}) {
		t.Fatalf("fresh owner not zero")
	}
	want := testAddr(0x01)
	if err := m.SetOwner(want); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	owner, _ = m.Owner()
	if owner != want {
		t.Fatalf("owner mismatch")
	}

	if err := m.SetFeeBps(10_000); err == nil {
		t.Fatalf("fee at 100%% accepted")
	}
	if err := m.SetFeeBps(200); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	bps, _ := m.FeeBps()
	if bps != 200 {
		t.Fatalf("fee bps = %d, want 200", bps)
	}

	if err := m.SetFeeRecipient([20]byte{}); err == nil {
		t.Fatalf("zero recipient accepted")
	}
	recipient := testAddr(0x05)
	if err := m.SetFeeRecipient(recipient); err != nil {
		t.Fatalf("set recipient: %v", err)
	}
	got, _ := m.FeeRecipient()
	if got != recipient {
		t.Fatalf("recipient mismatch")
	}
}

func TestVersioningState(t *testing.T) {
	m := newTestManager(t)

	version, err := m.LogicVersion()
	if err != nil {
		t.Fatalf("fresh version: %v", err)
	}
	if version != "" {
		t.Fatalf("fresh version = %q, want empty", version)
	}
	if err := m.SetLogicVersion(""); err == nil {
		t.Fatalf("empty version accepted")
	}
	if err := m.SetLogicVersion("v2.0"); err != nil {
		t.Fatalf("set version: %v", err)
	}
	version, _ = m.LogicVersion()
	if version != "v2.0" {
		t.Fatalf("version = %q, want v2.0", version)
	}

	if err := m.SetLastUpgradeTime(1_700_000_000); err != nil {
		t.Fatalf("set upgrade time: %v", err)
	}
	ts, err := m.LastUpgradeTime()
	if err != nil {
		t.Fatalf("upgrade time: %v", err)
	}
	if ts != 1_700_000_000 {
		t.Fatalf("upgrade time = %d", ts)
	}

	done, err := m.InitDone("v1.0")
	if err != nil {
		t.Fatalf("init done: %v", err)
	}
	if done {
		t.Fatalf("fresh init flag set")
	}
	if err := m.MarkInitDone("v1.0"); err != nil {
		t.Fatalf("mark init: %v", err)
	}
	done, _ = m.InitDone("v1.0")
	if !done {
		t.Fatalf("init flag not persisted")
	}
	// Flags are independent per version.
	done, _ = m.InitDone("v2.0")
	if done {
		t.Fatalf("v2 flag set by v1 initialisation")
	}
}
