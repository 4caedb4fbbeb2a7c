package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"auctionhouse/core/types"
	"auctionhouse/native/auction"
	"auctionhouse/storage"
)

var (
	auctionRecordPrefix = []byte("auction/record/")
	auctionCounterKey   = []byte("auction/counter")
	refundPrefix        = []byte("auction/refund/")
	accountPrefix       = []byte("auction/account/")
	paramPrefix         = []byte("auction/params/")
	initFlagPrefix      = []byte("auction/init/")
	logicPointerKey     = []byte("auction/logic")
	upgradeTimeKey      = []byte("auction/upgraded_at")
)

// Param names persisted as JSON payloads under the parameter prefix.
const (
	paramOwner        = "owner"
	paramFeeBps       = "feeBps"
	paramFeeRecipient = "feeRecipient"
)

// storedAuction is the canonical persisted layout of an auction record. The
// field order is a compatibility contract across logic versions: new fields
// may only be appended after all existing ones and must carry the optional
// tag so byte streams written by earlier versions still decode.
type storedAuction struct {
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

	// Appended in v2. Do not reorder.
	SettledAt uint64   `rlp:"optional"`
	FeePaid   *big.Int `rlp:"optional"`
}

// Manager persists auction ledger state in the underlying key-value store.
type Manager struct {
	db storage.Database
}

// NewManager constructs a state manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) withDB() (storage.Database, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	return m.db, nil
}

func auctionKey(id uint64) []byte {
	buf := make([]byte, len(auctionRecordPrefix)+8)
	copy(buf, auctionRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(auctionRecordPrefix):], id)
	return buf
}

func refundKey(token, bidder [20]byte) []byte {
	buf := make([]byte, len(refundPrefix)+40)
	copy(buf, refundPrefix)
	copy(buf[len(refundPrefix):], token[:])
	copy(buf[len(refundPrefix)+20:], bidder[:])
	return buf
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+20)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

func paramKey(name string) []byte {
	return append(append([]byte(nil), paramPrefix...), name...)
}

func initFlagKey(version string) []byte {
	return append(append([]byte(nil), initFlagPrefix...), version...)
}

func int64ToUint64(value int64) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value)
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("state: value %d exceeds int64 range", value)
	}
	return int64(value), nil
}

func toStoredAuction(a *auction.Auction) *storedAuction {
	stored := &storedAuction{
		ID:              a.ID,
		Seller:          a.Seller,
		AssetRegistry:   a.AssetRegistry,
		AssetID:         a.AssetID,
		PaymentToken:    a.PaymentToken,
		MinRaisePercent: a.MinRaisePercent,
		StartPrice:      a.StartPrice,
		StartTime:       int64ToUint64(a.StartTime),
		EndTime:         int64ToUint64(a.EndTime),
		HighestBidder:   a.HighestBidder,
		HighestBid:      a.HighestBid,
		Ended:           a.Ended,
		SettledAt:       int64ToUint64(a.SettledAt),
		FeePaid:         a.FeePaid,
	}
	if stored.StartPrice == nil {
		stored.StartPrice = big.NewInt(0)
	}
	if stored.HighestBid == nil {
		stored.HighestBid = big.NewInt(0)
	}
	if stored.FeePaid == nil {
		stored.FeePaid = big.NewInt(0)
	}
	return stored
}

func fromStoredAuction(stored *storedAuction) (*auction.Auction, error) {
	if stored == nil {
		return nil, fmt.Errorf("state: nil stored auction")
	}
	startTime, err := uint64ToInt64(stored.StartTime)
	if err != nil {
		return nil, fmt.Errorf("state: start time overflow: %w", err)
	}
	endTime, err := uint64ToInt64(stored.EndTime)
	if err != nil {
		return nil, fmt.Errorf("state: end time overflow: %w", err)
	}
	settledAt, err := uint64ToInt64(stored.SettledAt)
	if err != nil {
		return nil, fmt.Errorf("state: settled at overflow: %w", err)
	}
	record := &auction.Auction{
		ID:              stored.ID,
		Seller:          stored.Seller,
		AssetRegistry:   stored.AssetRegistry,
		AssetID:         stored.AssetID,
		PaymentToken:    stored.PaymentToken,
		MinRaisePercent: stored.MinRaisePercent,
		StartPrice:      big.NewInt(0),
		StartTime:       startTime,
		EndTime:         endTime,
		HighestBidder:   stored.HighestBidder,
		HighestBid:      big.NewInt(0),
		Ended:           stored.Ended,
		SettledAt:       settledAt,
		FeePaid:         big.NewInt(0),
	}
	if stored.StartPrice != nil {
		record.StartPrice = new(big.Int).Set(stored.StartPrice)
	}
	if stored.HighestBid != nil {
		record.HighestBid = new(big.Int).Set(stored.HighestBid)
	}
	if stored.FeePaid != nil {
		record.FeePaid = new(big.Int).Set(stored.FeePaid)
	}
	return record, nil
}

// AuctionPut persists the supplied auction record keyed by its identifier.
func (m *Manager) AuctionPut(a *auction.Auction) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	sanitized, err := auction.SanitizeAuction(a)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStoredAuction(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode auction %d: %w", sanitized.ID, err)
	}
	return db.Put(auctionKey(sanitized.ID), encoded)
}

// AuctionGet retrieves an auction record by identifier.
func (m *Manager) AuctionGet(id uint64) (*auction.Auction, bool, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, false, err
	}
	raw, err := db.Get(auctionKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedAuction
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode auction %d: %w", id, err)
	}
	record, err := fromStoredAuction(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// AuctionCounter returns the next auction identifier to assign.
func (m *Manager) AuctionCounter() (uint64, error) {
	db, err := m.withDB()
	if err != nil {
		return 0, err
	}
	raw, err := db.Get(auctionCounterKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var counter uint64
	if err := rlp.DecodeBytes(raw, &counter); err != nil {
		return 0, fmt.Errorf("state: decode counter: %w", err)
	}
	return counter, nil
}

// SetAuctionCounter persists the next identifier. The counter is monotone;
// callers never decrease it.
func (m *Manager) SetAuctionCounter(counter uint64) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(counter)
	if err != nil {
		return fmt.Errorf("state: encode counter: %w", err)
	}
	return db.Put(auctionCounterKey, encoded)
}

// RefundBalance reads the pending refund owed to a bidder in a currency.
func (m *Manager) RefundBalance(token, bidder [20]byte) (*big.Int, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, err
	}
	raw, err := db.Get(refundKey(token, bidder))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("state: decode refund balance: %w", err)
	}
	return balance, nil
}

// SetRefundBalance overwrites the pending refund balance for (bidder, token).
// A zero amount removes the entry.
func (m *Manager) SetRefundBalance(token, bidder [20]byte, amount *big.Int) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: refund balance must not be negative")
	}
	key := refundKey(token, bidder)
	if amount.Sign() == 0 {
		return db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode refund balance: %w", err)
	}
	return db.Put(key, encoded)
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the base-currency account for the supplied address. Missing
// accounts materialise with a zero balance.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, err
	}
	raw, err := db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		acc.Balance = new(big.Int).Set(stored.Balance)
	}
	return acc, nil
}

// PutAccount persists the base-currency account for the supplied address.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	normalized := types.EnsureAccount(acc)
	if normalized.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(storedAccount{Nonce: normalized.Nonce, Balance: normalized.Balance})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return db.Put(accountKey(addr), encoded)
}

func (m *Manager) paramSet(name string, value interface{}) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode param %s: %w", name, err)
	}
	return db.Put(paramKey(name), encoded)
}

func (m *Manager) paramGet(name string, out interface{}) (bool, error) {
	db, err := m.withDB()
	if err != nil {
		return false, err
	}
	raw, err := db.Get(paramKey(name))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode param %s: %w", name, err)
	}
	return true, nil
}

// Owner returns the administrative identity, or the zero address when unset.
func (m *Manager) Owner() ([20]byte, error) {
	var hexAddr string
	ok, err := m.paramGet(paramOwner, &hexAddr)
	if err != nil || !ok {
		return [20]byte{}, err
	}
	return decodeAddressParam(hexAddr)
}

// SetOwner persists the administrative identity.
func (m *Manager) SetOwner(owner [20]byte) error {
	return m.paramSet(paramOwner, encodeAddressParam(owner))
}

// FeeBps returns the stored flat platform fee in basis points.
func (m *Manager) FeeBps() (uint32, error) {
	var bps uint32
	if _, err := m.paramGet(paramFeeBps, &bps); err != nil {
		return 0, err
	}
	return bps, nil
}

// SetFeeBps persists the flat platform fee.
func (m *Manager) SetFeeBps(bps uint32) error {
	if bps >= 10_000 {
		return fmt.Errorf("state: fee bps %d out of range", bps)
	}
	return m.paramSet(paramFeeBps, bps)
}

// FeeRecipient returns the configured platform fee recipient.
func (m *Manager) FeeRecipient() ([20]byte, error) {
	var hexAddr string
	ok, err := m.paramGet(paramFeeRecipient, &hexAddr)
	if err != nil || !ok {
		return [20]byte{}, err
	}
	return decodeAddressParam(hexAddr)
}

// SetFeeRecipient persists the platform fee recipient.
func (m *Manager) SetFeeRecipient(recipient [20]byte) error {
	if recipient == ([20]byte{}) {
		return fmt.Errorf("state: fee recipient must not be the zero address")
	}
	return m.paramSet(paramFeeRecipient, encodeAddressParam(recipient))
}

// LogicVersion reads the active logic pointer, or empty when unset.
func (m *Manager) LogicVersion() (string, error) {
	db, err := m.withDB()
	if err != nil {
		return "", err
	}
	raw, err := db.Get(logicPointerKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetLogicVersion updates the active logic pointer.
func (m *Manager) SetLogicVersion(version string) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("state: logic version must not be empty")
	}
	return db.Put(logicPointerKey, []byte(version))
}

// LastUpgradeTime reads the unix timestamp of the most recent upgrade.
func (m *Manager) LastUpgradeTime() (int64, error) {
	db, err := m.withDB()
	if err != nil {
		return 0, err
	}
	raw, err := db.Get(upgradeTimeKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var ts uint64
	if err := rlp.DecodeBytes(raw, &ts); err != nil {
		return 0, fmt.Errorf("state: decode upgrade time: %w", err)
	}
	return uint64ToInt64(ts)
}

// SetLastUpgradeTime records the unix timestamp of an upgrade.
func (m *Manager) SetLastUpgradeTime(ts int64) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(int64ToUint64(ts))
	if err != nil {
		return fmt.Errorf("state: encode upgrade time: %w", err)
	}
	return db.Put(upgradeTimeKey, encoded)
}

// InitDone reports whether the supplied logic version has already run its
// one-shot initialisation against this storage instance.
func (m *Manager) InitDone(version string) (bool, error) {
	db, err := m.withDB()
	if err != nil {
		return false, err
	}
	_, err = db.Get(initFlagKey(version))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkInitDone burns the one-shot initialisation flag for a logic version.
func (m *Manager) MarkInitDone(version string) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Put(initFlagKey(version), []byte{1})
}

func encodeAddressParam(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func decodeAddressParam(value string) ([20]byte, error) {
	var addr [20]byte
	if value == "" {
		return addr, nil
	}
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return addr, fmt.Errorf("state: decode address param: %w", err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("state: address param has %d bytes, want 20", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
