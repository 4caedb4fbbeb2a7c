package auction

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"auctionhouse/core/events"
	"auctionhouse/core/types"
	"auctionhouse/native/fees"
	"auctionhouse/native/pricing"
)

var (
	errNilState      = errors.New("auction engine: state not configured")
	errNilNormalizer = errors.New("auction engine: price normalizer not configured")
	errNilRecipient  = errors.New("auction engine: fee recipient not configured")
)

// State is the subset of state-manager functionality the engine mutates. All
// auction, refund, account and parameter storage flows through it.
type State interface {
	AuctionPut(*Auction) error
	AuctionGet(id uint64) (*Auction, bool, error)
	AuctionCounter() (uint64, error)
	SetAuctionCounter(uint64) error
	RefundBalance(token, bidder [20]byte) (*big.Int, error)
	SetRefundBalance(token, bidder [20]byte, amount *big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
	Owner() ([20]byte, error)
	SetOwner(owner [20]byte) error
	FeeBps() (uint32, error)
	SetFeeBps(bps uint32) error
	FeeRecipient() ([20]byte, error)
	SetFeeRecipient(recipient [20]byte) error
}

// AssetRegistry is the external non-fungible registry collaborator. Transfer
// authorization failures propagate unchanged to the engine caller.
type AssetRegistry interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	Transfer(caller, from, to [20]byte, assetID uint64) error
}

// TokenRegistry is the external fungible-token collaborator used for
// token-currency auctions. TransferFrom requires a pre-existing allowance
// from the owner to the engine vault.
type TokenRegistry interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, owner, to [20]byte, amount *big.Int) error
}

// SettlementPolicy decides who may invoke EndAuction once expiry has passed.
type SettlementPolicy uint8

const (
	// SettleOwnerOnly restricts settlement to the registry owner.
	SettleOwnerOnly SettlementPolicy = iota
	// SettleAnyone lets any identity settle an expired auction.
	SettleAnyone
)

// ParseSettlementPolicy maps a configuration string onto a policy value.
func ParseSettlementPolicy(value string) (SettlementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "owner":
		return SettleOwnerOnly, nil
	case "anyone":
		return SettleAnyone, nil
	default:
		return SettleOwnerOnly, fmt.Errorf("auction: unknown settlement policy %q", value)
	}
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine wires the auction lifecycle state machine with persistent state,
// price feeds, the fee calculator and the external asset/token collaborators.
// Operations are serialized by an internal mutex; within one operation all
// internal state is written before any outbound transfer so a re-entering
// collaborator only ever observes post-mutation state.
type Engine struct {
	mu         sync.Mutex
	state      State
	emitter    events.Emitter
	normalizer *pricing.Normalizer
	feeCalc    fees.Calculator
	assets     map[[20]byte]AssetRegistry
	tokens     map[[20]byte]TokenRegistry
	policy     SettlementPolicy
	vault      [20]byte
	nowFn      func() int64
}

// VaultAddress is the ledger identity holding auction custody: escrowed bid
// funds and listed assets. Fixed so approvals survive logic upgrades.
func VaultAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("auctionhouse/vault"))
	copy(addr[:], hash[12:])
	return addr
}

// NewEngine creates an auction engine with a no-op emitter and the flat v1
// fee calculator. Callers override collaborators via the setters.
func NewEngine(state State, normalizer *pricing.Normalizer) *Engine {
	return &Engine{
		state:      state,
		emitter:    events.NoopEmitter{},
		normalizer: normalizer,
		feeCalc:    fees.Flat{},
		assets:     make(map[[20]byte]AssetRegistry),
		tokens:     make(map[[20]byte]TokenRegistry),
		vault:      VaultAddress(),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetFeeCalculator swaps the fee calculation strategy. Passing nil restores
// the flat v1 behaviour.
func (e *Engine) SetFeeCalculator(calc fees.Calculator) {
	if calc == nil {
		e.feeCalc = fees.Flat{}
		return
	}
	e.feeCalc = calc
}

// SetSettlementPolicy configures who may settle expired auctions.
func (e *Engine) SetSettlementPolicy(policy SettlementPolicy) {
	e.policy = policy
}

// RegisterAssetRegistry binds an asset registry collaborator to its address.
func (e *Engine) RegisterAssetRegistry(addr [20]byte, registry AssetRegistry) {
	if registry == nil {
		return
	}
	e.assets[addr] = registry
}

// RegisterToken binds a token-currency collaborator to its address.
func (e *Engine) RegisterToken(addr [20]byte, token TokenRegistry) {
	if token == nil || addr == ([20]byte{}) {
		return
	}
	e.tokens[addr] = token
}

// Normalizer exposes the price normalizer for read-side value queries.
func (e *Engine) Normalizer() *pricing.Normalizer {
	return e.normalizer
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	owner, err := e.state.Owner()
	if err != nil {
		return err
	}
	if owner == ([20]byte{}) || caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// transferBase moves base currency between ledger accounts, mirroring the
// external token ledger's semantics for the native unit.
func (e *Engine) transferBase(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("auction: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("auction: insufficient base currency balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// payOut releases escrowed funds from the vault in the auction's currency.
func (e *Engine) payOut(token [20]byte, to [20]byte, amount *big.Int) error {
	if IsBaseCurrency(token) {
		return e.transferBase(e.vault, to, amount)
	}
	ledger, ok := e.tokens[token]
	if !ok {
		return fmt.Errorf("auction: unknown payment token %x", token)
	}
	return ledger.Transfer(e.vault, to, amount)
}

// CreateAuction lists an asset for competitive bidding. Custody of the asset
// moves from the seller to the vault through the external registry; its
// authorization failure rejects the whole operation and nothing is persisted.
func (e *Engine) CreateAuction(seller [20]byte, assetRegistry [20]byte, assetID uint64, paymentToken [20]byte, minRaisePercent uint64, startPrice *big.Int, duration int64) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if assetRegistry == ([20]byte{}) {
		return nil, ErrZeroAssetRegistry
	}
	if assetID == 0 {
		return nil, ErrInvalidAssetID
	}
	price := cloneBigInt(startPrice)
	if price.Sign() <= 0 {
		return nil, ErrZeroStartPrice
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if minRaisePercent > maxRaisePercent {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrRaisePercentRange, minRaisePercent, maxRaisePercent)
	}
	registry, ok := e.assets[assetRegistry]
	if !ok {
		return nil, fmt.Errorf("%w: no registry at %x", ErrZeroAssetRegistry, assetRegistry)
	}
	if !IsBaseCurrency(paymentToken) {
		if _, ok := e.tokens[paymentToken]; !ok {
			return nil, fmt.Errorf("auction: unknown payment token %x", paymentToken)
		}
	}

	// Custody first: a failed transfer must leave no trace of the listing.
	if err := registry.Transfer(e.vault, seller, e.vault, assetID); err != nil {
		return nil, err
	}

	counter, err := e.state.AuctionCounter()
	if err != nil {
		return nil, err
	}
	now := e.now()
	record := &Auction{
		ID:              counter,
		Seller:          seller,
		AssetRegistry:   assetRegistry,
		AssetID:         assetID,
		PaymentToken:    paymentToken,
		MinRaisePercent: minRaisePercent,
		StartPrice:      price,
		StartTime:       now,
		EndTime:         now + duration,
		HighestBid:      big.NewInt(0),
	}
	if err := e.state.AuctionPut(record); err != nil {
		return nil, err
	}
	if err := e.state.SetAuctionCounter(counter + 1); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// maxRaisePercent bounds the per-bid raise requirement at creation. A 10000%
// raise already means each bid must be 101x the previous one.
const maxRaisePercent uint64 = 10_000

// raiseThreshold computes the minimum acceptable bid. First bids must reach
// the start price; later bids must reach highestBid*(100+minRaise)/100 with
// truncating integer arithmetic, ties at the threshold accepted. The
// multiplier is built in big.Int so stored percentages of any magnitude can
// never wrap negative.
func raiseThreshold(a *Auction) *big.Int {
	if !a.HasBid() {
		return cloneBigInt(a.StartPrice)
	}
	multiplier := new(big.Int).SetUint64(a.MinRaisePercent)
	multiplier.Add(multiplier, big.NewInt(100))
	threshold := new(big.Int).Mul(a.HighestBid, multiplier)
	return threshold.Div(threshold, big.NewInt(100))
}

// Bid places a bid on an active auction. Base-currency bids must attach
// exactly the bid amount; token bids must attach nothing and are pulled via
// the token collaborator's allowance mechanism. A displaced leader's stake is
// staged in the refund ledger keyed by their identity and the currency.
func (e *Engine) Bid(bidder [20]byte, auctionID uint64, amount, attachedValue *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok, err := e.state.AuctionGet(auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if record.Ended {
		return ErrBiddingClosed
	}
	now := e.now()
	if now >= record.EndTime {
		return ErrBiddingClosed
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	attached := cloneBigInt(attachedValue)
	if IsBaseCurrency(record.PaymentToken) {
		if attached.Cmp(amt) != 0 {
			return ErrValueMismatch
		}
	} else if attached.Sign() != 0 {
		return ErrValueNotAccepted
	}
	threshold := raiseThreshold(record)
	if amt.Cmp(threshold) < 0 {
		return fmt.Errorf("%w: need at least %s, got %s", ErrBidTooLow, threshold, amt)
	}

	// Collect the new bid into the vault before touching the record.
	if IsBaseCurrency(record.PaymentToken) {
		if err := e.transferBase(bidder, e.vault, amt); err != nil {
			return err
		}
	} else {
		ledger, ok := e.tokens[record.PaymentToken]
		if !ok {
			return fmt.Errorf("auction: unknown payment token %x", record.PaymentToken)
		}
		if err := ledger.TransferFrom(e.vault, bidder, e.vault, amt); err != nil {
			return err
		}
	}

	// Stage the displaced leader's refund; balances only ever accumulate.
	if record.HasBid() {
		balance, err := e.state.RefundBalance(record.PaymentToken, record.HighestBidder)
		if err != nil {
			return err
		}
		staged := new(big.Int).Add(balance, record.HighestBid)
		if err := e.state.SetRefundBalance(record.PaymentToken, record.HighestBidder, staged); err != nil {
			return err
		}
	}
	record.HighestBidder = bidder
	record.HighestBid = amt
	if err := e.state.AuctionPut(record); err != nil {
		return err
	}
	e.emit(NewBidPlacedEvent(record, bidder, amt))
	return nil
}

// EndAuction settles an expired auction exactly once. With no bids the asset
// returns to the seller and neither the fee engine nor the refund ledger is
// touched. Otherwise the fee engine splits the winning bid between seller and
// platform recipient and the asset moves to the winner. The record is marked
// ended before any outbound transfer.
func (e *Engine) EndAuction(caller [20]byte, auctionID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok, err := e.state.AuctionGet(auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if record.Ended {
		return ErrAlreadyEnded
	}
	now := e.now()
	if now < record.EndTime {
		return ErrNotExpired
	}
	if e.policy == SettleOwnerOnly {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
	}
	registry, ok := e.assets[record.AssetRegistry]
	if !ok {
		return fmt.Errorf("auction: unknown asset registry %x", record.AssetRegistry)
	}

	if !record.HasBid() {
		record.Ended = true
		record.SettledAt = now
		if err := e.state.AuctionPut(record); err != nil {
			return err
		}
		if err := registry.Transfer(e.vault, e.vault, record.Seller, record.AssetID); err != nil {
			return err
		}
		e.emit(NewNoBidsEvent(record))
		return nil
	}

	recipient, err := e.state.FeeRecipient()
	if err != nil {
		return err
	}
	if recipient == ([20]byte{}) {
		return errNilRecipient
	}
	storedBps, err := e.state.FeeBps()
	if err != nil {
		return err
	}
	bps, err := e.feeCalc.FeeBps(storedBps, func() (*big.Int, error) {
		return e.saleValueInBase(record)
	})
	if err != nil {
		return err
	}
	fee, net := fees.Split(record.HighestBid, bps)

	record.Ended = true
	record.SettledAt = now
	record.FeePaid = fee
	if err := e.state.AuctionPut(record); err != nil {
		return err
	}

	if net.Sign() > 0 {
		if err := e.payOut(record.PaymentToken, record.Seller, net); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.payOut(record.PaymentToken, recipient, fee); err != nil {
			return err
		}
	}
	if err := registry.Transfer(e.vault, e.vault, record.HighestBidder, record.AssetID); err != nil {
		return err
	}
	e.emit(NewEndedEvent(record, fee, net))
	return nil
}

func (e *Engine) saleValueInBase(record *Auction) (*big.Int, error) {
	if e.normalizer == nil {
		return nil, errNilNormalizer
	}
	return e.normalizer.BaseEquivalent(record.PaymentToken, IsBaseCurrency(record.PaymentToken), record.HighestBid)
}

// ClaimRefund withdraws the caller's accumulated refund in the auction's
// currency. The balance is zeroed before any outbound transfer so a
// re-entering collaborator finds nothing left to claim.
func (e *Engine) ClaimRefund(caller [20]byte, auctionID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok, err := e.state.AuctionGet(auctionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !record.Ended {
		return nil, ErrNotExpired
	}
	if record.HasBid() && caller == record.HighestBidder {
		return nil, ErrHighestBidder
	}
	balance, err := e.state.RefundBalance(record.PaymentToken, caller)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.state.SetRefundBalance(record.PaymentToken, caller, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.payOut(record.PaymentToken, caller, balance); err != nil {
		return nil, err
	}
	e.emit(NewRefundClaimedEvent(record, caller, balance))
	return balance, nil
}

// RefundBalance reads the pending refund for a bidder in a currency.
func (e *Engine) RefundBalance(token, bidder [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.RefundBalance(token, bidder)
}

// GetAuction returns a copy of the auction record.
func (e *Engine) GetAuction(auctionID uint64) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.AuctionGet(auctionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

// GetAuctions returns every auction ordered by identifier.
func (e *Engine) GetAuctions() ([]*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	counter, err := e.state.AuctionCounter()
	if err != nil {
		return nil, err
	}
	records := make([]*Auction, 0, counter)
	for id := uint64(0); id < counter; id++ {
		record, ok, err := e.state.AuctionGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// ValueInQuoteUnit reports the oracle-quote value of an amount in the
// supplied currency. Used for cross-currency reporting, never for raise
// validation.
func (e *Engine) ValueInQuoteUnit(token [20]byte, amount *big.Int) (*big.Int, error) {
	if e.normalizer == nil {
		return nil, errNilNormalizer
	}
	return e.normalizer.ValueInQuoteUnit(token, IsBaseCurrency(token), amount)
}

// SetPlatformFee updates the stored flat fee. Owner-only; bounded below 100%.
func (e *Engine) SetPlatformFee(caller [20]byte, bps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if bps >= fees.MaxBps {
		return ErrFeeBpsRange
	}
	return e.state.SetFeeBps(bps)
}

// SetFeeRecipient updates the platform fee recipient. Owner-only; the zero
// address is never a valid recipient.
func (e *Engine) SetFeeRecipient(caller, recipient [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if recipient == ([20]byte{}) {
		return ErrZeroAddress
	}
	return e.state.SetFeeRecipient(recipient)
}

// SetPriceFeed registers a price oracle for a token currency. Owner-only.
func (e *Engine) SetPriceFeed(caller, token [20]byte, feed pricing.PriceFeed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if token == ([20]byte{}) {
		return ErrZeroAddress
	}
	if e.normalizer == nil {
		return errNilNormalizer
	}
	return e.normalizer.SetFeed(token, feed)
}

// TransferOwnership hands the administrative identity to a new owner.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrZeroAddress
	}
	return e.state.SetOwner(newOwner)
}

// initPayload is the JSON document accepted by the initialisation entry
// points: the fee recipient, an optional starting flat fee and an optional
// base-currency feed endpoint. FeeBps is a pointer so an explicit zero fee is
// distinguishable from an absent field.
type initPayload struct {
	FeeRecipient string  `json:"feeRecipient"`
	FeeBps       *uint32 `json:"feeBps"`
	BaseFeedURL  string  `json:"baseFeedUrl"`
}

// defaultFeeBps is the flat platform fee installed at first initialisation.
const defaultFeeBps uint32 = 200

// Version identifies the base logic revision.
func (e *Engine) Version() string { return "v1.0" }

// Initialize performs first-time setup against fresh storage: the caller
// becomes owner and the fee configuration is installed. One-shot enforcement
// lives with the upgrade controller.
func (e *Engine) Initialize(caller [20]byte, payload []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller == ([20]byte{}) {
		return ErrZeroAddress
	}
	recipient, bps, err := parseInitPayload(payload)
	if err != nil {
		return err
	}
	if recipient == ([20]byte{}) {
		return fmt.Errorf("%w: fee recipient required", ErrZeroAddress)
	}
	if err := e.state.SetOwner(caller); err != nil {
		return err
	}
	if err := e.state.SetFeeRecipient(recipient); err != nil {
		return err
	}
	return e.state.SetFeeBps(bps)
}

func parseInitPayload(payload []byte) ([20]byte, uint32, error) {
	var parsed initPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return [20]byte{}, 0, fmt.Errorf("auction: decode init payload: %w", err)
		}
	}
	var recipient [20]byte
	if trimmed := strings.TrimSpace(strings.TrimPrefix(parsed.FeeRecipient, "0x")); trimmed != "" {
		decoded, err := decodeHexAddress(trimmed)
		if err != nil {
			return [20]byte{}, 0, err
		}
		recipient = decoded
	}
	bps := defaultFeeBps
	if parsed.FeeBps != nil {
		bps = *parsed.FeeBps
	}
	if bps >= fees.MaxBps {
		return [20]byte{}, 0, ErrFeeBpsRange
	}
	return recipient, bps, nil
}

func decodeHexAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(value)
	if err != nil {
		return addr, fmt.Errorf("auction: decode address %q: %w", value, err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("auction: address %q must be 20 bytes", value)
	}
	copy(addr[:], raw)
	return addr, nil
}
