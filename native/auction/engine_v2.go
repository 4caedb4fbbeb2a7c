package auction

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"auctionhouse/native/fees"
	"auctionhouse/native/pricing"
)

// EngineV2 is the second logic revision. It shares all storage and lifecycle
// behaviour with the base engine and replaces the flat platform fee with a
// value-dependent schedule resolved at settlement time. The stored flat rate
// stays untouched so a rollback to v1 resumes the previous behaviour.
type EngineV2 struct {
	*Engine
	schedule *fees.Tiered
	newFeed  func(endpoint string) pricing.PriceFeed
}

// NewEngineV2 wraps an existing engine with the dynamic fee schedule. The
// schedule is installed on the shared engine only when this revision is
// initialised, not at construction.
func NewEngineV2(base *Engine) *EngineV2 {
	return &EngineV2{
		Engine:   base,
		schedule: fees.DefaultTiered(),
		newFeed: func(endpoint string) pricing.PriceFeed {
			return pricing.NewHTTPFeed(nil, endpoint)
		},
	}
}

// SetFeedFactory overrides how base feed endpoints from the init payload are
// turned into price feeds. Primarily intended for tests.
func (e *EngineV2) SetFeedFactory(factory func(endpoint string) pricing.PriceFeed) {
	if factory == nil {
		return
	}
	e.newFeed = factory
}

// SetSchedule replaces the dynamic schedule used after initialisation.
func (e *EngineV2) SetSchedule(schedule *fees.Tiered) {
	if schedule == nil {
		return
	}
	e.schedule = schedule
}

// Version identifies this logic revision.
func (e *EngineV2) Version() string { return "v2.0" }

// Initialize activates the dynamic fee schedule. Ownership carries over from
// the first revision untouched; the payload may optionally rebind the fee
// recipient and the base-currency price feed.
func (e *EngineV2) Initialize(caller [20]byte, payload []byte) error {
	if e == nil || e.Engine == nil {
		return errNilState
	}
	if caller == ([20]byte{}) {
		return ErrZeroAddress
	}
	if len(payload) > 0 {
		var parsed initPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return fmt.Errorf("auction: decode init payload: %w", err)
		}
		if trimmed := strings.TrimSpace(strings.TrimPrefix(parsed.FeeRecipient, "0x")); trimmed != "" {
			recipient, err := decodeHexAddress(trimmed)
			if err != nil {
				return err
			}
			if err := e.state.SetFeeRecipient(recipient); err != nil {
				return err
			}
		}
		if endpoint := strings.TrimSpace(parsed.BaseFeedURL); endpoint != "" {
			if e.normalizer == nil {
				return errNilNormalizer
			}
			e.normalizer.SetBaseFeed(e.newFeed(endpoint))
		}
	}
	e.Activate()
	return nil
}

// Activate installs the dynamic schedule on the shared engine. Called from
// Initialize, and again at process start when storage already points at this
// revision.
func (e *EngineV2) Activate() {
	if e == nil || e.Engine == nil {
		return
	}
	e.SetFeeCalculator(e.schedule)
}

// DynamicFeeBps reports the rate the active schedule would apply to a sale of
// the supplied base-currency value. Read-only; used by the query surface.
func (e *EngineV2) DynamicFeeBps(value *big.Int) (uint32, error) {
	if e == nil || e.Engine == nil || e.state == nil {
		return 0, errNilState
	}
	stored, err := e.state.FeeBps()
	if err != nil {
		return 0, err
	}
	return e.schedule.FeeBps(stored, func() (*big.Int, error) {
		return cloneBigInt(value), nil
	})
}
