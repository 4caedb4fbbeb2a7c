// Package upgrade coordinates logic revisions over shared auction storage.
// Revisions register under their version string; a pointer in state selects
// the active one, and each revision's initialisation runs at most once per
// storage instance.
package upgrade

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"auctionhouse/core/events"
	"auctionhouse/core/types"
)

var (
	// ErrUnknownVersion is returned when no logic is registered under the
	// requested version string.
	ErrUnknownVersion = errors.New("upgrade: unknown logic version")
	// ErrAlreadyInitialized is returned when a revision's one-shot
	// initialisation is attempted a second time.
	ErrAlreadyInitialized = errors.New("upgrade: version already initialized")
	// ErrUnauthorized is returned when a non-owner attempts an upgrade.
	ErrUnauthorized = errors.New("upgrade: caller is not the owner")
	// ErrNoActiveLogic is returned when storage has no logic pointer yet.
	ErrNoActiveLogic = errors.New("upgrade: no active logic version")
)

// Logic is one revision of the auction engine. The controller drives only
// versioning concerns through it; business operations go straight to the
// concrete engine.
type Logic interface {
	Version() string
	Initialize(caller [20]byte, payload []byte) error
}

// State is the versioning slice of the state manager.
type State interface {
	Owner() ([20]byte, error)
	LogicVersion() (string, error)
	SetLogicVersion(version string) error
	LastUpgradeTime() (int64, error)
	SetLastUpgradeTime(ts int64) error
	InitDone(version string) (bool, error)
	MarkInitDone(version string) error
}

// Event type identifiers emitted by the controller.
const (
	EventTypeUpgraded    = "upgrade.activated"
	EventTypeInitialized = "upgrade.initialized"
)

type upgradeEvent struct {
	evt *types.Event
}

func (e upgradeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e upgradeEvent) Event() *types.Event { return e.evt }

// Controller owns the registered revisions and the logic pointer in state.
type Controller struct {
	mu      sync.Mutex
	state   State
	emitter events.Emitter
	logics  map[string]Logic
	nowFn   func() int64
}

// NewController constructs a controller over the supplied versioning state.
func NewController(state State) *Controller {
	return &Controller{
		state:   state,
		emitter: events.NoopEmitter{},
		logics:  make(map[string]Logic),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (c *Controller) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// Register makes a logic revision selectable. Registering a version twice
// replaces the earlier entry.
func (c *Controller) Register(logic Logic) error {
	if logic == nil {
		return fmt.Errorf("upgrade: logic must not be nil")
	}
	version := logic.Version()
	if version == "" {
		return fmt.Errorf("upgrade: logic version must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logics[version] = logic
	return nil
}

func (c *Controller) requireOwner(caller [20]byte) error {
	owner, err := c.state.Owner()
	if err != nil {
		return err
	}
	if owner == ([20]byte{}) || caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// Active resolves the logic revision currently selected by the storage
// pointer.
func (c *Controller) Active() (Logic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	version, err := c.state.LogicVersion()
	if err != nil {
		return nil, err
	}
	if version == "" {
		return nil, ErrNoActiveLogic
	}
	logic, ok := c.logics[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return logic, nil
}

// ActiveVersion reads the version string of the active revision.
func (c *Controller) ActiveVersion() (string, error) {
	version, err := c.state.LogicVersion()
	if err != nil {
		return "", err
	}
	if version == "" {
		return "", ErrNoActiveLogic
	}
	return version, nil
}

// LastUpgradeTime reads the unix timestamp of the most recent pointer swap.
func (c *Controller) LastUpgradeTime() (int64, error) {
	return c.state.LastUpgradeTime()
}

// Bootstrap installs the first logic revision against fresh storage: it runs
// the revision's initialisation, burns its one-shot flag and sets the
// pointer. The caller becomes the owner inside the revision's Initialize.
func (c *Controller) Bootstrap(caller [20]byte, version string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logic, ok := c.logics[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	current, err := c.state.LogicVersion()
	if err != nil {
		return err
	}
	if current != "" {
		return fmt.Errorf("upgrade: storage already bootstrapped with %s", current)
	}
	done, err := c.state.InitDone(version)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, version)
	}
	if err := logic.Initialize(caller, payload); err != nil {
		return err
	}
	if err := c.state.MarkInitDone(version); err != nil {
		return err
	}
	if err := c.state.SetLogicVersion(version); err != nil {
		return err
	}
	now := c.nowFn()
	if err := c.state.SetLastUpgradeTime(now); err != nil {
		return err
	}
	c.emit(&types.Event{Type: EventTypeInitialized, Attributes: map[string]string{"version": version}})
	return nil
}

// Upgrade swaps the logic pointer to a registered revision. Owner-only. With
// a non-empty payload the new revision's one-shot initialisation runs in the
// same call, mirroring a pointer swap followed by a reinitialisation; an
// empty payload leaves initialisation to a later InitializeVersion.
func (c *Controller) Upgrade(caller [20]byte, version string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	logic, ok := c.logics[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	current, err := c.state.LogicVersion()
	if err != nil {
		return err
	}
	if current == version {
		return fmt.Errorf("upgrade: version %s already active", version)
	}
	if len(payload) > 0 {
		done, err := c.state.InitDone(version)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("%w: %s", ErrAlreadyInitialized, version)
		}
		if err := logic.Initialize(caller, payload); err != nil {
			return err
		}
		if err := c.state.MarkInitDone(version); err != nil {
			return err
		}
	}
	if err := c.state.SetLogicVersion(version); err != nil {
		return err
	}
	now := c.nowFn()
	if err := c.state.SetLastUpgradeTime(now); err != nil {
		return err
	}
	c.emit(&types.Event{Type: EventTypeUpgraded, Attributes: map[string]string{
		"from": current,
		"to":   version,
		"at":   strconv.FormatInt(now, 10),
	}})
	return nil
}

// InitializeVersion runs a revision's one-shot initialisation. Owner-only.
// The guard is independent per version: initialising v2 neither requires nor
// consumes the v1 flag.
func (c *Controller) InitializeVersion(caller [20]byte, version string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	logic, ok := c.logics[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	done, err := c.state.InitDone(version)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, version)
	}
	if err := logic.Initialize(caller, payload); err != nil {
		return err
	}
	if err := c.state.MarkInitDone(version); err != nil {
		return err
	}
	c.emit(&types.Event{Type: EventTypeInitialized, Attributes: map[string]string{"version": version}})
	return nil
}

func (c *Controller) emit(event *types.Event) {
	if c == nil || c.emitter == nil || event == nil {
		return
	}
	c.emitter.Emit(upgradeEvent{evt: event})
}
