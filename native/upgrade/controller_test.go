package upgrade

import (
	"errors"
	"testing"

	"auctionhouse/state"
	"auctionhouse/storage"
)

type fakeLogic struct {
	version   string
	initCalls int
	initErr   error
	caller    [20]byte
	payload   []byte
}

func (f *fakeLogic) Version() string { return f.version }

func (f *fakeLogic) Initialize(caller [20]byte, payload []byte) error {
	f.initCalls++
	f.caller = caller
	f.payload = payload
	return f.initErr
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func newTestController(t *testing.T) (*Controller, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	c := NewController(manager)
	clock := int64(1_700_000_000)
	c.SetNowFunc(func() int64 { return clock })
	return c, manager
}

func TestBootstrap(t *testing.T) {
	c, manager := newTestController(t)
	owner := testAddr(0x01)
	v1 := &fakeLogic{version: "v1.0"}
	if err := c.Register(v1); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := c.Bootstrap(owner, "v9.9", nil); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("unknown version: want ErrUnknownVersion, got %v", err)
	}
	if err := c.Bootstrap(owner, "v1.0", []byte(`{}`)); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if v1.initCalls != 1 || v1.caller != owner {
		t.Fatalf("initialize not driven: %+v", v1)
	}
	version, err := c.ActiveVersion()
	if err != nil {
		t.Fatalf("active version: %v", err)
	}
	if version != "v1.0" {
		t.Fatalf("version = %q, want v1.0", version)
	}
	ts, err := c.LastUpgradeTime()
	if err != nil {
		t.Fatalf("upgrade time: %v", err)
	}
	if ts != 1_700_000_000 {
		t.Fatalf("upgrade time = %d", ts)
	}
	done, err := manager.InitDone("v1.0")
	if err != nil || !done {
		t.Fatalf("init flag not burned: %v %v", done, err)
	}

	if err := c.Bootstrap(owner, "v1.0", nil); err == nil {
		t.Fatalf("double bootstrap accepted")
	}
}

func TestUpgradeAndInitializeVersion(t *testing.T) {
	c, manager := newTestController(t)
	owner := testAddr(0x01)
	stranger := testAddr(0x02)
	v1 := &fakeLogic{version: "v1.0"}
	v2 := &fakeLogic{version: "v2.0"}
	if err := c.Register(v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if err := c.Register(v2); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if err := manager.SetOwner(owner); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := manager.SetLogicVersion("v1.0"); err != nil {
		t.Fatalf("set version: %v", err)
	}

	if err := c.Upgrade(stranger, "v2.0", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger upgrade: want ErrUnauthorized, got %v", err)
	}
	if err := c.Upgrade(owner, "v1.0", nil); err == nil {
		t.Fatalf("upgrade to active version accepted")
	}
	if err := c.Upgrade(owner, "v2.0", nil); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	logic, err := c.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if logic.Version() != "v2.0" {
		t.Fatalf("active = %q, want v2.0", logic.Version())
	}
	// The pointer swap never runs initialisation on its own.
	if v2.initCalls != 0 {
		t.Fatalf("upgrade ran initialize")
	}

	if err := c.InitializeVersion(stranger, "v2.0", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger init: want ErrUnauthorized, got %v", err)
	}
	if err := c.InitializeVersion(owner, "v2.0", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("initialize v2: %v", err)
	}
	if v2.initCalls != 1 {
		t.Fatalf("initialize not driven")
	}
	if err := c.InitializeVersion(owner, "v2.0", nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("double init: want ErrAlreadyInitialized, got %v", err)
	}
	// The v2 guard is independent of v1's.
	if err := c.InitializeVersion(owner, "v1.0", nil); err != nil {
		t.Fatalf("v1 init blocked by v2 flag: %v", err)
	}
}

func TestUpgradeWithPayloadInitializes(t *testing.T) {
	c, manager := newTestController(t)
	owner := testAddr(0x01)
	v2 := &fakeLogic{version: "v2.0"}
	if err := c.Register(&fakeLogic{version: "v1.0"}); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if err := c.Register(v2); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if err := manager.SetOwner(owner); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := manager.SetLogicVersion("v1.0"); err != nil {
		t.Fatalf("set version: %v", err)
	}

	payload := []byte(`{"feeRecipient":"0x01"}`)
	if err := c.Upgrade(owner, "v2.0", payload); err != nil {
		t.Fatalf("upgrade with payload: %v", err)
	}
	if v2.initCalls != 1 || string(v2.payload) != string(payload) {
		t.Fatalf("initialize not driven with payload: %+v", v2)
	}
	done, err := manager.InitDone("v2.0")
	if err != nil || !done {
		t.Fatalf("init flag not burned: %v %v", done, err)
	}
	// Re-running the initialisation is rejected even via a fresh upgrade.
	if err := manager.SetLogicVersion("v1.0"); err != nil {
		t.Fatalf("reset version: %v", err)
	}
	if err := c.Upgrade(owner, "v2.0", payload); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("double init via upgrade: want ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeFailureLeavesFlagUnburned(t *testing.T) {
	c, _ := newTestController(t)
	owner := testAddr(0x01)
	failing := &fakeLogic{version: "v1.0", initErr: errors.New("boom")}
	if err := c.Register(failing); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Bootstrap(owner, "v1.0", nil); err == nil {
		t.Fatalf("failing bootstrap accepted")
	}
	if _, err := c.ActiveVersion(); !errors.Is(err, ErrNoActiveLogic) {
		t.Fatalf("pointer set after failed bootstrap: %v", err)
	}
	failing.initErr = nil
	if err := c.Bootstrap(owner, "v1.0", nil); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestActiveWithoutPointer(t *testing.T) {
	c, _ := newTestController(t)
	if _, err := c.Active(); !errors.Is(err, ErrNoActiveLogic) {
		t.Fatalf("want ErrNoActiveLogic, got %v", err)
	}
}
