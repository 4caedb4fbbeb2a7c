package registry

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrAssetNotFound is returned when the queried asset has never been minted.
var ErrAssetNotFound = errors.New("registry: asset not found")

// ErrTransferDenied is returned when the transfer caller holds neither the
// asset nor an approval from its owner.
var ErrTransferDenied = errors.New("registry: caller lacks transfer authorization")

// AssetRegistry is an in-process non-fungible asset registry: it tracks
// ownership and honours per-asset and operator approvals on transfer. It
// stands in for the external NFT registry collaborator.
type AssetRegistry struct {
	mu        sync.RWMutex
	addr      [20]byte
	owners    map[uint64][20]byte
	approved  map[uint64][20]byte
	operators map[[20]byte]map[[20]byte]bool
}

// NewAssetRegistry constructs an empty registry identified by a deterministic
// address derived from its name.
func NewAssetRegistry(name string) *AssetRegistry {
	return &AssetRegistry{
		addr:      deriveAddress("registry/assets/" + name),
		owners:    make(map[uint64][20]byte),
		approved:  make(map[uint64][20]byte),
		operators: make(map[[20]byte]map[[20]byte]bool),
	}
}

// Address returns the registry's identity on the ledger.
func (r *AssetRegistry) Address() [20]byte {
	return r.addr
}

// Mint assigns a fresh asset to the supplied owner.
func (r *AssetRegistry) Mint(to [20]byte, assetID uint64) error {
	if to == ([20]byte{}) {
		return fmt.Errorf("registry: mint to zero address")
	}
	if assetID == 0 {
		return fmt.Errorf("registry: asset id must be greater than zero")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[assetID]; exists {
		return fmt.Errorf("registry: asset %d already minted", assetID)
	}
	r.owners[assetID] = to
	return nil
}

// OwnerOf resolves the current custodian of the asset.
func (r *AssetRegistry) OwnerOf(assetID uint64) ([20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[assetID]
	if !ok {
		return [20]byte{}, ErrAssetNotFound
	}
	return owner, nil
}

// Approve grants a single-asset transfer approval. Only the current owner may
// approve.
func (r *AssetRegistry) Approve(owner, spender [20]byte, assetID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.owners[assetID]
	if !ok {
		return ErrAssetNotFound
	}
	if current != owner {
		return fmt.Errorf("registry: approve caller does not own asset %d", assetID)
	}
	r.approved[assetID] = spender
	return nil
}

// SetApprovalForAll grants or revokes an operator approval covering every
// asset held by the owner.
func (r *AssetRegistry) SetApprovalForAll(owner, operator [20]byte, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.operators[owner]
	if ops == nil {
		ops = make(map[[20]byte]bool)
		r.operators[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

// Transfer moves custody of the asset from the current owner to the supplied
// recipient. The caller must be the owner, the per-asset approved spender, or
// an approved operator; anything else fails with ErrTransferDenied.
func (r *AssetRegistry) Transfer(caller, from, to [20]byte, assetID uint64) error {
	if to == ([20]byte{}) {
		return fmt.Errorf("registry: transfer to zero address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[assetID]
	if !ok {
		return ErrAssetNotFound
	}
	if owner != from {
		return fmt.Errorf("registry: asset %d not held by sender", assetID)
	}
	if !r.authorized(caller, owner, assetID) {
		return ErrTransferDenied
	}
	r.owners[assetID] = to
	delete(r.approved, assetID)
	return nil
}

func (r *AssetRegistry) authorized(caller, owner [20]byte, assetID uint64) bool {
	if caller == owner {
		return true
	}
	if r.approved[assetID] == caller {
		return true
	}
	return r.operators[owner][caller]
}

func deriveAddress(seed string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte(seed))
	copy(addr[:], hash[12:])
	return addr
}
