package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nusd/crypto"
	"nusd/native/vault"
	"nusd/storage"
)

// Manager mediates every read and write the node performs against the backing
// key-value store. Keys are namespaced per domain and hashed with keccak256 so
// callers cannot collide across namespaces.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	vaultPositionPrefix = []byte("vault/position/")
	vaultTotalsKey      = ethcrypto.Keccak256([]byte("vault/totals"))
)

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func positionKey(owner crypto.Address) []byte {
	buf := make([]byte, 0, len(vaultPositionPrefix)+crypto.AddressLength)
	buf = append(buf, vaultPositionPrefix...)
	buf = append(buf, owner.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

type storedAssetAmount struct {
	Asset  [20]byte
	Amount *big.Int
}

type storedPosition struct {
	Owner      [20]byte
	Collateral []storedAssetAmount
	Debt       *big.Int
}

type storedTotals struct {
	Collateral []storedAssetAmount
	Debt       *big.Int
}

func storedCollateral(entries []vault.AssetAmount) []storedAssetAmount {
	if len(entries) == 0 {
		return nil
	}
	out := make([]storedAssetAmount, len(entries))
	for i, entry := range entries {
		copy(out[i].Asset[:], entry.Asset.Bytes())
		if entry.Amount != nil {
			out[i].Amount = new(big.Int).Set(entry.Amount)
		} else {
			out[i].Amount = big.NewInt(0)
		}
	}
	return out
}

func collateralFromStored(entries []storedAssetAmount) []vault.AssetAmount {
	if len(entries) == 0 {
		return nil
	}
	out := make([]vault.AssetAmount, len(entries))
	for i, entry := range entries {
		out[i].Asset = crypto.NewAddress(entry.Asset[:])
		if entry.Amount != nil {
			out[i].Amount = new(big.Int).Set(entry.Amount)
		} else {
			out[i].Amount = big.NewInt(0)
		}
	}
	return out
}

// VaultGetPosition loads the stored position for the owner. The boolean
// reports whether a record existed.
func (m *Manager) VaultGetPosition(owner crypto.Address) (*vault.Position, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: database not configured")
	}
	if owner.IsZero() {
		return nil, false, fmt.Errorf("state: position owner must not be zero")
	}
	raw, ok, err := m.db.Get(positionKey(owner))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode position: %w", err)
	}
	position := &vault.Position{
		Owner:      crypto.NewAddress(stored.Owner[:]),
		Collateral: collateralFromStored(stored.Collateral),
		Debt:       big.NewInt(0),
	}
	if stored.Debt != nil {
		position.Debt = new(big.Int).Set(stored.Debt)
	}
	return position, true, nil
}

// VaultPutPosition persists the position under its owner's key.
func (m *Manager) VaultPutPosition(position *vault.Position) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if position == nil {
		return nil
	}
	if position.Owner.IsZero() {
		return fmt.Errorf("state: position owner must not be zero")
	}
	stored := storedPosition{
		Collateral: storedCollateral(position.Collateral),
		Debt:       big.NewInt(0),
	}
	copy(stored.Owner[:], position.Owner.Bytes())
	if position.Debt != nil {
		stored.Debt = new(big.Int).Set(position.Debt)
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode position: %w", err)
	}
	return m.db.Put(positionKey(position.Owner), encoded)
}

// VaultGetTotals loads the advisory aggregates. The boolean reports whether a
// record existed.
func (m *Manager) VaultGetTotals() (*vault.GlobalTotals, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: database not configured")
	}
	raw, ok, err := m.db.Get(vaultTotalsKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var stored storedTotals
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode totals: %w", err)
	}
	totals := &vault.GlobalTotals{
		Collateral: collateralFromStored(stored.Collateral),
		Debt:       big.NewInt(0),
	}
	if stored.Debt != nil {
		totals.Debt = new(big.Int).Set(stored.Debt)
	}
	return totals, true, nil
}

// VaultPutTotals persists the advisory aggregates.
func (m *Manager) VaultPutTotals(totals *vault.GlobalTotals) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if totals == nil {
		return nil
	}
	stored := storedTotals{
		Collateral: storedCollateral(totals.Collateral),
		Debt:       big.NewInt(0),
	}
	if totals.Debt != nil {
		stored.Debt = new(big.Int).Set(totals.Debt)
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode totals: %w", err)
	}
	return m.db.Put(vaultTotalsKey, encoded)
}

// KVPut stores the value under the supplied key. The key is hashed with
// keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value []byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Put(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key. The boolean return
// value indicates whether the key existed.
func (m *Manager) KVGet(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: database not configured")
	}
	if len(key) == 0 {
		return nil, false, fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Get(kvKey(key))
}
