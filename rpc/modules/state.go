package modules

import (
	"fmt"

	"nusd/core/state"
	"nusd/crypto"
	"nusd/native/vault"
)

// StateAdapter narrows the state manager to the persistence surface the vault
// engine expects. The manager reports record absence through a boolean; the
// engine zero-initialises missing positions itself, so absence collapses to a
// nil record here.
type StateAdapter struct {
	manager *state.Manager
}

// NewStateAdapter wraps the manager for engine wiring.
func NewStateAdapter(manager *state.Manager) *StateAdapter {
	return &StateAdapter{manager: manager}
}

func (a *StateAdapter) VaultGetPosition(owner crypto.Address) (*vault.Position, error) {
	if a == nil || a.manager == nil {
		return nil, fmt.Errorf("vault: state manager unavailable")
	}
	position, ok, err := a.manager.VaultGetPosition(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

func (a *StateAdapter) VaultPutPosition(position *vault.Position) error {
	if a == nil || a.manager == nil {
		return fmt.Errorf("vault: state manager unavailable")
	}
	return a.manager.VaultPutPosition(position)
}

func (a *StateAdapter) VaultGetTotals() (*vault.GlobalTotals, error) {
	if a == nil || a.manager == nil {
		return nil, fmt.Errorf("vault: state manager unavailable")
	}
	totals, ok, err := a.manager.VaultGetTotals()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return totals, nil
}

func (a *StateAdapter) VaultPutTotals(totals *vault.GlobalTotals) error {
	if a == nil || a.manager == nil {
		return fmt.Errorf("vault: state manager unavailable")
	}
	return a.manager.VaultPutTotals(totals)
}
