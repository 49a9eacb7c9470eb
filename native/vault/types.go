package vault

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"nusd/crypto"
)

// AssetAmount pairs a collateral asset with a quantity in the asset's native
// precision.
type AssetAmount struct {
	Asset  crypto.Address
	Amount *big.Int
}

// Position maintains the collateral and synthetic debt accounting for an
// individual participant. Collateral entries are created on first deposit,
// kept in address order, and never removed; a fully redeemed asset reads as
// an explicit zero.
type Position struct {
	// Owner is the account the position belongs to.
	Owner crypto.Address
	// Collateral records the posted balance per supported asset.
	Collateral []AssetAmount
	// Debt stores the outstanding synthetic units issued against the
	// collateral, denominated on the internal 1e18 scale.
	Debt *big.Int
}

// Clone returns a deep copy so staged mutations never leak into loaded state.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Owner: p.Owner}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	if len(p.Collateral) > 0 {
		clone.Collateral = make([]AssetAmount, len(p.Collateral))
		for i, entry := range p.Collateral {
			clone.Collateral[i] = AssetAmount{Asset: entry.Asset}
			if entry.Amount != nil {
				clone.Collateral[i].Amount = new(big.Int).Set(entry.Amount)
			}
		}
	}
	return clone
}

// CollateralOf reports the posted balance of the asset. Assets without an
// entry read as zero.
func (p *Position) CollateralOf(asset crypto.Address) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	for _, entry := range p.Collateral {
		if entry.Asset == asset {
			if entry.Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(entry.Amount)
		}
	}
	return big.NewInt(0)
}

// setCollateral records the balance for the asset, inserting a new entry in
// address order when the asset has not been seen before. Entries persist at
// zero once created.
func (p *Position) setCollateral(asset crypto.Address, amount *big.Int) {
	value := big.NewInt(0)
	if amount != nil {
		value = new(big.Int).Set(amount)
	}
	for i := range p.Collateral {
		if p.Collateral[i].Asset == asset {
			p.Collateral[i].Amount = value
			return
		}
	}
	p.Collateral = append(p.Collateral, AssetAmount{Asset: asset, Amount: value})
	sort.Slice(p.Collateral, func(i, j int) bool {
		return bytes.Compare(p.Collateral[i].Asset.Bytes(), p.Collateral[j].Asset.Bytes()) < 0
	})
}

// RiskParameters groups the safety limits applied to every position.
type RiskParameters struct {
	// LiquidationThreshold discounts collateral value when computing health,
	// expressed in basis points. 5000 means positions must hold twice their
	// debt in collateral value.
	LiquidationThreshold uint64
	// LiquidationBonus is the premium a liquidator collects on seized
	// collateral, expressed in basis points.
	LiquidationBonus uint64
	// MaxQuoteAge bounds how old an oracle observation may be before price
	// reads fail. Zero disables the check.
	MaxQuoteAge time.Duration
}

// DefaultRiskParameters returns the production defaults: a 200% collateral
// requirement with a 10% liquidation bonus and a three hour oracle window.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThreshold: 5_000,
		LiquidationBonus:     1_000,
		MaxQuoteAge:          3 * time.Hour,
	}
}

// Normalise fills zero fields with defaults and validates the basis point
// bounds.
func (p RiskParameters) Normalise() (RiskParameters, error) {
	out := p
	defaults := DefaultRiskParameters()
	if out.LiquidationThreshold == 0 {
		out.LiquidationThreshold = defaults.LiquidationThreshold
	}
	if out.LiquidationBonus == 0 {
		out.LiquidationBonus = defaults.LiquidationBonus
	}
	if out.LiquidationThreshold > 10_000 {
		return RiskParameters{}, errInvalidThreshold
	}
	if out.LiquidationBonus >= 10_000 {
		return RiskParameters{}, errInvalidBonus
	}
	return out, nil
}

// GlobalTotals carries advisory aggregates across all positions. The ledger
// entries remain authoritative; totals exist for dashboards and quick supply
// checks and are refreshed on every successful operation.
type GlobalTotals struct {
	// Collateral aggregates posted balances per asset.
	Collateral []AssetAmount
	// Debt aggregates outstanding synthetic units.
	Debt *big.Int
}

// Clone returns a deep copy of the totals.
func (t *GlobalTotals) Clone() *GlobalTotals {
	if t == nil {
		return nil
	}
	clone := &GlobalTotals{}
	if t.Debt != nil {
		clone.Debt = new(big.Int).Set(t.Debt)
	}
	if len(t.Collateral) > 0 {
		clone.Collateral = make([]AssetAmount, len(t.Collateral))
		for i, entry := range t.Collateral {
			clone.Collateral[i] = AssetAmount{Asset: entry.Asset}
			if entry.Amount != nil {
				clone.Collateral[i].Amount = new(big.Int).Set(entry.Amount)
			}
		}
	}
	return clone
}

// CollateralOf reports the aggregate posted balance of the asset.
func (t *GlobalTotals) CollateralOf(asset crypto.Address) *big.Int {
	if t == nil {
		return big.NewInt(0)
	}
	for _, entry := range t.Collateral {
		if entry.Asset == asset {
			if entry.Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(entry.Amount)
		}
	}
	return big.NewInt(0)
}

func (t *GlobalTotals) addCollateral(asset crypto.Address, delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	for i := range t.Collateral {
		if t.Collateral[i].Asset == asset {
			current := t.Collateral[i].Amount
			if current == nil {
				current = big.NewInt(0)
			}
			t.Collateral[i].Amount = new(big.Int).Add(current, delta)
			return
		}
	}
	t.Collateral = append(t.Collateral, AssetAmount{Asset: asset, Amount: new(big.Int).Set(delta)})
	sort.Slice(t.Collateral, func(i, j int) bool {
		return bytes.Compare(t.Collateral[i].Asset.Bytes(), t.Collateral[j].Asset.Bytes()) < 0
	})
}

func (t *GlobalTotals) subCollateral(asset crypto.Address, delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	for i := range t.Collateral {
		if t.Collateral[i].Asset == asset {
			current := t.Collateral[i].Amount
			if current == nil {
				current = big.NewInt(0)
			}
			next := new(big.Int).Sub(current, delta)
			if next.Sign() < 0 {
				next = big.NewInt(0)
			}
			t.Collateral[i].Amount = next
			return
		}
	}
}

func (t *GlobalTotals) addDebt(delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	if t.Debt == nil {
		t.Debt = big.NewInt(0)
	}
	t.Debt = new(big.Int).Add(t.Debt, delta)
}

func (t *GlobalTotals) subDebt(delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	if t.Debt == nil {
		t.Debt = big.NewInt(0)
	}
	next := new(big.Int).Sub(t.Debt, delta)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	t.Debt = next
}
