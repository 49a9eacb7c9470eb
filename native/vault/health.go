package vault

import (
	"fmt"
	"math/big"

	"nusd/crypto"
	"nusd/native/oracle"
)

// AccountInformation summarises a position for callers that want the raw
// inputs to the health factor.
type AccountInformation struct {
	// Debt is the outstanding synthetic balance on the internal 1e18 scale.
	Debt *big.Int
	// CollateralValueUSD is the oracle valuation of all posted collateral on
	// the internal 1e18 scale, before the liquidation threshold is applied.
	CollateralValueUSD *big.Int
}

// collateralValueUSD prices every posted collateral entry and sums the
// results. Zero entries are skipped so broken feeds only fail positions that
// actually hold the asset.
func (e *Engine) collateralValueUSD(position *Position) (*big.Int, error) {
	total := big.NewInt(0)
	if position == nil {
		return total, nil
	}
	for _, entry := range position.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		value, err := e.prices.ValueUSD(entry.Asset, entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("vault engine: collateral valuation: %w", err)
		}
		total.Add(total, value)
	}
	return total, nil
}

// healthFactorFor computes the 1e18-scale health factor for the supplied
// position snapshot. Positions with no debt report MaxHealthFactor without
// touching the oracle, so a broken feed never blocks a full exit.
func (e *Engine) healthFactorFor(position *Position) (*big.Int, error) {
	debt := big.NewInt(0)
	if position != nil && position.Debt != nil {
		debt = position.Debt
	}
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}
	collateralUSD, err := e.collateralValueUSD(position)
	if err != nil {
		return nil, err
	}
	adjusted := mulDivFloor(collateralUSD, new(big.Int).SetUint64(e.params.LiquidationThreshold), basisPoints)
	return mulDivFloor(adjusted, precision, debt), nil
}

// requireHealthy rejects position snapshots whose health factor falls below
// the minimum. Exactly the minimum passes.
func (e *Engine) requireHealthy(position *Position) error {
	factor, err := e.healthFactorFor(position)
	if err != nil {
		return err
	}
	if factor.Cmp(MinHealthFactor) < 0 {
		return healthFactorErr(ErrHealthFactorBelowMinimum, factor)
	}
	return nil
}

// HealthFactor reports the user's current health factor on the 1e18 scale.
// Debt-free positions report MaxHealthFactor.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if user.IsZero() {
		return nil, ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return e.healthFactorFor(position)
}

// AccountInformation reports the user's outstanding debt and total collateral
// valuation.
func (e *Engine) AccountInformation(user crypto.Address) (AccountInformation, error) {
	if e == nil || e.state == nil {
		return AccountInformation{}, errStateNotConfigured
	}
	if user.IsZero() {
		return AccountInformation{}, ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return AccountInformation{}, err
	}
	collateralUSD, err := e.collateralValueUSD(position)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{
		Debt:               new(big.Int).Set(position.Debt),
		CollateralValueUSD: collateralUSD,
	}, nil
}

// CollateralValueUSD reports the oracle valuation of the user's posted
// collateral on the internal 1e18 scale.
func (e *Engine) CollateralValueUSD(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if user.IsZero() {
		return nil, ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return e.collateralValueUSD(position)
}

// CollateralOf reports the user's posted balance of the asset.
func (e *Engine) CollateralOf(user, asset crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if _, ok := e.supported[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if user.IsZero() {
		return nil, ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return position.CollateralOf(asset), nil
}

// PositionOf returns a copy of the user's stored position.
func (e *Engine) PositionOf(user crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if user.IsZero() {
		return nil, ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Totals returns a copy of the advisory global aggregates.
func (e *Engine) Totals() (*GlobalTotals, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

// CollateralAssets returns the supported collateral assets in registry order.
func (e *Engine) CollateralAssets() []crypto.Address {
	if e == nil {
		return nil
	}
	out := make([]crypto.Address, len(e.assets))
	copy(out, e.assets)
	return out
}

// Quote exposes the validated oracle observation for the asset.
func (e *Engine) Quote(asset crypto.Address) (oracle.Quote, error) {
	if e == nil || e.prices == nil {
		return oracle.Quote{}, errStateNotConfigured
	}
	return e.prices.Quote(asset)
}

// Params returns the active risk parameters.
func (e *Engine) Params() RiskParameters {
	if e == nil {
		return RiskParameters{}
	}
	return e.params
}

// SynthAsset returns the synthetic token address the engine issues.
func (e *Engine) SynthAsset() crypto.Address {
	if e == nil {
		return crypto.ZeroAddress
	}
	return e.synthAsset
}

// ModuleAddress returns the vault's custody account.
func (e *Engine) ModuleAddress() crypto.Address {
	if e == nil {
		return crypto.ZeroAddress
	}
	return e.moduleAddress
}
