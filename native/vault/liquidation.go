package vault

import (
	"fmt"
	"math/big"

	"nusd/core/events"
	"nusd/crypto"
	nativecommon "nusd/native/common"
)

// LiquidationReceipt reports the settled amounts of a liquidation.
type LiquidationReceipt struct {
	Liquidator crypto.Address
	Borrower   crypto.Address
	Asset      crypto.Address
	// DebtCovered is the synthetic amount retired, funded by the liquidator.
	DebtCovered *big.Int
	// CollateralSeized is the total collateral paid out, bonus included.
	CollateralSeized *big.Int
	// BonusCollateral is the premium portion of the seizure.
	BonusCollateral *big.Int
	// HealthBefore and HealthAfter record the borrower's health factor around
	// the liquidation on the 1e18 scale.
	HealthBefore *big.Int
	HealthAfter  *big.Int
	// Timestamp records when the liquidation settled, in unix seconds.
	Timestamp uint64
}

// Liquidate lets the liquidator repay part of an unhealthy borrower's debt in
// exchange for the equivalent collateral plus the liquidation bonus. The
// whole sequence is rehearsed against cloned state; the ledger is only
// touched once every check has passed.
func (e *Engine) Liquidate(liquidator, borrower, asset crypto.Address, debtToCover *big.Int) (*LiquidationReceipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, ok := e.supported[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if liquidator.IsZero() || borrower.IsZero() {
		return nil, ErrZeroAddress
	}

	position, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}

	// Only positions below the minimum health factor are liquidatable.
	healthBefore, err := e.healthFactorFor(position)
	if err != nil {
		return nil, err
	}
	if healthBefore.Cmp(MinHealthFactor) >= 0 {
		return nil, healthFactorErr(ErrHealthFactorOk, healthBefore)
	}
	if position.Debt.Cmp(debtToCover) < 0 {
		return nil, fmt.Errorf("%w: debt %s, cover %s", ErrBurnExceedsDebt, position.Debt, debtToCover)
	}

	// Convert the covered debt into collateral units and add the bonus.
	base, err := e.prices.AmountFromUSD(asset, debtToCover)
	if err != nil {
		return nil, fmt.Errorf("vault engine: collateral conversion: %w", err)
	}
	bonus := mulDivFloor(base, new(big.Int).SetUint64(e.params.LiquidationBonus), basisPoints)
	seize := new(big.Int).Add(base, bonus)
	posted := position.CollateralOf(asset)
	if posted.Cmp(seize) < 0 {
		return nil, fmt.Errorf("%w: posted %s, seize %s", ErrInsufficientCollateral, posted, seize)
	}

	// Rehearse the borrower's position and demand strict improvement.
	updated := position.Clone()
	updated.setCollateral(asset, new(big.Int).Sub(posted, seize))
	updated.Debt = new(big.Int).Sub(updated.Debt, debtToCover)
	healthAfter, err := e.healthFactorFor(updated)
	if err != nil {
		return nil, err
	}
	if healthAfter.Cmp(healthBefore) <= 0 {
		return nil, healthFactorErr(ErrHealthFactorNotImproved, healthAfter)
	}

	// The liquidator's own position must remain healthy.
	liquidatorPosition := updated
	if liquidator != borrower {
		liquidatorPosition, err = e.loadPosition(liquidator)
		if err != nil {
			return nil, err
		}
	}
	if err := e.requireHealthy(liquidatorPosition); err != nil {
		return nil, err
	}

	// Retire the covered debt from the liquidator's own balance, then release
	// the seized collateral.
	if err := e.ledger.RetireFrom(e.synthAsset, liquidator, debtToCover); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.ledger.Transfer(asset, e.moduleAddress, liquidator, seize); err != nil {
		_ = e.ledger.Issue(e.synthAsset, liquidator, debtToCover)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.Transfer(asset, liquidator, e.moduleAddress, seize)
		_ = e.ledger.Issue(e.synthAsset, liquidator, debtToCover)
		return nil, err
	}
	totals.subDebt(debtToCover)
	totals.subCollateral(asset, seize)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return nil, err
	}

	receipt := &LiquidationReceipt{
		Liquidator:       liquidator,
		Borrower:         borrower,
		Asset:            asset,
		DebtCovered:      new(big.Int).Set(debtToCover),
		CollateralSeized: seize,
		BonusCollateral:  bonus,
		HealthBefore:     healthBefore,
		HealthAfter:      healthAfter,
		Timestamp:        uint64(e.nowFunc().Unix()),
	}
	e.emitter.Emit(events.DebtBurned{
		Owner:  borrower,
		Payer:  liquidator,
		Amount: new(big.Int).Set(debtToCover),
	})
	e.emitter.Emit(events.CollateralRedeemed{
		Owner:     borrower,
		Recipient: liquidator,
		Asset:     asset,
		Amount:    new(big.Int).Set(seize),
	})
	e.emitter.Emit(events.PositionLiquidated{
		Liquidator:       liquidator,
		Borrower:         borrower,
		Asset:            asset,
		DebtCovered:      new(big.Int).Set(debtToCover),
		CollateralSeized: new(big.Int).Set(seize),
		BonusCollateral:  new(big.Int).Set(bonus),
		HealthBefore:     new(big.Int).Set(healthBefore),
		HealthAfter:      new(big.Int).Set(healthAfter),
	})
	return receipt, nil
}
