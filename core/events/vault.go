package events

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"nusd/core/types"
	"nusd/crypto"
)

const (
	// TypeCollateralDeposited is emitted when a user posts collateral into the
	// vault module account.
	TypeCollateralDeposited = "vault.collateral_deposited"
	// TypeCollateralRedeemed is emitted when posted collateral leaves the vault,
	// either back to its owner or to a liquidator.
	TypeCollateralRedeemed = "vault.collateral_redeemed"
	// TypeDebtIssued is emitted when synthetic units are minted against a
	// position.
	TypeDebtIssued = "vault.debt_issued"
	// TypeDebtBurned is emitted when synthetic units are retired against a
	// position. Payer differs from Owner when a liquidator funds the burn.
	TypeDebtBurned = "vault.debt_burned"
	// TypePositionLiquidated is emitted after a successful liquidation.
	TypePositionLiquidated = "vault.position_liquidated"
	// TypeOraclePriceUpdated is emitted when an operator override changes a
	// manual price feed.
	TypeOraclePriceUpdated = "oracle.price_updated"
)

// CollateralDeposited captures a completed collateral deposit.
type CollateralDeposited struct {
	User   crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e CollateralDeposited) Event() *types.Event {
	if e.User.IsZero() || e.Asset.IsZero() || e.Amount == nil {
		return nil
	}
	return &types.Event{Type: TypeCollateralDeposited, Attributes: map[string]string{
		"user":   e.User.String(),
		"asset":  e.Asset.String(),
		"amount": e.Amount.String(),
	}}
}

// CollateralRedeemed captures collateral leaving the vault. Recipient matches
// Owner for ordinary redemptions and names the liquidator for seizures.
type CollateralRedeemed struct {
	Owner     crypto.Address
	Recipient crypto.Address
	Asset     crypto.Address
	Amount    *big.Int
}

// EventType satisfies the events.Event interface.
func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e CollateralRedeemed) Event() *types.Event {
	if e.Owner.IsZero() || e.Recipient.IsZero() || e.Asset.IsZero() || e.Amount == nil {
		return nil
	}
	return &types.Event{Type: TypeCollateralRedeemed, Attributes: map[string]string{
		"owner":     e.Owner.String(),
		"recipient": e.Recipient.String(),
		"asset":     e.Asset.String(),
		"amount":    e.Amount.String(),
	}}
}

// DebtIssued captures synthetic units minted against a position.
type DebtIssued struct {
	User   crypto.Address
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (DebtIssued) EventType() string { return TypeDebtIssued }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e DebtIssued) Event() *types.Event {
	if e.User.IsZero() || e.Amount == nil {
		return nil
	}
	return &types.Event{Type: TypeDebtIssued, Attributes: map[string]string{
		"user":   e.User.String(),
		"amount": e.Amount.String(),
	}}
}

// DebtBurned captures synthetic units retired against a position.
type DebtBurned struct {
	Owner  crypto.Address
	Payer  crypto.Address
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (DebtBurned) EventType() string { return TypeDebtBurned }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e DebtBurned) Event() *types.Event {
	if e.Owner.IsZero() || e.Payer.IsZero() || e.Amount == nil {
		return nil
	}
	return &types.Event{Type: TypeDebtBurned, Attributes: map[string]string{
		"owner":  e.Owner.String(),
		"payer":  e.Payer.String(),
		"amount": e.Amount.String(),
	}}
}

// PositionLiquidated captures the outcome of a successful liquidation.
type PositionLiquidated struct {
	Liquidator       crypto.Address
	Borrower         crypto.Address
	Asset            crypto.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
	BonusCollateral  *big.Int
	HealthBefore     *big.Int
	HealthAfter      *big.Int
}

// EventType satisfies the events.Event interface.
func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e PositionLiquidated) Event() *types.Event {
	if e.Liquidator.IsZero() || e.Borrower.IsZero() || e.Asset.IsZero() {
		return nil
	}
	if e.DebtCovered == nil || e.CollateralSeized == nil {
		return nil
	}
	attrs := map[string]string{
		"liquidator":       e.Liquidator.String(),
		"borrower":         e.Borrower.String(),
		"asset":            e.Asset.String(),
		"debtCovered":      e.DebtCovered.String(),
		"collateralSeized": e.CollateralSeized.String(),
	}
	if e.BonusCollateral != nil {
		attrs["bonusCollateral"] = e.BonusCollateral.String()
	}
	if e.HealthBefore != nil {
		attrs["healthBefore"] = e.HealthBefore.String()
	}
	if e.HealthAfter != nil {
		attrs["healthAfter"] = e.HealthAfter.String()
	}
	return &types.Event{Type: TypePositionLiquidated, Attributes: attrs}
}

// OraclePriceUpdated captures an operator override of a manual price feed.
type OraclePriceUpdated struct {
	Asset     crypto.Address
	Answer    *big.Int
	Decimals  uint8
	Source    string
	UpdatedAt time.Time
}

// EventType satisfies the events.Event interface.
func (OraclePriceUpdated) EventType() string { return TypeOraclePriceUpdated }

// Event converts the structured payload into a wire-friendly representation
// for RPC subscribers.
func (e OraclePriceUpdated) Event() *types.Event {
	if e.Asset.IsZero() || e.Answer == nil {
		return nil
	}
	attrs := map[string]string{
		"asset":    e.Asset.String(),
		"answer":   e.Answer.String(),
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
	}
	if source := strings.TrimSpace(e.Source); source != "" {
		attrs["source"] = source
	}
	if !e.UpdatedAt.IsZero() {
		attrs["updatedAt"] = e.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return &types.Event{Type: TypeOraclePriceUpdated, Attributes: attrs}
}
