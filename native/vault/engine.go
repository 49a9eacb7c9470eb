package vault

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"nusd/core/events"
	"nusd/crypto"
	nativecommon "nusd/native/common"
	"nusd/native/oracle"
)

const moduleName = "vault"

var (
	// ErrInvalidAmount rejects nil, zero, and negative amounts on every
	// operation. Amounts are validated before anything else.
	ErrInvalidAmount = errors.New("vault engine: amount must be positive")
	// ErrUnsupportedAsset rejects collateral assets outside the registry fixed
	// at construction.
	ErrUnsupportedAsset = errors.New("vault engine: collateral asset not supported")
	// ErrZeroAddress rejects the zero account address wherever a user is named.
	ErrZeroAddress = errors.New("vault engine: zero address not a valid user")
	// ErrLengthMismatch rejects construction with unequal asset and feed lists.
	ErrLengthMismatch = errors.New("vault engine: asset and feed lists must have equal length")
	// ErrIssuanceFailed wraps a refusal from the token ledger while minting.
	ErrIssuanceFailed = errors.New("vault engine: synthetic issuance failed")
	// ErrTransferFailed wraps a refusal from the token ledger while moving or
	// retiring units.
	ErrTransferFailed = errors.New("vault engine: token transfer failed")
	// ErrBurnExceedsDebt rejects burning more synthetic units than the position
	// owes.
	ErrBurnExceedsDebt = errors.New("vault engine: burn amount exceeds outstanding debt")
	// ErrInsufficientCollateral rejects withdrawing or seizing more collateral
	// than the position holds.
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral")
	// ErrHealthFactorBelowMinimum reports an operation that would leave the
	// acting position undercollateralised. Carried inside HealthFactorError.
	ErrHealthFactorBelowMinimum = errors.New("vault engine: health factor below minimum")
	// ErrHealthFactorOk reports a liquidation attempt against a healthy
	// position. Carried inside HealthFactorError.
	ErrHealthFactorOk = errors.New("vault engine: position not eligible for liquidation")
	// ErrHealthFactorNotImproved reports a liquidation that failed to strictly
	// improve the borrower's health. Carried inside HealthFactorError.
	ErrHealthFactorNotImproved = errors.New("vault engine: health factor not improved")
)

var (
	errStateNotConfigured  = errors.New("vault engine: state not configured")
	errLedgerNotConfigured = errors.New("vault engine: token ledger not configured")
	errInvalidThreshold    = errors.New("vault engine: liquidation threshold out of range")
	errInvalidBonus        = errors.New("vault engine: liquidation bonus out of range")
)

// HealthFactorError decorates one of the health sentinels with the computed
// factor so callers can report how far a position sits from the boundary.
type HealthFactorError struct {
	Err    error
	Factor *big.Int
}

// Error renders the sentinel message with the 1e18-scale factor attached.
func (e *HealthFactorError) Error() string {
	if e == nil || e.Err == nil {
		return "vault engine: health factor error"
	}
	return fmt.Sprintf("%s (health factor %s)", e.Err.Error(), FormatHealthFactor(e.Factor))
}

// Unwrap exposes the sentinel for errors.Is.
func (e *HealthFactorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func healthFactorErr(sentinel error, factor *big.Int) error {
	carried := big.NewInt(0)
	if factor != nil {
		carried = new(big.Int).Set(factor)
	}
	return &HealthFactorError{Err: sentinel, Factor: carried}
}

// engineState abstracts the persistence operations required by the vault
// engine.
type engineState interface {
	VaultGetPosition(owner crypto.Address) (*Position, error)
	VaultPutPosition(position *Position) error
	VaultGetTotals() (*GlobalTotals, error)
	VaultPutTotals(totals *GlobalTotals) error
}

// TokenLedger abstracts the balance operations the engine performs against
// the token ledger. Every call may refuse; refusals surface as
// ErrTransferFailed or ErrIssuanceFailed.
type TokenLedger interface {
	Transfer(asset, from, to crypto.Address, amount *big.Int) error
	Issue(asset, to crypto.Address, amount *big.Int) error
	RetireFrom(asset, holder crypto.Address, amount *big.Int) error
	BalanceOf(asset, holder crypto.Address) (*big.Int, error)
}

// Engine executes collateral and synthetic debt operations. Mutating
// operations are serialised by an entry guard, validated, rehearsed against
// cloned state, and only then allowed to touch the ledger and persist.
type Engine struct {
	state   engineState
	ledger  TokenLedger
	prices  *oracle.Adapter
	emitter events.Emitter
	guard   nativecommon.EntryGuard
	pauses  nativecommon.PauseView

	moduleAddress crypto.Address
	synthAsset    crypto.Address
	assets        []crypto.Address
	supported     map[crypto.Address]struct{}
	params        RiskParameters

	nowFunc func() time.Time
}

// NewEngine wires the collateral registry. The asset and feed lists pair by
// index and must have equal length; every asset must be a unique non-zero
// address with a non-nil feed.
func NewEngine(moduleAddress, synthAsset crypto.Address, assets []crypto.Address, feeds []oracle.Feed, params RiskParameters) (*Engine, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w (%d assets, %d feeds)", ErrLengthMismatch, len(assets), len(feeds))
	}
	if moduleAddress.IsZero() {
		return nil, fmt.Errorf("vault engine: module address must not be zero")
	}
	if synthAsset.IsZero() {
		return nil, fmt.Errorf("vault engine: synthetic asset address must not be zero")
	}
	supported := make(map[crypto.Address]struct{}, len(assets))
	ordered := make([]crypto.Address, 0, len(assets))
	for i, asset := range assets {
		if asset.IsZero() {
			return nil, fmt.Errorf("%w: zero address at index %d", ErrUnsupportedAsset, i)
		}
		if asset == synthAsset {
			return nil, fmt.Errorf("%w: synthetic asset cannot back itself", ErrUnsupportedAsset)
		}
		if _, exists := supported[asset]; exists {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrUnsupportedAsset, asset)
		}
		supported[asset] = struct{}{}
		ordered = append(ordered, asset)
	}
	normalised, err := params.Normalise()
	if err != nil {
		return nil, err
	}
	prices, err := oracle.NewAdapter(ordered, feeds, normalised.MaxQuoteAge)
	if err != nil {
		return nil, fmt.Errorf("vault engine: price adapter: %w", err)
	}
	return &Engine{
		prices:        prices,
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddress,
		synthAsset:    synthAsset,
		assets:        ordered,
		supported:     supported,
		params:        normalised,
		nowFunc:       time.Now,
	}, nil
}

// SetState wires the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetLedger wires the token ledger used for collateral custody and synthetic
// supply changes.
func (e *Engine) SetLedger(ledger TokenLedger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetPauses configures the module pause switches enforced on every mutating
// operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter overrides the event emitter. A nil emitter restores the no-op
// default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	return nil
}

// loadPosition fetches the stored position, zero-initialising on first touch.
func (e *Engine) loadPosition(owner crypto.Address) (*Position, error) {
	position, err := e.state.VaultGetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Owner: owner}
	}
	if position.Debt == nil {
		position.Debt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) loadTotals() (*GlobalTotals, error) {
	totals, err := e.state.VaultGetTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &GlobalTotals{}
	}
	if totals.Debt == nil {
		totals.Debt = big.NewInt(0)
	}
	return totals, nil
}

// validateUserAmount applies the shared entry checks in their fixed order:
// amount first, asset support second, user address last.
func (e *Engine) validateUserAmount(user, asset crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, ok := e.supported[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if user.IsZero() {
		return ErrZeroAddress
	}
	return nil
}

// DepositCollateral pulls amount of the supported asset from the user into
// the module vault account and credits the position. Deposits never require a
// health check.
func (e *Engine) DepositCollateral(user, asset crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.validateUserAmount(user, asset, amount); err != nil {
		return err
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	updated := position.Clone()
	updated.setCollateral(asset, new(big.Int).Add(position.CollateralOf(asset), amount))

	if err := e.ledger.Transfer(asset, user, e.moduleAddress, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.Transfer(asset, e.moduleAddress, user, amount)
		return err
	}
	totals.addCollateral(asset, amount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{
		User:   user,
		Asset:  asset,
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// Mint issues amount synthetic units against the user's collateral. The debt
// is applied tentatively and the resulting health factor must stay at or
// above the minimum before any units are created.
func (e *Engine) Mint(user crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if user.IsZero() {
		return ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	updated := position.Clone()
	updated.Debt = new(big.Int).Add(updated.Debt, amount)
	if err := e.requireHealthy(updated); err != nil {
		return err
	}

	if err := e.ledger.Issue(e.synthAsset, user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.RetireFrom(e.synthAsset, user, amount)
		return err
	}
	totals.addDebt(amount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.DebtIssued{
		User:   user,
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// Burn retires amount synthetic units held by the user and reduces the
// position's debt. Burning more than the outstanding debt is refused.
func (e *Engine) Burn(user crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if user.IsZero() {
		return ErrZeroAddress
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if position.Debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: debt %s, burn %s", ErrBurnExceedsDebt, position.Debt, amount)
	}
	updated := position.Clone()
	updated.Debt = new(big.Int).Sub(updated.Debt, amount)
	// Reducing debt can only raise the health factor; the recheck guards the
	// accounting rather than the caller.
	if err := e.requireHealthy(updated); err != nil {
		return err
	}

	if err := e.ledger.RetireFrom(e.synthAsset, user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.Issue(e.synthAsset, user, amount)
		return err
	}
	totals.subDebt(amount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.DebtBurned{
		Owner:  user,
		Payer:  user,
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// RedeemCollateral returns amount of the asset from the vault to the user.
// The withdrawal is rehearsed against the position and refused when it would
// leave the remaining debt undercollateralised.
func (e *Engine) RedeemCollateral(user, asset crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.validateUserAmount(user, asset, amount); err != nil {
		return err
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	posted := position.CollateralOf(asset)
	if posted.Cmp(amount) < 0 {
		return fmt.Errorf("%w: posted %s, requested %s", ErrInsufficientCollateral, posted, amount)
	}
	updated := position.Clone()
	updated.setCollateral(asset, new(big.Int).Sub(posted, amount))
	if err := e.requireHealthy(updated); err != nil {
		return err
	}

	if err := e.ledger.Transfer(asset, e.moduleAddress, user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.Transfer(asset, user, e.moduleAddress, amount)
		return err
	}
	totals.subCollateral(asset, amount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{
		Owner:     user,
		Recipient: user,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// DepositAndMint performs a deposit and a mint as one serialised operation.
// The health check sees the position with both legs applied, so collateral
// posted in the same call backs the new debt.
func (e *Engine) DepositAndMint(user, asset crypto.Address, collateralAmount, mintAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if mintAmount == nil || mintAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.validateUserAmount(user, asset, collateralAmount); err != nil {
		return err
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	updated := position.Clone()
	updated.setCollateral(asset, new(big.Int).Add(position.CollateralOf(asset), collateralAmount))
	updated.Debt = new(big.Int).Add(updated.Debt, mintAmount)
	if err := e.requireHealthy(updated); err != nil {
		return err
	}

	if err := e.ledger.Transfer(asset, user, e.moduleAddress, collateralAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.ledger.Issue(e.synthAsset, user, mintAmount); err != nil {
		_ = e.ledger.Transfer(asset, e.moduleAddress, user, collateralAmount)
		return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.RetireFrom(e.synthAsset, user, mintAmount)
		_ = e.ledger.Transfer(asset, e.moduleAddress, user, collateralAmount)
		return err
	}
	totals.addCollateral(asset, collateralAmount)
	totals.addDebt(mintAmount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{
		User:   user,
		Asset:  asset,
		Amount: new(big.Int).Set(collateralAmount),
	})
	e.emitter.Emit(events.DebtIssued{
		User:   user,
		Amount: new(big.Int).Set(mintAmount),
	})
	return nil
}

// BurnAndRedeem retires synthetic units and withdraws collateral as one
// serialised operation. The health check sees the position with both legs
// applied.
func (e *Engine) BurnAndRedeem(user crypto.Address, burnAmount *big.Int, asset crypto.Address, redeemAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if burnAmount == nil || burnAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.validateUserAmount(user, asset, redeemAmount); err != nil {
		return err
	}
	position, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if position.Debt.Cmp(burnAmount) < 0 {
		return fmt.Errorf("%w: debt %s, burn %s", ErrBurnExceedsDebt, position.Debt, burnAmount)
	}
	posted := position.CollateralOf(asset)
	if posted.Cmp(redeemAmount) < 0 {
		return fmt.Errorf("%w: posted %s, requested %s", ErrInsufficientCollateral, posted, redeemAmount)
	}
	updated := position.Clone()
	updated.Debt = new(big.Int).Sub(updated.Debt, burnAmount)
	updated.setCollateral(asset, new(big.Int).Sub(posted, redeemAmount))
	if err := e.requireHealthy(updated); err != nil {
		return err
	}

	if err := e.ledger.RetireFrom(e.synthAsset, user, burnAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.ledger.Transfer(asset, e.moduleAddress, user, redeemAmount); err != nil {
		_ = e.ledger.Issue(e.synthAsset, user, burnAmount)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultPutPosition(updated); err != nil {
		_ = e.ledger.Transfer(asset, user, e.moduleAddress, redeemAmount)
		_ = e.ledger.Issue(e.synthAsset, user, burnAmount)
		return err
	}
	totals.subDebt(burnAmount)
	totals.subCollateral(asset, redeemAmount)
	if err := e.state.VaultPutTotals(totals); err != nil {
		return err
	}
	e.emitter.Emit(events.DebtBurned{
		Owner:  user,
		Payer:  user,
		Amount: new(big.Int).Set(burnAmount),
	})
	e.emitter.Emit(events.CollateralRedeemed{
		Owner:     user,
		Recipient: user,
		Asset:     asset,
		Amount:    new(big.Int).Set(redeemAmount),
	})
	return nil
}
