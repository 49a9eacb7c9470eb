package modules

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nusd/crypto"
	nativecommon "nusd/native/common"
	"nusd/native/oracle"
	"nusd/native/token"
	"nusd/native/vault"
	"nusd/observability"
)

// VaultModule adapts the collateral engine onto the JSON-RPC surface: it
// decodes wire parameters, drives the engine, and maps engine failures onto
// parameterised module errors.
type VaultModule struct {
	engine *vault.Engine
	ledger *token.Ledger

	nowFunc func() time.Time
}

// NewVaultModule wires the module around an already-constructed engine and
// token ledger.
func NewVaultModule(engine *vault.Engine, ledger *token.Ledger) *VaultModule {
	return &VaultModule{engine: engine, ledger: ledger, nowFunc: time.Now}
}

func (m *VaultModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not available"}
}

// --- wire shapes ---

type vaultUserParams struct {
	User string `json:"user"`
}

type vaultAmountParams struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type vaultAssetAmountParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type vaultDepositAndMintParams struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	MintAmount       string `json:"mintAmount"`
}

type vaultBurnAndRedeemParams struct {
	User         string `json:"user"`
	Asset        string `json:"asset"`
	BurnAmount   string `json:"burnAmount"`
	RedeemAmount string `json:"redeemAmount"`
}

type vaultLiquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Borrower    string `json:"borrower"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type vaultBalanceParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
}

// TxResult acknowledges a settled mutating operation.
type TxResult struct {
	TxHash string `json:"txHash"`
}

// AssetAmountResult renders one collateral entry.
type AssetAmountResult struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// PositionResult renders a stored position.
type PositionResult struct {
	Owner        string              `json:"owner"`
	Collateral   []AssetAmountResult `json:"collateral"`
	Debt         string              `json:"debt"`
	HealthFactor string              `json:"healthFactor"`
}

// AccountInformationResult renders the raw health factor inputs.
type AccountInformationResult struct {
	User               string `json:"user"`
	Debt               string `json:"debt"`
	CollateralValueUSD string `json:"collateralValueUsd"`
	HealthFactor       string `json:"healthFactor"`
}

// HealthFactorResult renders a standalone health factor read.
type HealthFactorResult struct {
	User         string `json:"user"`
	HealthFactor string `json:"healthFactor"`
}

// TotalsResult renders the advisory aggregates.
type TotalsResult struct {
	Collateral []AssetAmountResult `json:"collateral"`
	Debt       string              `json:"debt"`
}

// CollateralListResult names the supported collateral registry.
type CollateralListResult struct {
	Assets     []string `json:"assets"`
	SynthAsset string   `json:"synthAsset"`
}

// BalanceResult renders a token ledger balance.
type BalanceResult struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// LiquidationResult renders a settled liquidation receipt.
type LiquidationResult struct {
	TxHash           string `json:"txHash"`
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	Asset            string `json:"asset"`
	DebtCovered      string `json:"debtCovered"`
	CollateralSeized string `json:"collateralSeized"`
	BonusCollateral  string `json:"bonusCollateral"`
	HealthBefore     string `json:"healthBefore"`
	HealthAfter      string `json:"healthAfter"`
	Timestamp        uint64 `json:"timestamp"`
}

// --- operations ---

// Deposit posts collateral for the user.
func (m *VaultModule) Deposit(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultAssetAmountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("deposit", start, modErr)
	}
	user, asset, amount, modErr := m.parseAssetAmount(params.User, params.Asset, params.Amount)
	if modErr != nil {
		return nil, m.observe("deposit", start, modErr)
	}
	if err := m.engine.DepositCollateral(user, asset, amount); err != nil {
		return nil, m.observe("deposit", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("deposit")
	m.observe("deposit", start, nil)
	return &TxResult{TxHash: m.makeTxHash("deposit", params.User+":"+params.Asset, amount)}, nil
}

// Mint issues synthetic units against the user's collateral.
func (m *VaultModule) Mint(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultAmountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("mint", start, modErr)
	}
	user, amount, modErr := m.parseUserAmount(params.User, params.Amount)
	if modErr != nil {
		return nil, m.observe("mint", start, modErr)
	}
	if err := m.engine.Mint(user, amount); err != nil {
		return nil, m.observe("mint", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("mint")
	m.publishDebtSupply()
	m.observe("mint", start, nil)
	return &TxResult{TxHash: m.makeTxHash("mint", params.User, amount)}, nil
}

// Burn retires synthetic units held by the user.
func (m *VaultModule) Burn(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultAmountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("burn", start, modErr)
	}
	user, amount, modErr := m.parseUserAmount(params.User, params.Amount)
	if modErr != nil {
		return nil, m.observe("burn", start, modErr)
	}
	if err := m.engine.Burn(user, amount); err != nil {
		return nil, m.observe("burn", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("burn")
	m.publishDebtSupply()
	m.observe("burn", start, nil)
	return &TxResult{TxHash: m.makeTxHash("burn", params.User, amount)}, nil
}

// Redeem withdraws posted collateral back to its owner.
func (m *VaultModule) Redeem(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultAssetAmountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("redeem", start, modErr)
	}
	user, asset, amount, modErr := m.parseAssetAmount(params.User, params.Asset, params.Amount)
	if modErr != nil {
		return nil, m.observe("redeem", start, modErr)
	}
	if err := m.engine.RedeemCollateral(user, asset, amount); err != nil {
		return nil, m.observe("redeem", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("redeem")
	m.observe("redeem", start, nil)
	return &TxResult{TxHash: m.makeTxHash("redeem", params.User+":"+params.Asset, amount)}, nil
}

// DepositAndMint runs a deposit and a mint as one serialised operation.
func (m *VaultModule) DepositAndMint(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultDepositAndMintParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("depositAndMint", start, modErr)
	}
	user, asset, collateralAmount, modErr := m.parseAssetAmount(params.User, params.Asset, params.CollateralAmount)
	if modErr != nil {
		return nil, m.observe("depositAndMint", start, modErr)
	}
	mintAmount, modErr := parseAmount(params.MintAmount, "mintAmount")
	if modErr != nil {
		return nil, m.observe("depositAndMint", start, modErr)
	}
	if err := m.engine.DepositAndMint(user, asset, collateralAmount, mintAmount); err != nil {
		return nil, m.observe("depositAndMint", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("depositAndMint")
	m.publishDebtSupply()
	m.observe("depositAndMint", start, nil)
	return &TxResult{TxHash: m.makeTxHash("deposit-and-mint", params.User+":"+params.Asset, collateralAmount, mintAmount)}, nil
}

// BurnAndRedeem retires synthetic units and withdraws collateral atomically.
func (m *VaultModule) BurnAndRedeem(raw json.RawMessage) (*TxResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultBurnAndRedeemParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("burnAndRedeem", start, modErr)
	}
	user, asset, redeemAmount, modErr := m.parseAssetAmount(params.User, params.Asset, params.RedeemAmount)
	if modErr != nil {
		return nil, m.observe("burnAndRedeem", start, modErr)
	}
	burnAmount, modErr := parseAmount(params.BurnAmount, "burnAmount")
	if modErr != nil {
		return nil, m.observe("burnAndRedeem", start, modErr)
	}
	if err := m.engine.BurnAndRedeem(user, burnAmount, asset, redeemAmount); err != nil {
		return nil, m.observe("burnAndRedeem", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("burnAndRedeem")
	m.publishDebtSupply()
	m.observe("burnAndRedeem", start, nil)
	return &TxResult{TxHash: m.makeTxHash("burn-and-redeem", params.User+":"+params.Asset, burnAmount, redeemAmount)}, nil
}

// Liquidate repays part of an unhealthy borrower's debt on the liquidator's
// behalf in exchange for discounted collateral.
func (m *VaultModule) Liquidate(raw json.RawMessage) (*LiquidationResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultLiquidateParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("liquidate", start, modErr)
	}
	liquidator, modErr := parseAddress(params.Liquidator, "liquidator")
	if modErr != nil {
		return nil, m.observe("liquidate", start, modErr)
	}
	borrower, modErr := parseAddress(params.Borrower, "borrower")
	if modErr != nil {
		return nil, m.observe("liquidate", start, modErr)
	}
	asset, modErr := parseAddress(params.Asset, "asset")
	if modErr != nil {
		return nil, m.observe("liquidate", start, modErr)
	}
	debtToCover, modErr := parseAmount(params.DebtToCover, "debtToCover")
	if modErr != nil {
		return nil, m.observe("liquidate", start, modErr)
	}
	receipt, err := m.engine.Liquidate(liquidator, borrower, asset, debtToCover)
	if err != nil {
		return nil, m.observe("liquidate", start, m.wrapError(err))
	}
	observability.VaultMetrics().RecordOperation("liquidate")
	observability.VaultMetrics().RecordLiquidation()
	m.publishDebtSupply()
	m.observe("liquidate", start, nil)
	return &LiquidationResult{
		TxHash:           m.makeTxHash("liquidate", params.Liquidator+":"+params.Borrower, receipt.DebtCovered, receipt.CollateralSeized),
		Liquidator:       receipt.Liquidator.String(),
		Borrower:         receipt.Borrower.String(),
		Asset:            receipt.Asset.String(),
		DebtCovered:      receipt.DebtCovered.String(),
		CollateralSeized: receipt.CollateralSeized.String(),
		BonusCollateral:  receipt.BonusCollateral.String(),
		HealthBefore:     vault.FormatHealthFactor(receipt.HealthBefore),
		HealthAfter:      vault.FormatHealthFactor(receipt.HealthAfter),
		Timestamp:        receipt.Timestamp,
	}, nil
}

// --- queries ---

// GetPosition returns the stored position with its current health factor.
func (m *VaultModule) GetPosition(raw json.RawMessage) (*PositionResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultUserParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("getPosition", start, modErr)
	}
	user, modErr := parseAddress(params.User, "user")
	if modErr != nil {
		return nil, m.observe("getPosition", start, modErr)
	}
	position, err := m.engine.PositionOf(user)
	if err != nil {
		return nil, m.observe("getPosition", start, m.wrapError(err))
	}
	factor, err := m.engine.HealthFactor(user)
	if err != nil {
		return nil, m.observe("getPosition", start, m.wrapError(err))
	}
	result := &PositionResult{
		Owner:        params.User,
		Collateral:   collateralResults(position.Collateral),
		Debt:         position.Debt.String(),
		HealthFactor: vault.FormatHealthFactor(factor),
	}
	m.observe("getPosition", start, nil)
	return result, nil
}

// GetHealthFactor returns the user's current health factor.
func (m *VaultModule) GetHealthFactor(raw json.RawMessage) (*HealthFactorResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultUserParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("getHealthFactor", start, modErr)
	}
	user, modErr := parseAddress(params.User, "user")
	if modErr != nil {
		return nil, m.observe("getHealthFactor", start, modErr)
	}
	factor, err := m.engine.HealthFactor(user)
	if err != nil {
		return nil, m.observe("getHealthFactor", start, m.wrapError(err))
	}
	m.observe("getHealthFactor", start, nil)
	return &HealthFactorResult{User: params.User, HealthFactor: vault.FormatHealthFactor(factor)}, nil
}

// GetAccountInformation returns the raw inputs to the user's health factor.
func (m *VaultModule) GetAccountInformation(raw json.RawMessage) (*AccountInformationResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultUserParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("getAccountInformation", start, modErr)
	}
	user, modErr := parseAddress(params.User, "user")
	if modErr != nil {
		return nil, m.observe("getAccountInformation", start, modErr)
	}
	info, err := m.engine.AccountInformation(user)
	if err != nil {
		return nil, m.observe("getAccountInformation", start, m.wrapError(err))
	}
	factor, err := m.engine.HealthFactor(user)
	if err != nil {
		return nil, m.observe("getAccountInformation", start, m.wrapError(err))
	}
	m.observe("getAccountInformation", start, nil)
	return &AccountInformationResult{
		User:               params.User,
		Debt:               info.Debt.String(),
		CollateralValueUSD: info.CollateralValueUSD.String(),
		HealthFactor:       vault.FormatHealthFactor(factor),
	}, nil
}

// ListCollateral names the supported collateral registry and synth asset.
func (m *VaultModule) ListCollateral() (*CollateralListResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	assets := m.engine.CollateralAssets()
	names := make([]string, len(assets))
	for i, asset := range assets {
		names[i] = asset.String()
	}
	return &CollateralListResult{Assets: names, SynthAsset: m.engine.SynthAsset().String()}, nil
}

// GetTotals returns the advisory aggregates. They are cross-asset sums of raw
// amounts, never consulted by any safety check.
func (m *VaultModule) GetTotals() (*TotalsResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	totals, err := m.engine.Totals()
	if err != nil {
		return nil, m.observe("getTotals", start, m.wrapError(err))
	}
	debt := "0"
	if totals.Debt != nil {
		debt = totals.Debt.String()
	}
	m.observe("getTotals", start, nil)
	return &TotalsResult{Collateral: collateralResults(totals.Collateral), Debt: debt}, nil
}

// GetBalance reads a token ledger balance. An empty asset defaults to the
// synthetic token.
func (m *VaultModule) GetBalance(raw json.RawMessage) (*BalanceResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil || m.ledger == nil {
		return nil, m.moduleUnavailable()
	}
	var params vaultBalanceParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("getBalance", start, modErr)
	}
	account, modErr := parseAddress(params.Account, "account")
	if modErr != nil {
		return nil, m.observe("getBalance", start, modErr)
	}
	asset := m.engine.SynthAsset()
	if strings.TrimSpace(params.Asset) != "" {
		asset, modErr = parseAddress(params.Asset, "asset")
		if modErr != nil {
			return nil, m.observe("getBalance", start, modErr)
		}
	}
	balance, err := m.ledger.BalanceOf(asset, account)
	if err != nil {
		return nil, m.observe("getBalance", start, m.wrapError(err))
	}
	m.observe("getBalance", start, nil)
	return &BalanceResult{Account: params.Account, Asset: asset.String(), Balance: balance.String()}, nil
}

// --- helpers ---

func (m *VaultModule) now() time.Time {
	if m != nil && m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

func (m *VaultModule) observe(method string, start time.Time, modErr *ModuleError) *ModuleError {
	status := http.StatusOK
	if modErr != nil {
		status = modErr.HTTPStatus
	}
	observability.ModuleMetrics().Observe("vault", method, status, m.now().Sub(start))
	return modErr
}

func (m *VaultModule) publishDebtSupply() {
	totals, err := m.engine.Totals()
	if err != nil || totals == nil {
		return
	}
	observability.VaultMetrics().SetDebtSupply(totals.Debt)
}

func (m *VaultModule) parseUserAmount(userStr, amountStr string) (crypto.Address, *big.Int, *ModuleError) {
	user, modErr := parseAddress(userStr, "user")
	if modErr != nil {
		return crypto.Address{}, nil, modErr
	}
	amount, modErr := parseAmount(amountStr, "amount")
	if modErr != nil {
		return crypto.Address{}, nil, modErr
	}
	return user, amount, nil
}

func (m *VaultModule) parseAssetAmount(userStr, assetStr, amountStr string) (crypto.Address, crypto.Address, *big.Int, *ModuleError) {
	user, modErr := parseAddress(userStr, "user")
	if modErr != nil {
		return crypto.Address{}, crypto.Address{}, nil, modErr
	}
	asset, modErr := parseAddress(assetStr, "asset")
	if modErr != nil {
		return crypto.Address{}, crypto.Address{}, nil, modErr
	}
	amount, modErr := parseAmount(amountStr, "amount")
	if modErr != nil {
		return crypto.Address{}, crypto.Address{}, nil, modErr
	}
	return user, asset, amount, nil
}

func (m *VaultModule) makeTxHash(kind, primary string, amounts ...*big.Int) string {
	parts := []string{kind, primary}
	for _, amount := range amounts {
		if amount != nil {
			parts = append(parts, amount.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", m.now().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}

// wrapError translates engine failures into parameterised module errors.
// Health failures carry the offending factor so clients can display how far a
// position sits from the boundary.
func (m *VaultModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	modErr := &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	var healthErr *vault.HealthFactorError
	if errors.As(err, &healthErr) {
		modErr.Data = map[string]string{"healthFactor": vault.FormatHealthFactor(healthErr.Factor)}
	}
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrUnsupportedAsset),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrBurnExceedsDebt):
		modErr.HTTPStatus = http.StatusBadRequest
		modErr.Code = codeInvalidParams
	case errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrHealthFactorBelowMinimum),
		errors.Is(err, vault.ErrHealthFactorOk),
		errors.Is(err, vault.ErrHealthFactorNotImproved),
		errors.Is(err, vault.ErrTransferFailed),
		errors.Is(err, vault.ErrIssuanceFailed):
		modErr.HTTPStatus = http.StatusConflict
		modErr.Code = codeConflict
	case errors.Is(err, nativecommon.ErrReentrantCall),
		errors.Is(err, nativecommon.ErrModulePaused):
		modErr.HTTPStatus = http.StatusServiceUnavailable
		modErr.Code = codeUnavailable
	case errors.Is(err, oracle.ErrFeedNotFound),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrStaleQuote):
		modErr.HTTPStatus = http.StatusBadGateway
		modErr.Code = codeServerError
		observability.OracleMetrics().RecordFailure(oracleFailureReason(err))
	}
	return modErr
}

func oracleFailureReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStaleQuote):
		return "stale"
	case errors.Is(err, oracle.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, oracle.ErrFeedNotFound):
		return "missing_feed"
	default:
		return "unknown"
	}
}

func collateralResults(entries []vault.AssetAmount) []AssetAmountResult {
	out := make([]AssetAmountResult, 0, len(entries))
	for _, entry := range entries {
		amount := "0"
		if entry.Amount != nil {
			amount = entry.Amount.String()
		}
		out = append(out, AssetAmountResult{Asset: entry.Asset.String(), Amount: amount})
	}
	return out
}

func decodeParams(raw json.RawMessage, into interface{}) *ModuleError {
	if len(raw) == 0 {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "parameter object required"}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func parseAddress(value, field string) (crypto.Address, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: field + " required"}
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid " + field, Data: err.Error()}
	}
	return addr, nil
}

func parseAmount(value, field string) (*big.Int, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: field + " required"}
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid " + field}
	}
	if amount.Sign() <= 0 {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: field + " must be positive"}
	}
	return amount, nil
}
