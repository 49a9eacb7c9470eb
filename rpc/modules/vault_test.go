package modules

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nusd/core/events"
	"nusd/core/state"
	"nusd/crypto"
	"nusd/native/oracle"
	"nusd/native/token"
	"nusd/native/vault"
	"nusd/storage"
)

type moduleEnv struct {
	vault  *VaultModule
	oracle *OracleModule
	engine *vault.Engine
	ledger *token.Ledger
	feed   *oracle.ManualFeed
	bus    *events.Bus

	user  crypto.Address
	asset crypto.Address
	synth crypto.Address
}

func makeAddress(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

// newModuleEnv wires the module layer over a real in-memory state manager so
// the persistence adapter is part of what gets tested. One collateral asset,
// quoted at $2000 through a manual feed, staleness disabled.
func newModuleEnv(t *testing.T) *moduleEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	ledger := token.NewLedger(manager)
	feed := oracle.NewManualFeed()
	feed.Set(new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)), 8, time.Now())

	module := makeAddress(0x0D)
	synth := makeAddress(0x5D)
	asset := makeAddress(0xE7)
	engine, err := vault.NewEngine(module, synth, []crypto.Address{asset}, []oracle.Feed{feed}, vault.RiskParameters{
		LiquidationThreshold: 5_000,
		LiquidationBonus:     1_000,
	})
	require.NoError(t, err)
	engine.SetState(NewStateAdapter(manager))
	engine.SetLedger(ledger)
	bus := events.NewBus()
	engine.SetEmitter(bus)

	env := &moduleEnv{
		vault:  NewVaultModule(engine, ledger),
		oracle: NewOracleModule(engine, map[crypto.Address]*oracle.ManualFeed{asset: feed}, bus),
		engine: engine,
		ledger: ledger,
		feed:   feed,
		bus:    bus,
		user:   makeAddress(0xA1),
		asset:  asset,
		synth:  synth,
	}
	require.NoError(t, ledger.Issue(asset, env.user, big.NewInt(1_000)))
	return env
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func (env *moduleEnv) depositParams(amount string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": amount,
	})
	return data
}

func TestVaultModuleDepositAndPosition(t *testing.T) {
	env := newModuleEnv(t)

	result, modErr := env.vault.Deposit(env.depositParams("100"))
	require.Nil(t, modErr)
	require.NotEmpty(t, result.TxHash)
	require.True(t, len(result.TxHash) == 66 && result.TxHash[:2] == "0x")

	position, modErr := env.vault.GetPosition(rawParams(t, map[string]string{"user": env.user.String()}))
	require.Nil(t, modErr)
	require.Equal(t, env.user.String(), position.Owner)
	require.Len(t, position.Collateral, 1)
	require.Equal(t, "100", position.Collateral[0].Amount)
	require.Equal(t, "0", position.Debt)
	require.Equal(t, "max", position.HealthFactor)
}

func TestVaultModuleRejectsMalformedParams(t *testing.T) {
	env := newModuleEnv(t)

	cases := []struct {
		name   string
		params json.RawMessage
	}{
		{"missing body", nil},
		{"bad json", json.RawMessage(`{"user":`)},
		{"missing user", rawParams(t, map[string]string{"asset": env.asset.String(), "amount": "5"})},
		{"bad address", rawParams(t, map[string]string{"user": "not-bech32", "asset": env.asset.String(), "amount": "5"})},
		{"zero amount", rawParams(t, map[string]string{"user": env.user.String(), "asset": env.asset.String(), "amount": "0"})},
		{"negative amount", rawParams(t, map[string]string{"user": env.user.String(), "asset": env.asset.String(), "amount": "-4"})},
		{"non-numeric amount", rawParams(t, map[string]string{"user": env.user.String(), "asset": env.asset.String(), "amount": "ten"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, modErr := env.vault.Deposit(tc.params)
			require.NotNil(t, modErr)
			require.Equal(t, http.StatusBadRequest, modErr.HTTPStatus)
			require.Equal(t, codeInvalidParams, modErr.Code)
		})
	}
}

func TestVaultModuleMintPastThresholdCarriesHealthFactor(t *testing.T) {
	env := newModuleEnv(t)

	_, modErr := env.vault.Deposit(env.depositParams("100"))
	require.Nil(t, modErr)

	// 100 units at $2000 with a 50% threshold supports 100000 debt.
	_, modErr = env.vault.Mint(rawParams(t, map[string]string{"user": env.user.String(), "amount": "100001"}))
	require.NotNil(t, modErr)
	require.Equal(t, http.StatusConflict, modErr.HTTPStatus)
	require.Equal(t, codeConflict, modErr.Code)
	data, ok := modErr.Data.(map[string]string)
	require.True(t, ok, "health failures should carry the offending factor")
	require.NotEmpty(t, data["healthFactor"])

	// At exactly the boundary the mint settles.
	result, modErr := env.vault.Mint(rawParams(t, map[string]string{"user": env.user.String(), "amount": "100000"}))
	require.Nil(t, modErr)
	require.NotEmpty(t, result.TxHash)

	balance, modErr := env.vault.GetBalance(rawParams(t, map[string]string{"account": env.user.String()}))
	require.Nil(t, modErr)
	require.Equal(t, env.synth.String(), balance.Asset)
	require.Equal(t, "100000", balance.Balance)
}

func TestVaultModuleBurnExceedingDebtIsInvalid(t *testing.T) {
	env := newModuleEnv(t)
	_, modErr := env.vault.DepositAndMint(rawParams(t, map[string]string{
		"user":             env.user.String(),
		"asset":            env.asset.String(),
		"collateralAmount": "100",
		"mintAmount":       "500",
	}))
	require.Nil(t, modErr)

	_, modErr = env.vault.Burn(rawParams(t, map[string]string{"user": env.user.String(), "amount": "501"}))
	require.NotNil(t, modErr)
	require.Equal(t, http.StatusBadRequest, modErr.HTTPStatus)
	require.Equal(t, codeInvalidParams, modErr.Code)
}

func TestVaultModuleBurnAndRedeemRoundTrip(t *testing.T) {
	env := newModuleEnv(t)
	_, modErr := env.vault.DepositAndMint(rawParams(t, map[string]string{
		"user":             env.user.String(),
		"asset":            env.asset.String(),
		"collateralAmount": "100",
		"mintAmount":       "1000",
	}))
	require.Nil(t, modErr)

	_, modErr = env.vault.BurnAndRedeem(rawParams(t, map[string]string{
		"user":         env.user.String(),
		"asset":        env.asset.String(),
		"burnAmount":   "1000",
		"redeemAmount": "100",
	}))
	require.Nil(t, modErr)

	position, modErr := env.vault.GetPosition(rawParams(t, map[string]string{"user": env.user.String()}))
	require.Nil(t, modErr)
	require.Equal(t, "0", position.Debt)
	require.Empty(t, position.Collateral)

	totals, modErr := env.vault.GetTotals()
	require.Nil(t, modErr)
	require.Equal(t, "0", totals.Debt)
}

func TestVaultModuleLiquidateFlow(t *testing.T) {
	env := newModuleEnv(t)
	borrower := env.user
	liquidator := makeAddress(0xB2)

	_, modErr := env.vault.DepositAndMint(rawParams(t, map[string]string{
		"user":             borrower.String(),
		"asset":            env.asset.String(),
		"collateralAmount": "100",
		"mintAmount":       "100000",
	}))
	require.Nil(t, modErr)

	// Healthy positions are not liquidatable.
	liquidateParams := rawParams(t, map[string]string{
		"liquidator":  liquidator.String(),
		"borrower":    borrower.String(),
		"asset":       env.asset.String(),
		"debtToCover": "50000",
	})
	_, modErr = env.vault.Liquidate(liquidateParams)
	require.NotNil(t, modErr)
	require.Equal(t, http.StatusConflict, modErr.HTTPStatus)

	// Price drops to $1500 and the liquidator holds synth to fund the
	// repayment.
	env.feed.Set(new(big.Int).Mul(big.NewInt(1500), big.NewInt(100_000_000)), 8, time.Now())
	require.NoError(t, env.ledger.Issue(env.synth, liquidator, big.NewInt(50_000)))

	receipt, modErr := env.vault.Liquidate(liquidateParams)
	require.Nil(t, modErr)
	require.Equal(t, "50000", receipt.DebtCovered)
	// $50000 of collateral at $1500 floors to 33 units, plus the 10% bonus.
	require.Equal(t, "36", receipt.CollateralSeized)
	require.Equal(t, "3", receipt.BonusCollateral)
	require.Equal(t, liquidator.String(), receipt.Liquidator)
	require.NotEmpty(t, receipt.TxHash)
}

func TestVaultModuleListCollateral(t *testing.T) {
	env := newModuleEnv(t)
	list, modErr := env.vault.ListCollateral()
	require.Nil(t, modErr)
	require.Equal(t, []string{env.asset.String()}, list.Assets)
	require.Equal(t, env.synth.String(), list.SynthAsset)
}

func TestVaultModuleHealthFactorRendersScaledValue(t *testing.T) {
	env := newModuleEnv(t)
	_, modErr := env.vault.DepositAndMint(rawParams(t, map[string]string{
		"user":             env.user.String(),
		"asset":            env.asset.String(),
		"collateralAmount": "100",
		"mintAmount":       "50000",
	}))
	require.Nil(t, modErr)

	health, modErr := env.vault.GetHealthFactor(rawParams(t, map[string]string{"user": env.user.String()}))
	require.Nil(t, modErr)
	// 100000 adjusted collateral over 50000 debt is a factor of 2.0.
	require.Equal(t, "2000000000000000000", health.HealthFactor)

	info, modErr := env.vault.GetAccountInformation(rawParams(t, map[string]string{"user": env.user.String()}))
	require.Nil(t, modErr)
	require.Equal(t, "50000", info.Debt)
	require.Equal(t, "200000", info.CollateralValueUSD)
}

func TestOracleModuleSetPriceAndQuote(t *testing.T) {
	env := newModuleEnv(t)

	result, modErr := env.oracle.SetPrice(rawParams(t, map[string]string{
		"asset": env.asset.String(),
		"price": "1850.25",
	}))
	require.Nil(t, modErr)
	require.Equal(t, "185025000000", result.Answer)
	require.Equal(t, uint8(8), result.Decimals)

	quote, modErr := env.oracle.GetQuote(rawParams(t, map[string]string{"asset": env.asset.String()}))
	require.Nil(t, modErr)
	require.Equal(t, "185025000000", quote.Answer)
	require.Equal(t, "manual", quote.Source)

	backlog := env.bus.Backlog("")
	var sawPriceUpdate bool
	for _, update := range backlog {
		if update.Type == events.TypeOraclePriceUpdated {
			sawPriceUpdate = true
			require.Equal(t, "185025000000", update.Attributes["answer"])
		}
	}
	require.True(t, sawPriceUpdate, "price override should reach the event stream")
}

func TestOracleModuleRejectsUnmanagedAsset(t *testing.T) {
	env := newModuleEnv(t)
	_, modErr := env.oracle.SetPrice(rawParams(t, map[string]string{
		"asset": makeAddress(0x77).String(),
		"price": "10",
	}))
	require.NotNil(t, modErr)
	require.Equal(t, http.StatusBadRequest, modErr.HTTPStatus)
}

func TestOracleModuleValidatesOverrideFields(t *testing.T) {
	env := newModuleEnv(t)
	badDecimals := uint8(19)
	_, modErr := env.oracle.SetPrice(rawParams(t, map[string]interface{}{
		"asset":    env.asset.String(),
		"price":    "10",
		"decimals": badDecimals,
	}))
	require.NotNil(t, modErr)
	require.Equal(t, codeInvalidParams, modErr.Code)

	_, modErr = env.oracle.SetPrice(rawParams(t, map[string]string{
		"asset": env.asset.String(),
		"price": "-5",
	}))
	require.NotNil(t, modErr)
	require.Equal(t, codeInvalidParams, modErr.Code)
}

func TestStateAdapterPersistsAcrossInstances(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	owner := makeAddress(0xC3)
	asset := makeAddress(0xE7)

	adapter := NewStateAdapter(state.NewManager(db))
	position := &vault.Position{
		Owner:      owner,
		Collateral: []vault.AssetAmount{{Asset: asset, Amount: big.NewInt(42)}},
		Debt:       big.NewInt(7),
	}
	require.NoError(t, adapter.VaultPutPosition(position))

	reloaded := NewStateAdapter(state.NewManager(db))
	got, err := reloaded.VaultGetPosition(owner)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 0, got.Debt.Cmp(big.NewInt(7)))
	require.Len(t, got.Collateral, 1)
	require.Equal(t, 0, got.Collateral[0].Amount.Cmp(big.NewInt(42)))

	missing, err := reloaded.VaultGetPosition(makeAddress(0x99))
	require.NoError(t, err)
	require.Nil(t, missing, "absent positions surface as nil records")
}

func TestMakeTxHashIsUniquePerCall(t *testing.T) {
	env := newModuleEnv(t)
	seen := make(map[string]struct{})
	for i := 0; i < 4; i++ {
		hash := env.vault.makeTxHash("deposit", fmt.Sprintf("user-%d", i), big.NewInt(10))
		_, dup := seen[hash]
		require.False(t, dup)
		seen[hash] = struct{}{}
	}
}
