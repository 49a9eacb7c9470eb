package token

import (
	"errors"
	"math/big"
	"testing"

	"nusd/crypto"
)

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) KVGet(key []byte) ([]byte, bool, error) {
	value, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *memStore) KVPut(key []byte, value []byte) error {
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func addr(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

func mustBalance(t *testing.T, l *Ledger, asset, holder crypto.Address) *big.Int {
	t.Helper()
	balance, err := l.BalanceOf(asset, holder)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return balance
}

func TestLedgerIssueAndBalance(t *testing.T) {
	ledger := NewLedger(newMemStore())
	asset := addr(0xAA)
	holder := addr(0x01)

	if got := mustBalance(t, ledger, asset, holder); got.Sign() != 0 {
		t.Fatalf("expected zero starting balance, got %v", got)
	}
	if err := ledger.Issue(asset, holder, big.NewInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.Issue(asset, holder, big.NewInt(50)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := mustBalance(t, ledger, asset, holder); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected balance: %v", got)
	}
	supply, err := ledger.Supply(asset)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected supply: %v", supply)
	}

	if err := ledger.Issue(asset, holder, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Issue(asset, crypto.ZeroAddress, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestLedgerTransfer(t *testing.T) {
	ledger := NewLedger(newMemStore())
	asset := addr(0xAA)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := ledger.Issue(asset, alice, big.NewInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.Transfer(asset, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, ledger, asset, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance: %v", got)
	}
	if got := mustBalance(t, ledger, asset, bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance: %v", got)
	}

	err := ledger.Transfer(asset, alice, bob, big.NewInt(61))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := mustBalance(t, ledger, asset, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("refused transfer mutated sender balance: %v", got)
	}
	if got := mustBalance(t, ledger, asset, bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("refused transfer mutated recipient balance: %v", got)
	}

	if err := ledger.Transfer(asset, alice, bob, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Transfer(asset, alice, crypto.ZeroAddress, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}

	// Self transfers validate funds but move nothing.
	if err := ledger.Transfer(asset, alice, alice, big.NewInt(60)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if err := ledger.Transfer(asset, alice, alice, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := mustBalance(t, ledger, asset, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("self transfer mutated balance: %v", got)
	}
}

func TestLedgerRetireFrom(t *testing.T) {
	ledger := NewLedger(newMemStore())
	asset := addr(0xAA)
	holder := addr(0x01)

	if err := ledger.Issue(asset, holder, big.NewInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.RetireFrom(asset, holder, big.NewInt(30)); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if got := mustBalance(t, ledger, asset, holder); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unexpected balance: %v", got)
	}
	supply, err := ledger.Supply(asset)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unexpected supply: %v", supply)
	}

	err = ledger.RetireFrom(asset, holder, big.NewInt(71))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := mustBalance(t, ledger, asset, holder); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("refused retire mutated balance: %v", got)
	}
}

func TestLedgerSeparatesAssets(t *testing.T) {
	ledger := NewLedger(newMemStore())
	gold := addr(0xAA)
	silver := addr(0xBB)
	holder := addr(0x01)

	if err := ledger.Issue(gold, holder, big.NewInt(10)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.Issue(silver, holder, big.NewInt(20)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := mustBalance(t, ledger, gold, holder); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected gold balance: %v", got)
	}
	if got := mustBalance(t, ledger, silver, holder); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected silver balance: %v", got)
	}
}
