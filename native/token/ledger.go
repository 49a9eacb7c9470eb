package token

import (
	"errors"
	"fmt"
	"math/big"

	"nusd/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger. Absence is reported through the boolean, not an error.
type Storage interface {
	KVGet(key []byte) ([]byte, bool, error)
	KVPut(key []byte, value []byte) error
}

var (
	balancePrefix = []byte("token/balance/")
	supplyPrefix  = []byte("token/supply/")
)

var (
	// ErrInvalidAmount indicates a nil, zero, or negative amount.
	ErrInvalidAmount = errors.New("token: amount must be positive")
	// ErrZeroAddress indicates a zero asset, holder, or counterparty address.
	ErrZeroAddress = errors.New("token: zero address")
	// ErrInsufficientBalance indicates the debited account cannot cover the amount.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Ledger maintains per-asset balances and circulating supply in the underlying
// key-value store. Issue and RetireFrom adjust supply and are reserved for the
// module that owns the ledger handle; Transfer moves existing balances.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func balanceKey(asset, holder crypto.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*crypto.AddressLength+1)
	key = append(key, balancePrefix...)
	key = append(key, asset.Bytes()...)
	key = append(key, '/')
	key = append(key, holder.Bytes()...)
	return key
}

func supplyKey(asset crypto.Address) []byte {
	key := make([]byte, 0, len(supplyPrefix)+crypto.AddressLength)
	key = append(key, supplyPrefix...)
	key = append(key, asset.Bytes()...)
	return key
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	raw, ok, err := l.store.KVGet(key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return big.NewInt(0), nil
	}
	amount, valid := new(big.Int).SetString(string(raw), 10)
	if !valid {
		return nil, fmt.Errorf("token: corrupted amount record %q", raw)
	}
	return amount, nil
}

func (l *Ledger) storeAmount(key []byte, amount *big.Int) error {
	return l.store.KVPut(key, []byte(amount.Text(10)))
}

// BalanceOf reports the holder's balance of the asset. Unknown accounts read
// as zero.
func (l *Ledger) BalanceOf(asset, holder crypto.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("token: storage not configured")
	}
	if asset.IsZero() || holder.IsZero() {
		return nil, ErrZeroAddress
	}
	return l.loadAmount(balanceKey(asset, holder))
}

// Supply reports the circulating supply of the asset.
func (l *Ledger) Supply(asset crypto.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("token: storage not configured")
	}
	if asset.IsZero() {
		return nil, ErrZeroAddress
	}
	return l.loadAmount(supplyKey(asset))
}

// Transfer moves amount of asset between accounts. All validation happens
// before the first write so a refused transfer leaves balances untouched.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errors.New("token: storage not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if asset.IsZero() || from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	fromBalance, err := l.loadAmount(balanceKey(asset, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.loadAmount(balanceKey(asset, to))
	if err != nil {
		return err
	}
	if err := l.storeAmount(balanceKey(asset, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.storeAmount(balanceKey(asset, to), new(big.Int).Add(toBalance, amount))
}

// Issue credits freshly created units of asset to the recipient and grows the
// circulating supply.
func (l *Ledger) Issue(asset, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errors.New("token: storage not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if asset.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	balance, err := l.loadAmount(balanceKey(asset, to))
	if err != nil {
		return err
	}
	supply, err := l.loadAmount(supplyKey(asset))
	if err != nil {
		return err
	}
	if err := l.storeAmount(balanceKey(asset, to), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return l.storeAmount(supplyKey(asset), new(big.Int).Add(supply, amount))
}

// RetireFrom destroys amount of asset held by holder and shrinks the
// circulating supply. The holder must cover the full amount.
func (l *Ledger) RetireFrom(asset, holder crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errors.New("token: storage not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if asset.IsZero() || holder.IsZero() {
		return ErrZeroAddress
	}
	balance, err := l.loadAmount(balanceKey(asset, holder))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	supply, err := l.loadAmount(supplyKey(asset))
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("token: supply underflow: have %s, retiring %s", supply, amount)
	}
	if err := l.storeAmount(balanceKey(asset, holder), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return l.storeAmount(supplyKey(asset), new(big.Int).Sub(supply, amount))
}
