package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the bech32 human-readable prefix shared by every account,
// collateral asset, and module authority on the ledger.
const AddressHRP = "nusd"

// AddressLength is the size of an address payload in bytes.
const AddressLength = 20

// Address represents a 20-byte ledger identity rendered as a bech32 string.
// The zero value is the null identity and never denotes a real account.
type Address struct {
	bytes [AddressLength]byte
}

// ZeroAddress is the null identity. Operations reject it wherever a real
// account, asset, or module authority is required.
var ZeroAddress Address

func NewAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	var a Address
	copy(a.bytes[:], b)
	return a
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// IsZero reports whether the address is the null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// DeriveModuleAddress returns the deterministic address reserved for a named
// module account or ledger asset: the trailing 20 bytes of
// keccak256("nusd/" + name). No private key maps to a derived address.
func DeriveModuleAddress(name string) Address {
	sum := crypto.Keccak256([]byte(AddressHRP + "/" + name))
	return NewAddress(sum[len(sum)-AddressLength:])
}

func DecodeAddress(addrStr string) (Address, error) {
	hrp, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if hrp != AddressHRP {
		return Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(conv), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
