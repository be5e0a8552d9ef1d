package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	PoolPrefix  AddressPrefix = "pool"
	AssetPrefix AddressPrefix = "asset"
)

// Address represents a 20-byte identifier with a specific human-readable
// prefix, used for reserves, users, token sub-contracts, the oracle, and the
// fee vault.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustNewAddress constructs an address and panics if the input is invalid.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	addr, err := NewAddress(AddressPrefix(prefix), conv)
	if err != nil {
		return Address{}, err
	}
	return addr, nil
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
	return MustNewAddress(PoolPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Sign produces a recoverable secp256k1 signature over a 32-byte digest,
// the building block for the in-process require_auth simulation
// native/lending.Authenticator verifies against.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

// Verify reports whether sig is a valid signature over digest by pub.
// A trailing recovery byte (the 65th, as produced by Sign) is accepted and
// ignored since VerifySignature only checks R||S.
func (pub *PublicKey) Verify(digest, sig []byte) bool {
	if len(sig) == 65 {
		sig = sig[:64]
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub.PublicKey), digest, sig)
}
