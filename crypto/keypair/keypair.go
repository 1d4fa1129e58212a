// Package keypair manages the re-encryption keypairs used for user
// decryption. The KMS seals plaintexts to the public key with ECIES over
// secp256k1 and only the holder of the private key can open them.
package keypair

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/vocdoni/fhevm-go/types"
)

// ErrNotFound is returned by stores when no keypair is kept for an owner.
var ErrNotFound = errors.New("keypair not found")

// Keypair is an ECIES keypair. PublicKey is the uncompressed secp256k1 point
// and PrivateKey the 32 byte scalar.
type Keypair struct {
	PublicKey  types.HexBytes `json:"publicKey" cbor:"1,keyasint"`
	PrivateKey types.HexBytes `json:"privateKey" cbor:"2,keyasint"`
}

// Generate creates a fresh keypair.
func Generate() (*Keypair, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate keypair: %w", err)
	}
	return &Keypair{
		PublicKey:  ethcrypto.FromECDSAPub(&key.PublicKey),
		PrivateKey: ethcrypto.FromECDSA(key),
	}, nil
}

// Open decrypts a payload sealed to the keypair public key.
func (kp *Keypair) Open(sealed []byte) ([]byte, error) {
	key, err := ethcrypto.ToECDSA(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	plaintext, err := ecies.ImportECDSA(key).Decrypt(sealed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open sealed payload: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext to the uncompressed secp256k1 public key.
func Seal(publicKey, plaintext []byte) (types.HexBytes, error) {
	pub, err := ethcrypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	sealed, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plaintext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("could not seal payload: %w", err)
	}
	return sealed, nil
}

// ValidPublicKey reports whether b is an uncompressed secp256k1 point.
func ValidPublicKey(b []byte) bool {
	_, err := ethcrypto.UnmarshalPubkey(b)
	return err == nil
}

// Store keeps one keypair per owner address. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(owner common.Address) (*Keypair, error)
	Put(owner common.Address, kp *Keypair) error
}
