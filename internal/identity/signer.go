// Package identity binds a user's signing identity to the deterministic,
// address-derived storage seed that keys their encrypted blobs (§4.3).
package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer abstracts EIP-191-style message signing. Implementations MUST
// verify the signer controls the requested address before signing; session
// code never trusts a caller-supplied address without that check.
// Grounded on the teacher's chainadapter.Signer interface.
type Signer interface {
	Sign(payload []byte, address common.Address) ([]byte, error)
	Address() common.Address
}

// LocalSigner signs with an in-process ECDSA private key. Used by
// cmd/hostd and cmd/sessionctl; a browser-extension or hardware
// wallet signer is out of scope per the spec and would satisfy the same
// interface from outside this package.
type LocalSigner struct {
	priv    *ecdsa.PrivateKey
	address common.Address
}

func NewLocalSigner(priv *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{priv: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) Sign(payload []byte, address common.Address) ([]byte, error) {
	if address != s.address {
		return nil, fmt.Errorf("identity: signer controls %s, requested %s", s.address, address)
	}
	hash := crypto.Keccak256(payload)
	return crypto.Sign(hash, s.priv)
}

// SignHash signs a pre-computed 32-byte hash directly, with no further
// hashing applied. Transaction signing needs this form (go-ethereum's
// per-chain types.Signer already computes the RLP signing hash); Sign
// above is for arbitrary-length payloads such as envelope authentication.
func (s *LocalSigner) SignHash(hash [32]byte) ([]byte, error) {
	return crypto.Sign(hash[:], s.priv)
}

// Zeroize clears the private key's scalar from memory. Grounded on the
// teacher's SimpleSigner.Zeroize.
func (s *LocalSigner) Zeroize() {
	if s.priv == nil {
		return
	}
	s.priv.D.SetInt64(0)
	s.priv = nil
}
