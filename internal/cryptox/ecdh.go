package cryptox

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// DeriveSharedKey computes the secp256k1 ECDH shared point between priv and
// peerPubKey, then runs it through HKDF-SHA256 (domain-separated by info) to
// produce a 32-byte symmetric key suitable for Seal/Open. go-ethereum does
// not expose an ECDH helper directly, so the multiplication is done by hand
// with the curve from the private key, matching how the teacher's signer
// reaches into crypto/ecdsa for the underlying curve rather than adding a
// new key-agreement dependency.
func DeriveSharedKey(priv *ecdsa.PrivateKey, peerPubKey *ecdsa.PublicKey, info []byte) ([]byte, error) {
	if priv == nil || peerPubKey == nil {
		return nil, fmt.Errorf("cryptox: nil key in ECDH")
	}
	curve := priv.Curve
	x, _ := curve.ScalarMult(peerPubKey.X, peerPubKey.Y, priv.D.Bytes())
	if x == nil {
		return nil, fmt.Errorf("cryptox: ECDH scalar multiplication failed")
	}

	shared := x.Bytes()
	// Left-pad to the curve's field size so the HKDF input is fixed-width
	// regardless of leading-zero bytes in the shared X coordinate.
	fieldLen := (curve.Params().BitSize + 7) / 8
	if len(shared) < fieldLen {
		padded := make([]byte, fieldLen)
		copy(padded[fieldLen-len(shared):], shared)
		shared = padded
	}

	h := hkdf.New(sha256.New, shared, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("cryptox: hkdf expand: %w", err)
	}
	return key, nil
}

// SessionKeyInfo builds the HKDF info parameter binding a derived session
// key to the session it belongs to, so the same two static keys never
// produce the same symmetric key across two different sessions.
func SessionKeyInfo(sessionID string) []byte {
	return []byte("fabricmesh-session-v1:" + sessionID)
}

// SignEnvelope signs payload with priv using the same Keccak256+ECDSA
// scheme the teacher's EthereumSigner uses for transactions, reused here
// for session message authentication (§4.4's sender signature requirement).
func SignEnvelope(priv *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	hash := crypto.Keccak256(payload)
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return nil, fmt.Errorf("cryptox: sign envelope: %w", err)
	}
	return sig, nil
}

// VerifyEnvelope recovers the signer from sig over payload and checks it
// matches expected. sig is the 65-byte [R||S||V] form crypto.Sign produces
// (V in {0,1}, no EIP-155 offset — session messages aren't chain txs).
func VerifyEnvelope(payload, sig []byte, expected *ecdsa.PublicKey) (bool, error) {
	if len(sig) != 65 {
		return false, fmt.Errorf("cryptox: signature must be 65 bytes, got %d", len(sig))
	}
	hash := crypto.Keccak256(payload)
	pubBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return false, fmt.Errorf("cryptox: recover signer: %w", err)
	}
	recovered, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("cryptox: unmarshal recovered pubkey: %w", err)
	}
	return recovered.X.Cmp(expected.X) == 0 && recovered.Y.Cmp(expected.Y) == 0, nil
}

// PublicKeyFromBytes parses an uncompressed secp256k1 public key (0x04||X||Y).
func PublicKeyFromBytes(b []byte) (*ecdsa.PublicKey, error) {
	return crypto.UnmarshalPubkey(b)
}

// PublicKeyToBytes serializes an uncompressed secp256k1 public key.
func PublicKeyToBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)
}
