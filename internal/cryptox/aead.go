// Package cryptox implements the session E2E encryption envelope (§4.4) and
// the at-rest AEAD used to seal checkpoint deltas and RAG blobs before they
// reach storageadapter. The AEAD choice (XChaCha20-Poly1305, 24-byte random
// nonce) follows the pack's security.go rather than the teacher's AES-GCM,
// since a 24-byte nonce lets callers generate nonces with crypto/rand
// without a birthday-bound collision risk across a long-running session.
package cryptox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Seal encrypts plaintext under key (must be chacha20poly1305.KeySize
// bytes), returning nonce||ciphertext||tag. aad is authenticated but not
// encrypted (used for the envelope's sessionId/messageIndex header).
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cryptox: key must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal, verifying aad.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cryptox: key must be %d bytes", chacha20poly1305.KeySize)
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, fmt.Errorf("cryptox: ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ciphertext, aad)
}

// ClearBytes zeros b in place so derived keys don't linger on the heap
// longer than necessary. Grounded on the teacher's crypto.ClearBytes.
func ClearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
