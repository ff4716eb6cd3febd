package cryptox

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// At-rest key derivation parameters, carried over from the teacher's
// mnemonic-encryption constants (encryption.go) since they're already
// OWASP-aligned and this package seals comparably small blobs (checkpoint
// deltas, RAG documents), not a high-throughput data path.
const (
	argon2Time    = 4
	argon2Memory  = 256 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// SealedBlob is the serialized form stored by storageadapter's encrypting
// wrapper: a random salt plus the AEAD output from Seal.
type SealedBlob struct {
	Salt       []byte
	Ciphertext []byte
}

// SealAtRest derives a 32-byte key from passphrase via Argon2id with a fresh
// random salt, then seals plaintext under it.
func SealAtRest(passphrase string, plaintext []byte) (*SealedBlob, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptox: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer ClearBytes(key)

	ciphertext, err := Seal(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return &SealedBlob{Salt: salt, Ciphertext: ciphertext}, nil
}

// OpenAtRest re-derives the key from passphrase and salt, then opens blob.
func OpenAtRest(passphrase string, blob *SealedBlob) ([]byte, error) {
	key := argon2.IDKey([]byte(passphrase), blob.Salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer ClearBytes(key)
	return Open(key, blob.Ciphertext, nil)
}

// MarshalSealedBlob serializes a SealedBlob to [saltLen:2][salt][ciphertext].
func MarshalSealedBlob(b *SealedBlob) []byte {
	out := make([]byte, 2+len(b.Salt)+len(b.Ciphertext))
	binary.BigEndian.PutUint16(out, uint16(len(b.Salt)))
	copy(out[2:], b.Salt)
	copy(out[2+len(b.Salt):], b.Ciphertext)
	return out
}

// UnmarshalSealedBlob is the inverse of MarshalSealedBlob.
func UnmarshalSealedBlob(data []byte) (*SealedBlob, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("cryptox: sealed blob too short")
	}
	saltLen := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+saltLen {
		return nil, fmt.Errorf("cryptox: sealed blob truncated")
	}
	salt := make([]byte, saltLen)
	copy(salt, data[2:2+saltLen])
	ciphertext := make([]byte, len(data)-2-saltLen)
	copy(ciphertext, data[2+saltLen:])
	return &SealedBlob{Salt: salt, Ciphertext: ciphertext}, nil
}
