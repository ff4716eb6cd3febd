package cryptox

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	plaintext := []byte("stream_chunk payload")

	blob, err := Seal(key, plaintext, []byte("aad"))
	require.NoError(t, err)

	opened, err := Open(key, blob, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	blob, err := Seal(key, []byte("payload"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = Open(key, blob, []byte("aad-b"))
	require.Error(t, err)
}

func TestDeriveSharedKeySymmetric(t *testing.T) {
	alice := mustKey(t)
	bob := mustKey(t)

	kAB, err := DeriveSharedKey(alice, &bob.PublicKey, SessionKeyInfo("sess-1"))
	require.NoError(t, err)
	kBA, err := DeriveSharedKey(bob, &alice.PublicKey, SessionKeyInfo("sess-1"))
	require.NoError(t, err)

	require.Equal(t, kAB, kBA)
}

func TestDeriveSharedKeyDiffersPerSession(t *testing.T) {
	alice := mustKey(t)
	bob := mustKey(t)

	k1, err := DeriveSharedKey(alice, &bob.PublicKey, SessionKeyInfo("sess-1"))
	require.NoError(t, err)
	k2, err := DeriveSharedKey(alice, &bob.PublicKey, SessionKeyInfo("sess-2"))
	require.NoError(t, err)

	require.NotEqual(t, k1, k2)
}

func TestEnvelopeEncryptDecryptRoundTrip(t *testing.T) {
	sender := mustKey(t)
	receiver := mustKey(t)
	key, err := DeriveSharedKey(sender, &receiver.PublicKey, SessionKeyInfo("sess-42"))
	require.NoError(t, err)

	now := time.Now()
	env, err := Encrypt(key, sender, 42, 7, now.UnixMilli(), []byte("hello host"))
	require.NoError(t, err)

	plain, err := Decrypt(key, &sender.PublicKey, env, now)
	require.NoError(t, err)
	require.Equal(t, []byte("hello host"), plain)
}

func TestEnvelopeDecryptRejectsWrongSender(t *testing.T) {
	sender := mustKey(t)
	other := mustKey(t)
	key := make([]byte, 32)

	now := time.Now()
	env, err := Encrypt(key, sender, 1, 0, now.UnixMilli(), []byte("data"))
	require.NoError(t, err)

	_, err = Decrypt(key, &other.PublicKey, env, now)
	require.Error(t, err)
}

func TestEnvelopeDecryptRejectsExpiredTimestamp(t *testing.T) {
	sender := mustKey(t)
	key := make([]byte, 32)

	stale := time.Now().Add(-10 * time.Minute)
	env, err := Encrypt(key, sender, 1, 0, stale.UnixMilli(), []byte("data"))
	require.NoError(t, err)

	_, err = Decrypt(key, &sender.PublicKey, env, time.Now())
	require.Error(t, err)
}

func TestReplayWindowRejectsNonIncreasingIndex(t *testing.T) {
	w := NewReplayWindow()
	require.NoError(t, w.Check(1, 0))
	require.NoError(t, w.Check(1, 1))
	require.Error(t, w.Check(1, 1))
	require.Error(t, w.Check(1, 0))

	w.Forget(1)
	require.NoError(t, w.Check(1, 0))
}
