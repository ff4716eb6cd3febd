package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStorageSeedIsDeterministic(t *testing.T) {
	p1, err := DeriveStorageSeed("0xAbCd000000000000000000000000000000001234", 84532)
	require.NoError(t, err)
	p2, err := DeriveStorageSeed("0xabcd000000000000000000000000000000001234", 84532)
	require.NoError(t, err)

	require.Equal(t, p1, p2, "derivation must be case-insensitive on the address and reproducible")
	require.Len(t, p1, 15)
}

func TestDeriveStorageSeedDiffersByChain(t *testing.T) {
	p1, err := DeriveStorageSeed("0xAbCd000000000000000000000000000000001234", 1)
	require.NoError(t, err)
	p2, err := DeriveStorageSeed("0xAbCd000000000000000000000000000000001234", 8453)
	require.NoError(t, err)

	require.NotEqual(t, p1, p2)
}

func TestStorageSeedChecksumVerifies(t *testing.T) {
	phrase, err := DeriveStorageSeed("0x1111111111111111111111111111111111111111", 1)
	require.NoError(t, err)
	require.True(t, VerifyStorageSeed(phrase))

	tampered := append([]string{}, phrase...)
	tampered[0] = "zzzznotaword"
	require.False(t, VerifyStorageSeed(tampered))
}

func TestResolveStorageSeedPrefersCached(t *testing.T) {
	cached := []string{"alpha", "bravo"}
	resolved, err := ResolveStorageSeed(cached, "0x1111111111111111111111111111111111111111", 1)
	require.NoError(t, err)
	require.Equal(t, cached, resolved)
}

func TestResolveStorageSeedDerivesWhenNoCache(t *testing.T) {
	resolved, err := ResolveStorageSeed(nil, "0x1111111111111111111111111111111111111111", 1)
	require.NoError(t, err)
	require.Len(t, resolved, 15)
}
