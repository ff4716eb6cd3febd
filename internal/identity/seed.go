package identity

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// domainSep separates the storage-seed derivation from any other use of
// SHA-256 over an address string elsewhere in the system.
const domainSep = "fabricmesh-storage-seed-v1"

// wordList is the fixed 1024-word list the storage seed is encoded over —
// the first 1024 entries of the standard BIP39 English wordlist (itself
// 2048 words), reused rather than inventing a new list so the words remain
// recognizable and typo-resistant the way BIP39 words are designed to be.
// Grounded on internal/services/bip39service's use of wordlists.English.
var wordList = wordlists.English[:1024]

const (
	entropyWords   = 12 // 12 words * 10 bits = 120 bits
	restrictedBits = 8  // the 13th entropy word carries the remaining 8 bits, from the first 256 words
	checksumWords  = 2
)

// DeriveStorageSeed computes the 15-word storage-seed phrase for address on
// chainId, per §4.3: purely a function of the public address and chain, so
// it reproduces identically across devices and after a cache clear.
func DeriveStorageSeed(address string, chainID int64) ([]string, error) {
	lower := strings.ToLower(address)
	input := lower + domainSep + strconv.FormatInt(chainID, 10)
	sum := sha256.Sum256([]byte(input))
	entropy := sum[:16] // 128 bits

	bits := bytesToBits(entropy)

	words := make([]string, 0, entropyWords+1+checksumWords)
	for i := 0; i < entropyWords; i++ {
		idx := bitsToInt(bits[i*10 : i*10+10])
		words = append(words, wordList[idx])
	}

	// 13th word: the remaining 8 bits, restricted to the first 256 entries
	// of the word list so it fits in one byte without another lookup table.
	lastBits := bits[entropyWords*10:]
	if len(lastBits) != restrictedBits {
		return nil, fmt.Errorf("identity: unexpected residual bit count %d", len(lastBits))
	}
	restrictedIdx := bitsToInt(lastBits)
	words = append(words, wordList[restrictedIdx])

	checksum := checksumWordsFor(words)
	words = append(words, checksum...)

	return words, nil
}

// checksumWordsFor derives two checksum words from SHA-256 of the first 13
// entropy words joined by spaces, binding the checksum to the exact phrase
// so a single transposed word is detectable.
func checksumWordsFor(entropyPhrase []string) []string {
	sum := sha256.Sum256([]byte(strings.Join(entropyPhrase, " ")))
	bits := bytesToBits(sum[:3]) // 24 bits is plenty for two 10-bit picks
	w1 := wordList[bitsToInt(bits[0:10])]
	w2 := wordList[bitsToInt(bits[10:20])]
	return []string{w1, w2}
}

// ResolveStorageSeed returns cached verbatim if non-empty (configuration-
// supplied seed takes priority 1 per §4.3), otherwise derives one from
// address and chainID (priority 2).
func ResolveStorageSeed(cached []string, address string, chainID int64) ([]string, error) {
	if len(cached) > 0 {
		return cached, nil
	}
	return DeriveStorageSeed(address, chainID)
}

// VerifyStorageSeed recomputes the checksum words over phrase[:13] and
// compares them against phrase[13:15], detecting transcription errors.
func VerifyStorageSeed(phrase []string) bool {
	if len(phrase) != entropyWords+1+checksumWords {
		return false
	}
	expected := checksumWordsFor(phrase[:entropyWords+1])
	return expected[0] == phrase[entropyWords+1] && expected[1] == phrase[entropyWords+2]
}

func bytesToBits(b []byte) []byte {
	bits := make([]byte, len(b)*8)
	for i, by := range b {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (by >> (7 - j)) & 1
		}
	}
	return bits
}

func bitsToInt(bits []byte) int {
	v := 0
	for _, b := range bits {
		v = v<<1 | int(b)
	}
	return v
}
