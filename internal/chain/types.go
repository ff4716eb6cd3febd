// Package chain provides a typed, retry-aware view of the escrow, node
// registry, host earnings, and model registry contracts across multiple
// EVM-compatible chains (§4.1, §6.3).
package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID identifies a network. It keys all chain-scoped state.
type ChainID int64

// Address is the opaque 20-byte identifier used for wallets, contracts,
// and hosts. It wraps go-ethereum's common.Address so checksum encoding
// (EIP-55) and hex parsing come from a single well-tested source rather
// than a hand-rolled implementation.
type Address = common.Address

// SessionStatus mirrors the on-chain session lifecycle status, distinct
// from the richer in-memory session.State machine (§4.6) that also
// tracks transport and streaming sub-states.
type SessionStatus int

const (
	StatusPosted SessionStatus = iota
	StatusClaimed
	StatusActive
	StatusCompleted
	StatusFailed
)

// HostRecord is the registry's view of a host (§3).
type HostRecord struct {
	Address           Address
	APIURL            string
	Stake             *big.Int
	PricePerToken     map[Address]*big.Int // token address -> price
	SupportedModelIDs map[[32]byte]struct{}
	Active            bool
	MetadataBlobRef   string
	PublicKeyHex      string // host's static ECDH public key, §4.4
}

// ModelRecord is immutable once recorded; read-only to the core (§3).
type ModelRecord struct {
	ModelID        [32]byte
	Repo           string
	Filename       string
	ContentSHA256  [32]byte
	Active         bool
}

// SessionDescriptor is the cached projection of on-chain session state
// (§3). The chain is the source of truth; this struct is what the Chain
// Client returns from getSession.
type SessionDescriptor struct {
	SessionID           int64
	ChainID             ChainID
	User                Address
	Host                Address
	ModelID             [32]byte
	Token               Address // zero address means native currency
	DepositRemaining    *big.Int
	PricePerToken       *big.Int
	MaxDuration         time.Duration
	ProofInterval       int64
	StartedAt           time.Time
	LastCheckpointIndex int64
	LastProvenTokens    int64
	Status              SessionStatus
}

// ProofSubmission is produced by the host's subprocess and submitted
// on-chain via the Chain Client (§3).
type ProofSubmission struct {
	SessionID       int64
	CheckpointIndex int64
	TokenCount      int64
	ProofBlob       []byte
	ProofHash       [32]byte
	HostSignature   []byte
}

// GasProfile selects the fee-market aggressiveness for a transaction.
type GasProfile int

const (
	GasLow GasProfile = iota
	GasNormal
	GasHigh
)

// ChainConfig enumerates everything required to talk to one chain's
// escrow deployment. All five addresses are required; missing any fails
// initialization with ConfigError{missingField} and no env fallback (§4.1).
type ChainConfig struct {
	ChainID             ChainID
	RPCEndpoints        []string
	JobMarketplaceAddr  Address
	NodeRegistryAddr    Address
	ProofSystemAddr     Address
	HostEarningsAddr    Address
	StablecoinAddr      Address
	NativeDecimals      int
	StablecoinDecimals  int
}
