// Package payment orchestrates escrow-backed session creation and
// settlement over internal/chain (§4.5). It knows nothing about
// transport or streaming; it is the client-side bookkeeping layer that
// sits between Discovery's chosen host and the Session Engine.
package payment

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// Split policy is protocol-fixed: 90% of proven value to the host,
// 10% to treasury. Unproven residual is refunded to the user on
// completion; the contract enforces this, the client only verifies it.
const (
	hostShareNumerator = 90
	splitDenominator   = 100
)

// Manager orchestrates both payment modes against a chain.Client.
type Manager struct {
	client chain.Client
	log    *zap.SugaredLogger
}

func NewManager(client chain.Client, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{client: client, log: log}
}

// Deposit pre-funds the escrow for mode (b), "pre-funded deposit".
func (m *Manager) Deposit(ctx context.Context, token chain.Address, amount *big.Int, profile chain.GasProfile) error {
	return m.client.DepositToken(ctx, token, amount, profile)
}

// CreateDirectSession opens a session under mode (a): a one-shot
// transfer from the user to the marketplace for this session alone.
func (m *Manager) CreateDirectSession(ctx context.Context, host, token chain.Address, deposit, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	return m.client.CreateSessionWithToken(ctx, host, token, deposit, price, maxDuration, proofInterval, profile)
}

// CreateFromDeposit opens a session under mode (b), debiting the
// caller's pre-funded escrow balance. It checks the balance client-side
// first so callers get InsufficientDeposit without burning gas on a
// contract revert, though the contract enforces the same check.
func (m *Manager) CreateFromDeposit(ctx context.Context, user, host, token chain.Address, amount, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	balance, err := m.client.GetDepositBalance(ctx, user, token)
	if err != nil {
		return 0, err
	}
	if balance.Cmp(amount) < 0 {
		return 0, xerrors.InsufficientDeposit(balance.String(), amount.String())
	}
	return m.client.CreateSessionFromDeposit(ctx, host, token, amount, price, maxDuration, proofInterval, profile)
}

// SubmitProof forwards a checkpoint proof for on-chain recording; called
// by the host supervisor, not the client, but lives here since it's
// part of the same escrow lifecycle.
func (m *Manager) SubmitProof(ctx context.Context, sessionID, checkpointIndex, tokenCount int64, proofBlob []byte, profile chain.GasProfile) error {
	return m.client.SubmitProof(ctx, sessionID, checkpointIndex, tokenCount, proofBlob, profile)
}

// CompleteSession settles a session. It rejects a session already
// completed (idempotency, §4.5), then after settlement recomputes the
// expected host share from the proven token count and compares it
// against the host's observed earnings delta. The contract is the
// source of truth; this is a sanity check that surfaces divergence
// (e.g. a misconfigured token address) as a surfaced EconomicError
// rather than a silent accounting mismatch.
func (m *Manager) CompleteSession(ctx context.Context, sessionID int64, earningsToken chain.Address, profile chain.GasProfile) error {
	session, err := m.client.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == chain.StatusCompleted {
		return xerrors.AlreadyCompleted(sessionID)
	}

	provenValue := new(big.Int).Mul(big.NewInt(session.LastProvenTokens), session.PricePerToken)
	expectedHostShare := ExpectedHostShare(provenValue)

	earningsBefore, err := m.client.GetHostEarnings(ctx, session.Host, earningsToken)
	if err != nil {
		return err
	}

	if err := m.client.CompleteSession(ctx, sessionID, profile); err != nil {
		return err
	}

	earningsAfter, err := m.client.GetHostEarnings(ctx, session.Host, earningsToken)
	if err != nil {
		// Settlement already succeeded on-chain; a follow-up read failure
		// should not be reported as a failed completion.
		m.log.Warnw("post-settlement earnings read failed, skipping split check", "session", sessionID, "error", err)
		return nil
	}

	actualShare := new(big.Int).Sub(earningsAfter, earningsBefore)
	if actualShare.Cmp(expectedHostShare) != 0 {
		m.log.Errorw("settlement split diverged from expectation",
			"session", sessionID, "expected", expectedHostShare.String(), "actual", actualShare.String())
		return xerrors.SplitDivergence(sessionID, expectedHostShare.String(), actualShare.String())
	}

	return nil
}

// ShouldRefundOnFailure reports whether a session is eligible for the
// no-proofs-submitted refund path (§4.5): no checkpoint was ever proven
// and the session has run past its configured maximum duration.
func ShouldRefundOnFailure(session chain.SessionDescriptor, now time.Time) bool {
	if session.LastProvenTokens != 0 {
		return false
	}
	return now.Sub(session.StartedAt) >= session.MaxDuration
}

// ExpectedHostShare returns the protocol-fixed 90% host cut of proven
// value; the remaining 10% accrues to treasury.
func ExpectedHostShare(provenValue *big.Int) *big.Int {
	share := new(big.Int).Mul(provenValue, big.NewInt(hostShareNumerator))
	return share.Div(share, big.NewInt(splitDenominator))
}
