package supervisor

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/payment"
)

// fakeChain implements chain.Client with only SubmitProof exercised; every
// other method is a stub, mirroring internal/checkpoint's test double.
type fakeChain struct {
	submittedSessionID int64
	submittedIndex     int64
	submittedTokens    int64
	submittedBlob      []byte
	submitErr          error
}

func (f *fakeChain) ChainID() chain.ChainID { return 1 }
func (f *fakeChain) CreateSessionWithToken(ctx context.Context, host, token chain.Address, deposit, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	return 0, nil
}
func (f *fakeChain) CreateSessionFromDeposit(ctx context.Context, host, token chain.Address, amount, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	return 0, nil
}
func (f *fakeChain) DepositToken(ctx context.Context, token chain.Address, amount *big.Int, profile chain.GasProfile) error {
	return nil
}
func (f *fakeChain) SubmitProof(ctx context.Context, sessionID, checkpointIndex, tokenCount int64, proofBlob []byte, profile chain.GasProfile) error {
	f.submittedSessionID = sessionID
	f.submittedIndex = checkpointIndex
	f.submittedTokens = tokenCount
	f.submittedBlob = proofBlob
	return f.submitErr
}
func (f *fakeChain) CompleteSession(ctx context.Context, sessionID int64, profile chain.GasProfile) error {
	return nil
}
func (f *fakeChain) GetSession(ctx context.Context, sessionID int64) (chain.SessionDescriptor, error) {
	return chain.SessionDescriptor{}, nil
}
func (f *fakeChain) GetProofSubmission(ctx context.Context, sessionID, checkpointIndex int64) (chain.ProofSubmission, error) {
	return chain.ProofSubmission{}, nil
}
func (f *fakeChain) GetAllModels(ctx context.Context) ([]chain.ModelRecord, error) { return nil, nil }
func (f *fakeChain) GetModel(ctx context.Context, modelID [32]byte) (chain.ModelRecord, error) {
	return chain.ModelRecord{}, nil
}
func (f *fakeChain) GetNodeAPIURL(ctx context.Context, host chain.Address) (string, error) {
	return "", nil
}
func (f *fakeChain) GetActiveHosts(ctx context.Context) ([]chain.HostRecord, error) { return nil, nil }
func (f *fakeChain) GetDepositBalance(ctx context.Context, user, token chain.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) GetHostEarnings(ctx context.Context, host, token chain.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestRestartPolicyAlwaysRestartsOnCleanExit(t *testing.T) {
	p := DefaultRestartPolicy(RestartAlways)
	require.True(t, p.shouldRestart(nil))
	require.True(t, p.shouldRestart(errBoom))
}

func TestRestartPolicyOnFailureIgnoresCleanExit(t *testing.T) {
	p := DefaultRestartPolicy(RestartOnFailure)
	require.False(t, p.shouldRestart(nil))
	require.True(t, p.shouldRestart(errBoom))
}

func TestRestartPolicyNeverRestarts(t *testing.T) {
	p := DefaultRestartPolicy(RestartNever)
	require.False(t, p.shouldRestart(nil))
	require.False(t, p.shouldRestart(errBoom))
}

func TestRestartPolicyDelayIsClampedToBounds(t *testing.T) {
	p := RestartPolicy{Kind: RestartAlways, BaseDelay: 100 * time.Millisecond, Multiplier: 2}

	require.Equal(t, minRestartDelay, p.delayForAttempt(1))
	require.Equal(t, 1600*time.Millisecond, p.delayForAttempt(5))

	huge := RestartPolicy{Kind: RestartAlways, BaseDelay: time.Minute, Multiplier: 10}
	require.Equal(t, maxRestartDelay, huge.delayForAttempt(5))
}

func TestRestartPolicyDelayFloorsAtOneSecond(t *testing.T) {
	p := RestartPolicy{Kind: RestartAlways, BaseDelay: 10 * time.Millisecond, Multiplier: 2}
	require.Equal(t, minRestartDelay, p.delayForAttempt(1))
}

func TestResolveBinaryPathFallsBackToExplicitFile(t *testing.T) {
	path, err := ResolveBinaryPath("/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", path)
}

func TestResolveBinaryPathErrorsWhenNothingFound(t *testing.T) {
	savedFallbacks := fallbackBinaryLocations
	fallbackBinaryLocations = []string{"/no/such/path/inference-engine"}
	defer func() { fallbackBinaryLocations = savedFallbacks }()

	_, err := ResolveBinaryPath("/no/such/binary/at/all")
	require.Error(t, err)
}

var errBoom = &testExitError{}

type testExitError struct{}

func (e *testExitError) Error() string { return "boom" }

func TestEventBridgeTracksProofIntervalOnSessionStart(t *testing.T) {
	client := &fakeChain{}
	bridge := NewEventBridge("ws://unused", payment.NewManager(client, nil), chain.GasNormal, nil, nil)

	bridge.handle(context.Background(), SessionLifecycleEvent{Type: "session-start", SessionID: 1, ProofIntervalSec: 30})

	bridge.mu.Lock()
	interval := bridge.proofIntervalBy[1]
	bridge.mu.Unlock()
	require.Equal(t, 30*time.Second, interval)
}

func TestEventBridgeForgetsIntervalOnSessionEnd(t *testing.T) {
	client := &fakeChain{}
	bridge := NewEventBridge("ws://unused", payment.NewManager(client, nil), chain.GasNormal, nil, nil)

	bridge.handle(context.Background(), SessionLifecycleEvent{Type: "session-start", SessionID: 2, ProofIntervalSec: 10})
	bridge.handle(context.Background(), SessionLifecycleEvent{Type: "session-end", SessionID: 2})

	bridge.mu.Lock()
	_, ok := bridge.proofIntervalBy[2]
	bridge.mu.Unlock()
	require.False(t, ok)
}

func TestEventBridgeForwardsProofOnInferenceComplete(t *testing.T) {
	client := &fakeChain{}
	bridge := NewEventBridge("ws://unused", payment.NewManager(client, nil), chain.GasNormal, nil, nil)

	blob := []byte{0xde, 0xad, 0xbe, 0xef}
	bridge.handle(context.Background(), SessionLifecycleEvent{
		Type:            "inference-complete",
		SessionID:       7,
		CheckpointIndex: 3,
		TokenCount:      128,
		ProofBlobHex:    hex.EncodeToString(blob),
	})

	require.Equal(t, int64(7), client.submittedSessionID)
	require.Equal(t, int64(3), client.submittedIndex)
	require.Equal(t, int64(128), client.submittedTokens)
	require.Equal(t, blob, client.submittedBlob)
}
