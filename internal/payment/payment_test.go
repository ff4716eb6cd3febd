package payment

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

var (
	user  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	host  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	token = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

type fakeClient struct {
	depositBalance *big.Int
	session        chain.SessionDescriptor
	hostEarnings   []*big.Int // successive reads pop from the front
	createErr      error
	completeErr    error
	createdID      int64
}

func (f *fakeClient) ChainID() chain.ChainID { return 1 }

func (f *fakeClient) CreateSessionWithToken(ctx context.Context, host, token chain.Address, deposit, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	return f.createdID, f.createErr
}

func (f *fakeClient) CreateSessionFromDeposit(ctx context.Context, host, token chain.Address, amount, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	return f.createdID, f.createErr
}

func (f *fakeClient) DepositToken(ctx context.Context, token chain.Address, amount *big.Int, profile chain.GasProfile) error {
	return nil
}

func (f *fakeClient) SubmitProof(ctx context.Context, sessionID, checkpointIndex, tokenCount int64, proofBlob []byte, profile chain.GasProfile) error {
	return nil
}

func (f *fakeClient) CompleteSession(ctx context.Context, sessionID int64, profile chain.GasProfile) error {
	return f.completeErr
}

func (f *fakeClient) GetSession(ctx context.Context, sessionID int64) (chain.SessionDescriptor, error) {
	return f.session, nil
}

func (f *fakeClient) GetProofSubmission(ctx context.Context, sessionID, checkpointIndex int64) (chain.ProofSubmission, error) {
	return chain.ProofSubmission{}, nil
}

func (f *fakeClient) GetAllModels(ctx context.Context) ([]chain.ModelRecord, error) { return nil, nil }

func (f *fakeClient) GetModel(ctx context.Context, modelID [32]byte) (chain.ModelRecord, error) {
	return chain.ModelRecord{}, nil
}

func (f *fakeClient) GetNodeAPIURL(ctx context.Context, host chain.Address) (string, error) {
	return "", nil
}

func (f *fakeClient) GetActiveHosts(ctx context.Context) ([]chain.HostRecord, error) { return nil, nil }

func (f *fakeClient) GetDepositBalance(ctx context.Context, user, token chain.Address) (*big.Int, error) {
	return f.depositBalance, nil
}

func (f *fakeClient) GetHostEarnings(ctx context.Context, host, token chain.Address) (*big.Int, error) {
	next := f.hostEarnings[0]
	f.hostEarnings = f.hostEarnings[1:]
	return next, nil
}

func TestExpectedHostShareIsNinetyPercent(t *testing.T) {
	share := ExpectedHostShare(big.NewInt(1000))
	require.Equal(t, "900", share.String())
}

func TestCreateFromDepositRejectsInsufficientBalance(t *testing.T) {
	client := &fakeClient{depositBalance: big.NewInt(5)}
	mgr := NewManager(client, nil)

	_, err := mgr.CreateFromDeposit(context.Background(), user, host, token, big.NewInt(10), big.NewInt(1), 3600, 60, chain.GasNormal)
	require.Error(t, err)
	xe, ok := err.(*xerrors.Error)
	require.True(t, ok)
	require.Equal(t, xerrors.EconomicInsufficientDeposit, xe.Subkind)
}

func TestCreateFromDepositSucceedsWithSufficientBalance(t *testing.T) {
	client := &fakeClient{depositBalance: big.NewInt(100), createdID: 42}
	mgr := NewManager(client, nil)

	id, err := mgr.CreateFromDeposit(context.Background(), user, host, token, big.NewInt(10), big.NewInt(1), 3600, 60, chain.GasNormal)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestCompleteSessionRejectsAlreadyCompleted(t *testing.T) {
	client := &fakeClient{session: chain.SessionDescriptor{SessionID: 7, Status: chain.StatusCompleted}}
	mgr := NewManager(client, nil)

	err := mgr.CompleteSession(context.Background(), 7, token, chain.GasNormal)
	require.Error(t, err)
	xe, ok := err.(*xerrors.Error)
	require.True(t, ok)
	require.Equal(t, xerrors.EconomicAlreadyCompleted, xe.Subkind)
}

func TestCompleteSessionAcceptsMatchingSplit(t *testing.T) {
	client := &fakeClient{
		session: chain.SessionDescriptor{
			SessionID:        7,
			Host:             host,
			Status:           chain.StatusActive,
			LastProvenTokens: 1000,
			PricePerToken:    big.NewInt(1),
		},
		hostEarnings: []*big.Int{big.NewInt(0), big.NewInt(900)},
	}
	mgr := NewManager(client, nil)

	err := mgr.CompleteSession(context.Background(), 7, token, chain.GasNormal)
	require.NoError(t, err)
}

func TestCompleteSessionDetectsSplitDivergence(t *testing.T) {
	client := &fakeClient{
		session: chain.SessionDescriptor{
			SessionID:        7,
			Host:             host,
			Status:           chain.StatusActive,
			LastProvenTokens: 1000,
			PricePerToken:    big.NewInt(1),
		},
		hostEarnings: []*big.Int{big.NewInt(0), big.NewInt(500)},
	}
	mgr := NewManager(client, nil)

	err := mgr.CompleteSession(context.Background(), 7, token, chain.GasNormal)
	require.Error(t, err)
	xe, ok := err.(*xerrors.Error)
	require.True(t, ok)
	require.Equal(t, xerrors.EconomicSplitDivergence, xe.Subkind)
}

func TestShouldRefundOnFailureRequiresNoProofsAndExpiry(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	session := chain.SessionDescriptor{StartedAt: started, MaxDuration: time.Hour, LastProvenTokens: 0}
	require.True(t, ShouldRefundOnFailure(session, time.Now()))

	session.LastProvenTokens = 5
	require.False(t, ShouldRefundOnFailure(session, time.Now()))
}
