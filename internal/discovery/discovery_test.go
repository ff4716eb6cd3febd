package discovery

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/fabricmesh/inference-session-core/internal/chain"
)

var (
	modelA   = [32]byte{1}
	tokenFAB = common.HexToAddress("0xF0000000000000000000000000000000000000")
	hostA    = common.HexToAddress("0xA0000000000000000000000000000000000000")
	hostB    = common.HexToAddress("0xB0000000000000000000000000000000000000")
)

type fakeChainClient struct {
	hosts []chain.HostRecord
	err   error
}

func (f *fakeChainClient) GetActiveHosts(ctx context.Context) ([]chain.HostRecord, error) {
	return f.hosts, f.err
}

func newHost(addr common.Address, apiURL string, price, stake int64, active bool) chain.HostRecord {
	return chain.HostRecord{
		Address:           addr,
		APIURL:            apiURL,
		Stake:             big.NewInt(stake),
		PricePerToken:     map[chain.Address]*big.Int{tokenFAB: big.NewInt(price)},
		SupportedModelIDs: map[[32]byte]struct{}{modelA: {}},
		Active:            active,
	}
}

func TestDiscoverFiltersInactiveAndUnsupportedModel(t *testing.T) {
	inactive := newHost(hostA, "http://a", 10, 2_000_000_000_000_000_000, false)
	wrongModel := newHost(hostB, "http://b", 10, 2_000_000_000_000_000_000, true)
	wrongModel.SupportedModelIDs = map[[32]byte]struct{}{{9}: {}}

	reg := NewRegistry(&fakeChainClient{hosts: []chain.HostRecord{inactive, wrongModel}}, nil)
	out, err := reg.Discover(context.Background(), Query{ModelID: modelA, Token: tokenFAB}, false)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDiscoverFiltersBelowMinStake(t *testing.T) {
	low := newHost(hostA, "http://a", 10, 1, true)
	reg := NewRegistry(&fakeChainClient{hosts: []chain.HostRecord{low}}, nil)
	out, err := reg.Discover(context.Background(), Query{ModelID: modelA, Token: tokenFAB}, false)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDiscoverRanksCheaperAndHigherStakeHigher(t *testing.T) {
	cheap := newHost(hostA, "http://a", 5, 3_000_000_000_000_000_000, true)
	expensive := newHost(hostB, "http://b", 50, 1_000_000_000_000_000_000, true)

	reg := NewRegistry(&fakeChainClient{hosts: []chain.HostRecord{expensive, cheap}}, nil)
	out, err := reg.Discover(context.Background(), Query{ModelID: modelA, Token: tokenFAB}, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, hostA, out[0].Address)
}

func TestDiscoverAppliesMaxPriceCap(t *testing.T) {
	pricey := newHost(hostA, "http://a", 100, 2_000_000_000_000_000_000, true)
	reg := NewRegistry(&fakeChainClient{hosts: []chain.HostRecord{pricey}}, nil)

	priceCap := big.NewInt(10)
	out, err := reg.Discover(context.Background(), Query{ModelID: modelA, Token: tokenFAB, MaxPricePerToken: priceCap}, false)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDiscoverCachesResultsWithinTTL(t *testing.T) {
	fake := &fakeChainClient{hosts: []chain.HostRecord{newHost(hostA, "http://a", 5, 2_000_000_000_000_000_000, true)}}
	reg := NewRegistry(fake, nil)

	q := Query{ModelID: modelA, Token: tokenFAB}
	first, err := reg.Discover(context.Background(), q, false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutate the backing data; cached result should not change until invalidated.
	fake.hosts = nil
	second, err := reg.Discover(context.Background(), q, false)
	require.NoError(t, err)
	require.Len(t, second, 1)

	reg.Invalidate(q.ChainID, q.ModelID)
	third, err := reg.Discover(context.Background(), q, false)
	require.NoError(t, err)
	require.Empty(t, third)
}

func TestDiscoverHealthProbePenalizesUnreachableHost(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	reachable := newHost(hostA, healthy.URL, 10, 2_000_000_000_000_000_000, true)
	unreachable := newHost(hostB, "http://127.0.0.1:1", 10, 2_000_000_000_000_000_000, true)

	reg := NewRegistry(&fakeChainClient{hosts: []chain.HostRecord{reachable, unreachable}}, nil)
	out, err := reg.Discover(context.Background(), Query{ModelID: modelA, Token: tokenFAB}, true)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, hostA, out[0].Address)
	require.True(t, out[0].Healthy)
	require.False(t, out[1].Healthy)
}
