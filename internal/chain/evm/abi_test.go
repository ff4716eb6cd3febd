package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSelectorIsStableKeccakPrefix(t *testing.T) {
	// transfer(address,uint256) has the well-known selector 0xa9059cbb.
	sel := selector("transfer(address,uint256)")
	require.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, sel)
}

func TestMethodPackUnpackRoundTrip(t *testing.T) {
	m := method{
		Name:    "getModel(bytes32)",
		Inputs:  args("bytes32"),
		Outputs: args("string", "string", "bytes32", "bool"),
	}

	var modelID [32]byte
	copy(modelID[:], []byte("model-id-fixture"))

	packed, err := m.pack(modelID)
	require.NoError(t, err)
	require.Len(t, packed, 4+32) // selector + one bytes32 word

	contentHash := [32]byte{1, 2, 3}
	returnData, err := m.Outputs.Pack("repo/name", "weights.bin", contentHash, true)
	require.NoError(t, err)

	out, err := m.unpack(returnData)
	require.NoError(t, err)
	require.Equal(t, "repo/name", out[0])
	require.Equal(t, "weights.bin", out[1])
	require.Equal(t, contentHash, out[2])
	require.Equal(t, true, out[3])
}

func TestCreateSessionMethodPacksSixArgs(t *testing.T) {
	host := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	packed, err := methodCreateSessionWithToken.pack(host, token, big.NewInt(1_000_000), big.NewInt(100), big.NewInt(3600), big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, packed, 4+32*6)
}
