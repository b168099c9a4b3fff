package settlement

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

func TestReducePayload_PacksFourLimbsPerWord(t *testing.T) {
	b := bridgedomain.Bundle{
		TaskID: 1,
		InstArr: []uint64{
			0, 0, 0, 1, // merkleRoot = 1
			0, 0, 0, 2, // newMerkleRoot = 2
			0, 0, 0, 3, // shaHash = 3
		},
	}

	p, err := ReducePayload(b)
	require.NoError(t, err)
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"1", p.MerkleRoot)
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"2", p.NewMerkleRoot)
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"3", p.ShaHash)
}

func TestReducePayload_HighLimbsShiftIntoUpperBits(t *testing.T) {
	b := bridgedomain.Bundle{
		InstArr: []uint64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	p, err := ReducePayload(b)
	require.NoError(t, err)
	require.Equal(t, "0x"+strings.Repeat("0", 15)+"1"+strings.Repeat("0", 48), p.MerkleRoot)
}

func TestReducePayload_TooShortInstArrFails(t *testing.T) {
	for _, n := range []int{0, 3, 7, 11} {
		b := bridgedomain.Bundle{InstArr: make([]uint64, n)}
		_, err := ReducePayload(b)
		require.Error(t, err)
	}
}

func TestReducePayload_ExactlyTwelveLimbsSucceeds(t *testing.T) {
	b := bridgedomain.Bundle{InstArr: make([]uint64, 12)}
	_, err := ReducePayload(b)
	require.NoError(t, err)
}
