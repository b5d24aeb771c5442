package types

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/reinetwork/reimint/libs/registry"
)

var defaultVoteChainID uint64 = 1

func TestEvidenceList(t *testing.T) {
	ev := NewMockDuplicateVoteEvidence(10, defaultVoteChainID)
	evl := EvidenceList([]Evidence{ev})

	assert.True(t, evl.Has(ev))
	assert.False(t, evl.Has(NewMockDuplicateVoteEvidence(10, defaultVoteChainID)))
	assert.Contains(t, evl.String(), "DuplicateVoteEvidence")
}

func TestDuplicateVoteEvidence(t *testing.T) {
	const height = uint64(13)
	ev := NewMockDuplicateVoteEvidence(height, defaultVoteChainID)

	assert.Equal(t, ev.Hash(), crypto.Keccak256Hash(ev.Bytes()))
	assert.NotNil(t, ev.String())
	assert.Equal(t, height, ev.Height())
	assert.NoError(t, ev.ValidateBasic())
	assert.True(t, bytes.Compare(ev.VoteA.Hash.Bytes(), ev.VoteB.Hash.Bytes()) < 0)
}

func TestDuplicateVoteEvidenceOrderIndependent(t *testing.T) {
	signer := NewMockSigner()

	rapid.Check(t, func(t *rapid.T) {
		height := rapid.Uint64Range(1, 1<<40).Draw(t, "height").(uint64)
		round := rapid.Uint32Range(0, 100).Draw(t, "round").(uint32)
		hashA := common.BytesToHash(rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hashA").([]byte))
		hashB := common.BytesToHash(rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hashB").([]byte))
		if hashA == hashB {
			// identical hashes do not conflict
			hashB[0] ^= 0xff
		}

		voteA, err := signer.MakeVote(defaultVoteChainID, PrevoteType, height, round, 3, hashA)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		voteB, err := signer.MakeVote(defaultVoteChainID, PrevoteType, height, round, 3, hashB)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}

		ev1, err := NewDuplicateVoteEvidence(voteA, voteB)
		if err != nil {
			t.Fatalf("evidence from (a, b): %v", err)
		}
		ev2, err := NewDuplicateVoteEvidence(voteB, voteA)
		if err != nil {
			t.Fatalf("evidence from (b, a): %v", err)
		}
		if !bytes.Equal(ev1.Bytes(), ev2.Bytes()) {
			t.Fatalf("serializations differ")
		}
		if ev1.Hash() != ev2.Hash() {
			t.Fatalf("hashes differ")
		}
	})
}

func TestNewDuplicateVoteEvidenceInvalid(t *testing.T) {
	signer := NewMockSigner()
	hash1, hash2 := RandHash(), RandHash()

	mustVote := func(chainID uint64, voteType SignedMsgType, height uint64, round, index uint32, hash common.Hash) *Vote {
		vote, err := signer.MakeVote(chainID, voteType, height, round, index, hash)
		require.NoError(t, err)
		return vote
	}
	base := mustVote(1, PrecommitType, 10, 1, 0, hash1)

	testCases := []struct {
		name  string
		other *Vote
	}{
		{"nil vote", nil},
		{"same hash", mustVote(1, PrecommitType, 10, 1, 0, hash1)},
		{"different height", mustVote(1, PrecommitType, 11, 1, 0, hash2)},
		{"different round", mustVote(1, PrecommitType, 10, 2, 0, hash2)},
		{"different type", mustVote(1, PrevoteType, 10, 1, 0, hash2)},
		{"different chain", mustVote(2, PrecommitType, 10, 1, 0, hash2)},
		{"different index", mustVote(1, PrecommitType, 10, 1, 1, hash2)},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDuplicateVoteEvidence(base, tc.other)
			assert.Error(t, err)
		})
	}

	t.Run("different signer", func(t *testing.T) {
		other, err := NewMockSigner().MakeVote(1, PrecommitType, 10, 1, 0, hash2)
		require.NoError(t, err)
		_, err = NewDuplicateVoteEvidence(base, other)
		assert.Error(t, err)
	})

	t.Run("unsigned vote", func(t *testing.T) {
		other := mustVote(1, PrecommitType, 10, 1, 0, hash2)
		other.Signature = nil
		_, err := NewDuplicateVoteEvidence(base, other)
		assert.Error(t, err)
	})
}

func TestDuplicateVoteEvidenceValidateBasicOrder(t *testing.T) {
	ev := NewMockDuplicateVoteEvidence(5, defaultVoteChainID)
	ev.VoteA, ev.VoteB = ev.VoteB, ev.VoteA
	assert.Error(t, ev.ValidateBasic())

	var nilEv *DuplicateVoteEvidence
	assert.Error(t, nilEv.ValidateBasic())
	assert.Error(t, (&DuplicateVoteEvidence{VoteA: ev.VoteA}).ValidateBasic())
}

func TestDuplicateVoteEvidenceVerify(t *testing.T) {
	signer := NewMockSigner()
	other := NewMockSigner()
	vals, err := NewValidatorSet([]*Validator{NewValidator(signer.Address(), 10)})
	require.NoError(t, err)

	ev := NewMockDuplicateVoteEvidenceWithSigner(7, 0, defaultVoteChainID, signer)
	assert.NoError(t, ev.Verify(defaultVoteChainID, vals))
	assert.Error(t, ev.Verify(defaultVoteChainID+1, vals))

	// signer is not the validator at index 0
	foreign := NewMockDuplicateVoteEvidenceWithSigner(7, 0, defaultVoteChainID, other)
	err = foreign.Verify(defaultVoteChainID, vals)
	assert.True(t, errors.Is(err, ErrVoteInvalidValidatorAddress))

	empty, err := NewValidatorSet(nil)
	require.NoError(t, err)
	assert.Error(t, ev.Verify(defaultVoteChainID, empty))
}

func TestEvidenceRoundTrip(t *testing.T) {
	ev := NewMockDuplicateVoteEvidence(42, defaultVoteChainID)

	bz, err := EvidenceToBytes(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.Bytes(), bz)

	decoded, err := EvidenceFromBytes(bz)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
	assert.Equal(t, ev.Hash(), decoded.Hash())

	// the first item of the wrapper is the evidence code
	code, err := NewEvidenceRegistry().Code(ev)
	require.NoError(t, err)
	assert.Equal(t, DuplicateVoteEvidenceCode, code)

	_, err = EvidenceFromBytes([]byte{0xc0})
	assert.True(t, errors.Is(err, registry.ErrMalformedMessage))

	// tampered evidence fails validation on decode
	ev.VoteA, ev.VoteB = ev.VoteB, ev.VoteA
	bz, err = NewEvidenceRegistry().Serialize(ev)
	require.NoError(t, err)
	_, err = EvidenceFromBytes(bz)
	assert.Error(t, err)

	_, err = EvidenceToBytes(nil)
	assert.Error(t, err)
}
