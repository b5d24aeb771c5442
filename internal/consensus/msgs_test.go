package consensus

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reinetwork/reimint/libs/registry"
	"github.com/reinetwork/reimint/types"
)

func makeTestMessages(t *testing.T) []Message {
	t.Helper()

	signer := types.NewMockSigner()
	vote, err := signer.MakeVote(1, types.PrevoteType, 10, 2, 3, types.RandHash())
	require.NoError(t, err)

	proposal := types.NewProposal(1, 10, 2, -1, types.RandHash(), 1000)
	require.NoError(t, signer.SignProposal(proposal))

	return []Message{
		&NewRoundStepMessage{Height: 10, Round: 2, Step: RoundStepPrevote, SecondsSinceStartTime: 3, LastCommitRound: 1},
		&NewValidBlockMessage{Height: 10, Round: 2, BlockHash: types.RandHash(), IsCommit: true},
		&HasVoteMessage{Height: 10, Round: 2, Type: types.PrecommitType, Index: 7},
		&ProposalMessage{Proposal: proposal},
		&VoteMessage{Vote: vote},
		&VoteSetMaj23Message{Height: 10, Round: 2, Type: types.PrevoteType, BlockHash: types.RandHash()},
		&GetProposalBlockMessage{Hash: types.RandHash()},
		&ProposalBlockMessage{Block: []byte{0xde, 0xad, 0xbe, 0xef}},
		&DuplicateVoteEvidenceMessage{Evidence: types.NewMockDuplicateVoteEvidence(10, 1)},
	}
}

func TestConsensusMessageRoundTrip(t *testing.T) {
	for _, msg := range makeTestMessages(t) {
		bz, err := EncodeMsg(msg)
		require.NoError(t, err, "%T", msg)

		decoded, err := DecodeMsg(bz)
		require.NoError(t, err, "%T", msg)
		if diff := cmp.Diff(msg, decoded); diff != "" {
			t.Errorf("%T round trip mismatch (-want +got):\n%s", msg, diff)
		}
	}
}

func TestConsensusMessageCodes(t *testing.T) {
	msgs := makeTestMessages(t)
	for i, msg := range msgs {
		code, err := msgRegistry.Code(msg)
		require.NoError(t, err)
		assert.EqualValues(t, i, code, "%T", msg)
	}
	assert.Len(t, msgRegistry.Codes(), len(msgs))
}

func TestConsensusMessageValidateBasic(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{"invalid step", &NewRoundStepMessage{Height: 1, Step: RoundStepType(0)}},
		{"last commit round at genesis", &NewRoundStepMessage{Height: 0, Step: RoundStepNewHeight, LastCommitRound: 1}},
		{"empty valid block hash", &NewValidBlockMessage{Height: 1}},
		{"has vote proposal type", &HasVoteMessage{Height: 1, Type: types.ProposalType}},
		{"nil proposal", &ProposalMessage{}},
		{"unsigned proposal", &ProposalMessage{Proposal: types.NewProposal(1, 1, 1, 0, types.RandHash(), 0)}},
		{"nil vote", &VoteMessage{}},
		{"unsigned vote", &VoteMessage{Vote: &types.Vote{Type: types.PrevoteType}}},
		{"maj23 unknown type", &VoteSetMaj23Message{Type: types.UnknownType}},
		{"empty block request", &GetProposalBlockMessage{}},
		{"empty block", &ProposalBlockMessage{}},
		{"nil evidence", &DuplicateVoteEvidenceMessage{}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.msg.ValidateBasic())

			// invalid messages still encode but never decode
			bz, err := EncodeMsg(tc.msg)
			require.NoError(t, err)
			_, err = DecodeMsg(bz)
			require.Error(t, err)
		})
	}
}

func TestDecodeMsgUnknownCode(t *testing.T) {
	bz, err := NewWALRegistry().Serialize(&EndHeightMessage{Height: 1})
	require.NoError(t, err)

	// code 0 is a NewRoundStepMessage, whose zero step is invalid
	_, err = DecodeMsg(bz)
	require.Error(t, err)

	other := registry.New("other")
	other.MustRegister(42, func() registry.Message { return &GetProposalBlockMessage{} })
	bz, err = other.Serialize(&GetProposalBlockMessage{Hash: common.Hash{1}})
	require.NoError(t, err)
	_, err = DecodeMsg(bz)
	require.ErrorIs(t, err, registry.ErrUnknownCode)
}

func TestMsgInfoWrapsConsensusMessage(t *testing.T) {
	want := &HasVoteMessage{Height: 3, Round: 1, Type: types.PrevoteType, Index: 2}

	mi, err := NewMsgInfo(want, "peer1")
	require.NoError(t, err)
	require.NoError(t, mi.ValidateBasic())
	assert.Equal(t, "peer1", mi.PeerID)

	got, err := mi.Message()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewMsgInfo(&EndHeightMessage{}, "")
	require.ErrorIs(t, err, registry.ErrUnregisteredType)
}
