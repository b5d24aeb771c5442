package consensus

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/reinetwork/reimint/libs/registry"
	"github.com/reinetwork/reimint/types"
)

// Message is a message that can be sent and received on the consensus
// channel.
type Message = registry.Message

// Registry codes of the peer consensus messages. They are part of the wire
// protocol and must never be reused.
const (
	NewRoundStepCode uint64 = iota
	NewValidBlockCode
	HasVoteCode
	ProposalCode
	VoteCode
	VoteSetMaj23Code
	GetProposalBlockCode
	ProposalBlockCode
	DuplicateVoteEvidenceCode
)

// NewMessageRegistry returns the registry of every peer consensus message.
func NewMessageRegistry() *registry.Registry {
	r := registry.New("consensus")
	r.MustRegister(NewRoundStepCode, func() registry.Message { return &NewRoundStepMessage{} })
	r.MustRegister(NewValidBlockCode, func() registry.Message { return &NewValidBlockMessage{} })
	r.MustRegister(HasVoteCode, func() registry.Message { return &HasVoteMessage{} })
	r.MustRegister(ProposalCode, func() registry.Message { return &ProposalMessage{} })
	r.MustRegister(VoteCode, func() registry.Message { return &VoteMessage{} })
	r.MustRegister(VoteSetMaj23Code, func() registry.Message { return &VoteSetMaj23Message{} })
	r.MustRegister(GetProposalBlockCode, func() registry.Message { return &GetProposalBlockMessage{} })
	r.MustRegister(ProposalBlockCode, func() registry.Message { return &ProposalBlockMessage{} })
	r.MustRegister(DuplicateVoteEvidenceCode, func() registry.Message { return &DuplicateVoteEvidenceMessage{} })
	return r
}

var msgRegistry = NewMessageRegistry()

// EncodeMsg serializes a peer consensus message.
func EncodeMsg(msg Message) ([]byte, error) {
	return msgRegistry.Serialize(msg)
}

// DecodeMsg decodes and validates a peer consensus message.
func DecodeMsg(bz []byte) (Message, error) {
	return msgRegistry.Deserialize(bz)
}

//-------------------------------------

// NewRoundStepMessage is sent for every step taken in the ConsensusState.
// For every height/round/step transition
type NewRoundStepMessage struct {
	Height                uint64
	Round                 uint32
	Step                  RoundStepType
	SecondsSinceStartTime uint64
	LastCommitRound       uint32
}

// ValidateBasic performs basic validation.
func (m *NewRoundStepMessage) ValidateBasic() error {
	if !m.Step.IsValid() {
		return errors.New("invalid Step")
	}
	if m.Height == 0 && m.LastCommitRound != 0 {
		return errors.New("non-zero LastCommitRound with zero Height")
	}
	return nil
}

// String returns a string representation.
func (m *NewRoundStepMessage) String() string {
	return fmt.Sprintf("[NewRoundStep H:%v R:%v S:%v LCR:%v]",
		m.Height, m.Round, m.Step, m.LastCommitRound)
}

//-------------------------------------

// NewValidBlockMessage is sent when a validator observes a valid block B in
// some round r, i.e., there is a Proposal for block B and 2/3+ prevotes for
// the block B in the round r. In case the block is also committed, then
// IsCommit flag is set to true.
type NewValidBlockMessage struct {
	Height    uint64
	Round     uint32
	BlockHash common.Hash
	IsCommit  bool
}

// ValidateBasic performs basic validation.
func (m *NewValidBlockMessage) ValidateBasic() error {
	if m.BlockHash == (common.Hash{}) {
		return errors.New("empty BlockHash")
	}
	return nil
}

// String returns a string representation.
func (m *NewValidBlockMessage) String() string {
	return fmt.Sprintf("[ValidBlockMessage H:%v R:%v BH:%v IsCommit:%v]",
		m.Height, m.Round, m.BlockHash.TerminalString(), m.IsCommit)
}

//-------------------------------------

// HasVoteMessage is sent to indicate that a particular vote has been received.
type HasVoteMessage struct {
	Height uint64
	Round  uint32
	Type   types.SignedMsgType
	Index  uint32
}

// ValidateBasic performs basic validation.
func (m *HasVoteMessage) ValidateBasic() error {
	if !types.IsVoteTypeValid(m.Type) {
		return errors.New("invalid Type")
	}
	return nil
}

// String returns a string representation.
func (m *HasVoteMessage) String() string {
	return fmt.Sprintf("[HasVote VI:%v V:{%v/%02d/%v}]", m.Index, m.Height, m.Round, m.Type)
}

//-------------------------------------

// ProposalMessage is sent when a new block is proposed.
type ProposalMessage struct {
	Proposal *types.Proposal
}

// ValidateBasic performs basic validation.
func (m *ProposalMessage) ValidateBasic() error {
	if m.Proposal == nil {
		return errors.New("nil proposal")
	}
	return m.Proposal.ValidateBasic()
}

// String returns a string representation.
func (m *ProposalMessage) String() string {
	return fmt.Sprintf("[Proposal %v]", m.Proposal)
}

//-------------------------------------

// VoteMessage is sent when voting for a proposal (or lack thereof).
type VoteMessage struct {
	Vote *types.Vote
}

// ValidateBasic performs basic validation.
func (m *VoteMessage) ValidateBasic() error {
	if m.Vote == nil {
		return errors.New("nil vote")
	}
	return m.Vote.ValidateBasic()
}

// String returns a string representation.
func (m *VoteMessage) String() string {
	return fmt.Sprintf("[Vote %v]", m.Vote)
}

//-------------------------------------

// VoteSetMaj23Message is sent to indicate that a given BlockID has seen +2/3 votes.
type VoteSetMaj23Message struct {
	Height    uint64
	Round     uint32
	Type      types.SignedMsgType
	BlockHash common.Hash
}

// ValidateBasic performs basic validation.
func (m *VoteSetMaj23Message) ValidateBasic() error {
	if !types.IsVoteTypeValid(m.Type) {
		return errors.New("invalid Type")
	}
	return nil
}

// String returns a string representation.
func (m *VoteSetMaj23Message) String() string {
	return fmt.Sprintf("[VSM23 %v/%02d/%v %v]", m.Height, m.Round, m.Type, m.BlockHash.TerminalString())
}

//-------------------------------------

// GetProposalBlockMessage asks a peer for the proposal block with the given
// hash.
type GetProposalBlockMessage struct {
	Hash common.Hash
}

// ValidateBasic performs basic validation.
func (m *GetProposalBlockMessage) ValidateBasic() error {
	if m.Hash == (common.Hash{}) {
		return errors.New("empty Hash")
	}
	return nil
}

// String returns a string representation.
func (m *GetProposalBlockMessage) String() string {
	return fmt.Sprintf("[GetProposalBlock %v]", m.Hash.TerminalString())
}

//-------------------------------------

// ProposalBlockMessage carries an encoded block. The block codec belongs to
// the execution layer, so the block travels as opaque bytes.
type ProposalBlockMessage struct {
	Block []byte
}

// ValidateBasic performs basic validation.
func (m *ProposalBlockMessage) ValidateBasic() error {
	if len(m.Block) == 0 {
		return errors.New("empty Block")
	}
	return nil
}

// String returns a string representation.
func (m *ProposalBlockMessage) String() string {
	return fmt.Sprintf("[ProposalBlock %d bytes]", len(m.Block))
}

//-------------------------------------

// DuplicateVoteEvidenceMessage gossips evidence of a validator signing two
// conflicting votes.
type DuplicateVoteEvidenceMessage struct {
	Evidence *types.DuplicateVoteEvidence
}

// ValidateBasic performs basic validation.
func (m *DuplicateVoteEvidenceMessage) ValidateBasic() error {
	if m.Evidence == nil {
		return errors.New("nil evidence")
	}
	return m.Evidence.ValidateBasic()
}

// String returns a string representation.
func (m *DuplicateVoteEvidenceMessage) String() string {
	return fmt.Sprintf("[DuplicateVoteEvidence %v]", m.Evidence)
}
