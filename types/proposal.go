package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Proposal defines a block proposal for the consensus.
// It refers to the block by Hash field.
// It must be signed by the correct proposer for the given Height/Round
// to be considered valid. It may depend on votes from a previous round,
// a so-called Proof-of-Lock (POL) round, as noted in the POLRound.
// If POLRound >= 0, then Hash corresponds to the block that is locked in POLRound.
type Proposal struct {
	ChainID   uint64
	Type      SignedMsgType
	Height    uint64
	Round     uint32
	POLRound  int32 // -1 if null.
	Hash      common.Hash
	Timestamp uint64
	Signature []byte
}

// proposalRLP is the wire form of Proposal; rlp has no signed integers, so
// POLRound is shifted by one.
type proposalRLP struct {
	ChainID   uint64
	Type      SignedMsgType
	Height    uint64
	Round     uint32
	POLRound  uint64
	Hash      common.Hash
	Timestamp uint64
	Signature []byte
}

// NewProposal returns a new Proposal.
// If there is no POLRound, polRound should be -1.
func NewProposal(chainID uint64, height uint64, round uint32, polRound int32, hash common.Hash, timestamp uint64) *Proposal {
	return &Proposal{
		ChainID:   chainID,
		Type:      ProposalType,
		Height:    height,
		Round:     round,
		POLRound:  polRound,
		Hash:      hash,
		Timestamp: timestamp,
	}
}

// EncodeRLP implements rlp.Encoder.
func (p *Proposal) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &proposalRLP{
		ChainID:   p.ChainID,
		Type:      p.Type,
		Height:    p.Height,
		Round:     p.Round,
		POLRound:  uint64(int64(p.POLRound) + 1),
		Hash:      p.Hash,
		Timestamp: p.Timestamp,
		Signature: p.Signature,
	})
}

// DecodeRLP implements rlp.Decoder.
func (p *Proposal) DecodeRLP(s *rlp.Stream) error {
	var dec proposalRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	if dec.POLRound > uint64(1<<31) {
		return fmt.Errorf("POLRound out of range: %d", dec.POLRound)
	}
	*p = Proposal{
		ChainID:   dec.ChainID,
		Type:      dec.Type,
		Height:    dec.Height,
		Round:     dec.Round,
		POLRound:  int32(int64(dec.POLRound) - 1),
		Hash:      dec.Hash,
		Timestamp: dec.Timestamp,
		Signature: dec.Signature,
	}
	return nil
}

// SignHash returns the digest the proposer signs.
func (p *Proposal) SignHash() common.Hash {
	unsigned := *p
	unsigned.Signature = nil
	bz, err := rlp.EncodeToBytes(&unsigned)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(bz)
}

// Sign sets the proposal signature using key.
func (p *Proposal) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(p.SignHash().Bytes(), key)
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

// Proposer recovers the address of the signer.
func (p *Proposal) Proposer() (common.Address, error) {
	if len(p.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrVoteInvalidSignature
	}
	pub, err := crypto.SigToPub(p.SignHash().Bytes(), p.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrVoteInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ValidateBasic performs basic validation.
func (p *Proposal) ValidateBasic() error {
	if p.Type != ProposalType {
		return errors.New("invalid Type")
	}
	if p.POLRound < -1 {
		return errors.New("negative POLRound (exception: -1)")
	}
	if p.POLRound >= 0 && uint32(p.POLRound) >= p.Round {
		return errors.New("POLRound must be lower than Round")
	}
	if p.Hash == (common.Hash{}) {
		return errors.New("expected a non-empty block hash")
	}

	if len(p.Signature) == 0 {
		return errors.New("signature is missing")
	}
	if len(p.Signature) != crypto.SignatureLength {
		return fmt.Errorf("signature is the wrong size: %d", len(p.Signature))
	}
	return nil
}

// String returns a string representation of the Proposal.
func (p *Proposal) String() string {
	return fmt.Sprintf("Proposal{%v/%v (%v, %v) @ %d}",
		p.Height,
		p.Round,
		p.Hash.TerminalString(),
		p.POLRound,
		p.Timestamp)
}
