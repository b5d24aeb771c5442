package types

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MockSigner holds a throwaway validator key.
//
// unstable - use only for testing
type MockSigner struct {
	key *ecdsa.PrivateKey
}

// NewMockSigner generates a new random key.
func NewMockSigner() *MockSigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &MockSigner{key: key}
}

// Address returns the signer's address.
func (ms *MockSigner) Address() common.Address {
	return crypto.PubkeyToAddress(ms.key.PublicKey)
}

// SignVote signs vote in place.
func (ms *MockSigner) SignVote(vote *Vote) error {
	return vote.Sign(ms.key)
}

// SignProposal signs proposal in place.
func (ms *MockSigner) SignProposal(proposal *Proposal) error {
	return proposal.Sign(ms.key)
}

// MakeVote returns a signed vote.
func (ms *MockSigner) MakeVote(chainID uint64, voteType SignedMsgType, height uint64, round uint32, index uint32, hash common.Hash) (*Vote, error) {
	vote := &Vote{
		ChainID:   chainID,
		Type:      voteType,
		Height:    height,
		Round:     round,
		Hash:      hash,
		Timestamp: height,
		Index:     index,
	}
	if err := ms.SignVote(vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// RandHash returns a random hash.
func RandHash() common.Hash {
	var h common.Hash
	if _, err := rand.Read(h[:]); err != nil {
		panic(err)
	}
	return h
}

// NewMockDuplicateVoteEvidence returns evidence of a fresh random validator
// double signing precommits at height, round 0, index 0.
//
// unstable - use only for testing
func NewMockDuplicateVoteEvidence(height uint64, chainID uint64) *DuplicateVoteEvidence {
	return NewMockDuplicateVoteEvidenceWithSigner(height, 0, chainID, NewMockSigner())
}

// NewMockDuplicateVoteEvidenceWithSigner returns evidence of signer double
// signing precommits at height and round, with validator index 0.
func NewMockDuplicateVoteEvidenceWithSigner(height uint64, round uint32, chainID uint64, signer *MockSigner) *DuplicateVoteEvidence {
	voteA, err := signer.MakeVote(chainID, PrecommitType, height, round, 0, RandHash())
	if err != nil {
		panic(err)
	}
	voteB, err := signer.MakeVote(chainID, PrecommitType, height, round, 0, RandHash())
	if err != nil {
		panic(err)
	}
	ev, err := NewDuplicateVoteEvidence(voteA, voteB)
	if err != nil {
		panic(fmt.Sprintf("invalid mock evidence: %v", err))
	}
	return ev
}
