package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Vote represents a prevote or precommit vote from a validator for a block
// hash. The zero hash is a vote for nil.
type Vote struct {
	ChainID   uint64
	Type      SignedMsgType
	Height    uint64
	Round     uint32
	Hash      common.Hash
	Timestamp uint64
	Index     uint32
	Signature []byte
}

// SignHash returns keccak256(rlp([chainID, type, height, round, hash,
// timestamp, index])), the digest the validator signs.
func (vote *Vote) SignHash() common.Hash {
	bz, err := rlp.EncodeToBytes([]interface{}{
		vote.ChainID,
		vote.Type,
		vote.Height,
		vote.Round,
		vote.Hash,
		vote.Timestamp,
		vote.Index,
	})
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(bz)
}

// Sign sets the vote signature using key.
func (vote *Vote) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(vote.SignHash().Bytes(), key)
	if err != nil {
		return err
	}
	vote.Signature = sig
	return nil
}

// Validator recovers the address of the signer.
func (vote *Vote) Validator() (common.Address, error) {
	if len(vote.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrVoteInvalidSignature
	}
	pub, err := crypto.SigToPub(vote.SignHash().Bytes(), vote.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrVoteInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks the vote was signed by address on chainID.
func (vote *Vote) Verify(chainID uint64, address common.Address) error {
	if vote.ChainID != chainID {
		return ErrVoteInvalidChainID
	}
	signer, err := vote.Validator()
	if err != nil {
		return err
	}
	if signer != address {
		return ErrVoteInvalidValidatorAddress
	}
	return nil
}

// IsNil reports whether the vote is for nil.
func (vote *Vote) IsNil() bool {
	return vote.Hash == (common.Hash{})
}

// Copy returns a deep copy of the vote.
func (vote *Vote) Copy() *Vote {
	voteCopy := *vote
	voteCopy.Signature = common.CopyBytes(vote.Signature)
	return &voteCopy
}

// ValidateBasic performs basic validation.
func (vote *Vote) ValidateBasic() error {
	if vote == nil {
		return errors.New("nil vote")
	}
	if !IsVoteTypeValid(vote.Type) {
		return errors.New("invalid Type")
	}
	if len(vote.Signature) == 0 {
		return errors.New("signature is missing")
	}
	if len(vote.Signature) != crypto.SignatureLength {
		return fmt.Errorf("signature is the wrong size: %d", len(vote.Signature))
	}
	return nil
}

// String returns a string representation of Vote.
//
// 1. validator index
// 2. height
// 3. round
// 4. type
// 5. block hash
// 6. timestamp
func (vote *Vote) String() string {
	if vote == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{%v %v/%02d/%v %s @ %d}",
		vote.Index,
		vote.Height,
		vote.Round,
		vote.Type,
		vote.Hash.TerminalString(),
		vote.Timestamp,
	)
}
