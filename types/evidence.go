package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/reinetwork/reimint/libs/registry"
)

// Evidence represents any provable malicious activity by a validator.
// Verification logic for each evidence is part of the evidence module.
type Evidence interface {
	Bytes() []byte                                     // serialized form, rlp([code, evidence])
	Hash() common.Hash                                 // hash of the evidence
	Height() uint64                                    // height of the infraction
	String() string                                    // string format of the evidence
	ValidateBasic() error                              // basic consistency check
	Verify(chainID uint64, valSet *ValidatorSet) error // check against the validator set
}

const (
	// DuplicateVoteEvidenceCode is the registry code of DuplicateVoteEvidence.
	DuplicateVoteEvidenceCode uint64 = 0
)

var evidenceRegistry = NewEvidenceRegistry()

// NewEvidenceRegistry returns the registry of every evidence type.
func NewEvidenceRegistry() *registry.Registry {
	r := registry.New("evidence")
	r.MustRegister(DuplicateVoteEvidenceCode, func() registry.Message { return &DuplicateVoteEvidence{} })
	return r
}

// EvidenceToBytes serializes ev through the evidence registry.
func EvidenceToBytes(ev Evidence) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil evidence")
	}
	msg, ok := ev.(registry.Message)
	if !ok {
		return nil, fmt.Errorf("evidence is not recognized: %T", ev)
	}
	return evidenceRegistry.Serialize(msg)
}

// EvidenceFromBytes decodes evidence produced by EvidenceToBytes and checks
// it with ValidateBasic.
func EvidenceFromBytes(bz []byte) (Evidence, error) {
	msg, err := evidenceRegistry.Deserialize(bz)
	if err != nil {
		return nil, err
	}
	ev, ok := msg.(Evidence)
	if !ok {
		return nil, fmt.Errorf("evidence is not recognized: %T", msg)
	}
	return ev, nil
}

//--------------------------------------------------------------------------------------

// DuplicateVoteEvidence contains evidence of a single validator signing two
// conflicting votes. VoteA carries the smaller block hash.
type DuplicateVoteEvidence struct {
	VoteA *Vote
	VoteB *Vote
}

var _ Evidence = &DuplicateVoteEvidence{}

// NewDuplicateVoteEvidence creates DuplicateVoteEvidence with right ordering
// given two conflicting votes in any order, and validates it.
func NewDuplicateVoteEvidence(vote1, vote2 *Vote) (*DuplicateVoteEvidence, error) {
	if vote1 == nil || vote2 == nil {
		return nil, errors.New("missing vote")
	}

	var voteA, voteB *Vote
	if bytes.Compare(vote1.Hash.Bytes(), vote2.Hash.Bytes()) < 0 {
		voteA, voteB = vote1, vote2
	} else {
		voteA, voteB = vote2, vote1
	}

	dve := &DuplicateVoteEvidence{
		VoteA: voteA.Copy(),
		VoteB: voteB.Copy(),
	}
	if err := dve.ValidateBasic(); err != nil {
		return nil, err
	}
	return dve, nil
}

// Bytes returns the registry encoding of the evidence.
func (dve *DuplicateVoteEvidence) Bytes() []byte {
	bz, err := EvidenceToBytes(dve)
	if err != nil {
		panic(err)
	}
	return bz
}

// Hash returns the hash of the evidence.
func (dve *DuplicateVoteEvidence) Hash() common.Hash {
	return crypto.Keccak256Hash(dve.Bytes())
}

// Height returns the height of the infraction
func (dve *DuplicateVoteEvidence) Height() uint64 {
	return dve.VoteA.Height
}

// String returns a string representation of the evidence.
func (dve *DuplicateVoteEvidence) String() string {
	return fmt.Sprintf("DuplicateVoteEvidence{VoteA: %v, VoteB: %v}", dve.VoteA, dve.VoteB)
}

// ValidateBasic performs basic validation.
func (dve *DuplicateVoteEvidence) ValidateBasic() error {
	if dve == nil {
		return errors.New("empty duplicate vote evidence")
	}

	if dve.VoteA == nil || dve.VoteB == nil {
		return fmt.Errorf("one or both of the votes are empty %v, %v", dve.VoteA, dve.VoteB)
	}
	if err := dve.VoteA.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid VoteA: %w", err)
	}
	if err := dve.VoteB.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid VoteB: %w", err)
	}

	a, b := dve.VoteA, dve.VoteB
	if a.ChainID != b.ChainID ||
		a.Height != b.Height ||
		a.Round != b.Round ||
		a.Type != b.Type ||
		a.Index != b.Index {
		return fmt.Errorf("votes do not conflict: %v, %v", a, b)
	}
	// Enforce Votes are lexicographically sorted on hash
	if bytes.Compare(a.Hash.Bytes(), b.Hash.Bytes()) >= 0 {
		return errors.New("duplicate votes in invalid order")
	}

	signerA, err := a.Validator()
	if err != nil {
		return fmt.Errorf("invalid VoteA: %w", err)
	}
	signerB, err := b.Validator()
	if err != nil {
		return fmt.Errorf("invalid VoteB: %w", err)
	}
	if signerA != signerB {
		return fmt.Errorf("votes signed by different validators %v and %v", signerA.Hex(), signerB.Hex())
	}
	return nil
}

// Verify checks that both votes belong to chainID and were signed by the
// validator sitting at the votes' index in valSet.
func (dve *DuplicateVoteEvidence) Verify(chainID uint64, valSet *ValidatorSet) error {
	if dve.VoteA.ChainID != chainID {
		return ErrVoteInvalidChainID
	}
	addr, val := valSet.GetByIndex(dve.VoteA.Index)
	if val == nil {
		return fmt.Errorf("validator index %d not in the set of size %d", dve.VoteA.Index, valSet.Size())
	}
	if err := dve.VoteA.Verify(chainID, addr); err != nil {
		return fmt.Errorf("verifying VoteA: %w", err)
	}
	if err := dve.VoteB.Verify(chainID, addr); err != nil {
		return fmt.Errorf("verifying VoteB: %w", err)
	}
	return nil
}

//------------------------------------------------------------------------------------------

// EvidenceList is a list of Evidence. Evidences is not a word.
type EvidenceList []Evidence

func (evl EvidenceList) String() string {
	s := ""
	for _, e := range evl {
		s += fmt.Sprintf("%s\t\t", e)
	}
	return s
}

// Has returns true if the evidence is in the EvidenceList.
func (evl EvidenceList) Has(evidence Evidence) bool {
	hash := evidence.Hash()
	for _, ev := range evl {
		if ev.Hash() == hash {
			return true
		}
	}
	return false
}

//-------------------------------------------- ERRORS --------------------------------------

// ErrInvalidEvidence wraps a piece of evidence and the error denoting how or why it is invalid.
type ErrInvalidEvidence struct {
	Evidence Evidence
	Reason   error
}

// NewErrInvalidEvidence returns a new EvidenceInvalid with the given err.
func NewErrInvalidEvidence(ev Evidence, err error) *ErrInvalidEvidence {
	return &ErrInvalidEvidence{ev, err}
}

// Error returns a string representation of the error.
func (err *ErrInvalidEvidence) Error() string {
	return fmt.Sprintf("Invalid evidence: %v. Evidence: %v", err.Reason, err.Evidence)
}

// Unwrap returns the reason.
func (err *ErrInvalidEvidence) Unwrap() error {
	return err.Reason
}
