package types

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyValidatorSet is returned by operations which need at least one
	// validator.
	ErrEmptyValidatorSet = errors.New("empty validator set")

	// ErrPriorityOverflow is returned when proposer priority arithmetic would
	// leave the int64 range.
	ErrPriorityOverflow = errors.New("proposer priority overflow")

	// ErrTotalVotingPowerOverflow is returned if the total voting power of the
	// resulting validator set exceeds MaxTotalVotingPower.
	ErrTotalVotingPowerOverflow = fmt.Errorf("total voting power of resulting valset exceeds max %d",
		MaxTotalVotingPower)

	ErrVoteInvalidSignature        = errors.New("invalid signature")
	ErrVoteInvalidValidatorAddress = errors.New("invalid validator address")
	ErrVoteInvalidChainID          = errors.New("invalid chain id")
)

// ErrVoteConflictingVotes is returned when a validator signed two different
// votes for the same height, round and type.
type ErrVoteConflictingVotes struct {
	VoteA *Vote
	VoteB *Vote
}

func (err *ErrVoteConflictingVotes) Error() string {
	return fmt.Sprintf("conflicting votes from validator %d", err.VoteA.Index)
}

// NewConflictingVoteError returns the error carrying both votes.
func NewConflictingVoteError(vote1, vote2 *Vote) *ErrVoteConflictingVotes {
	return &ErrVoteConflictingVotes{
		VoteA: vote1,
		VoteB: vote2,
	}
}
