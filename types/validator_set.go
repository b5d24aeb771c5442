package types

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxTotalVotingPower - the maximum allowed total voting power.
	// It needs to be sufficiently small to, in all cases:
	// 1. prevent overflow in incrementProposerPriority()
	// 2. let (diff+diffMax-1) not overflow in IncrementProposerPriority()
	// (Proof of 1 is tricky, left to the reader).
	// It could be higher, but this is sufficiently large for our purposes,
	// and leaves room for defensive purposes.
	MaxTotalVotingPower = int64(math.MaxInt64) / 8

	// PriorityWindowSizeFactor - is a constant that when multiplied with the
	// total voting power gives the maximum allowed distance between validator
	// priorities.
	PriorityWindowSizeFactor = 2
)

// ValidatorSet represent the active set of *Validator at a given height.
//
// The validators can be fetched by address or index.
// The index is in order of .VotingPower, so the indices are fixed for all
// rounds of a given blockchain height - ie. the validators are sorted by their
// voting power (descending). Secondary index - .Address (ascending).
//
// On the other hand, the .ProposerPriority of each validator and the
// designated .GetProposer() of a set changes every round, upon calling
// .IncrementProposerPriority().
//
// A set whose members all have zero voting power (a chain running on its
// genesis validators only) schedules every member with unit weight.
//
// NOTE: Not goroutine-safe.
// NOTE: All get/set to validators should copy the value for safety.
type ValidatorSet struct {
	Validators []*Validator
	Proposer   *Validator

	// cached (unexported)
	totalVotingPower int64
}

// NewValidatorSet initializes a ValidatorSet by copying over the values from
// `valz`, a list of Validators, and selects the first proposer. Incoming
// priorities are ignored. If valz is nil or empty, the new ValidatorSet will
// have an empty list of Validators.
//
// The addresses of validators in `valz` must be unique.
func NewValidatorSet(valz []*Validator) (*ValidatorSet, error) {
	vals := &ValidatorSet{}
	if len(valz) == 0 {
		return vals, nil
	}

	members, err := validateMembers(valz)
	if err != nil {
		return nil, err
	}
	if err := computeNewPriorities(members, vals, sumVotingPower(members)); err != nil {
		return nil, err
	}
	vals.Validators = members
	sort.Sort(ValidatorsByVotingPower(vals.Validators))
	vals.updateTotalVotingPower()

	if err := vals.IncrementProposerPriority(1); err != nil {
		return nil, err
	}
	return vals, nil
}

// NewActiveValidatorSet derives the active set from the indexed set: the top
// maxCount validators by voting power (ties broken by address), padded with
// genesis validators at zero voting power while the set has fewer members
// than there are genesis validators.
func NewActiveValidatorSet(indexed *IndexedValidatorSet, maxCount int, genesis []common.Address) (*ValidatorSet, error) {
	members, err := selectActiveValidators(indexed, maxCount, genesis)
	if err != nil {
		return nil, err
	}
	return NewValidatorSet(members)
}

func selectActiveValidators(indexed *IndexedValidatorSet, maxCount int, genesis []common.Address) ([]*Validator, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("max validators count must be positive, got %d", maxCount)
	}

	list := indexed.List()
	if len(list) > maxCount {
		list = list[:maxCount]
	}

	members := make([]*Validator, 0, len(list))
	present := make(map[common.Address]struct{}, len(list))
	for _, val := range list {
		members = append(members, NewValidator(val.Address, val.VotingPower))
		present[val.Address] = struct{}{}
	}

	target := len(genesis)
	if target > maxCount {
		target = maxCount
	}
	if len(members) < target {
		sorted := make([]*Validator, 0, len(genesis))
		for _, addr := range genesis {
			if _, ok := present[addr]; ok {
				continue
			}
			present[addr] = struct{}{}
			sorted = append(sorted, NewValidator(addr, 0))
		}
		sort.Sort(ValidatorsByAddress(sorted))
		for _, val := range sorted {
			if len(members) >= target {
				break
			}
			members = append(members, val)
		}
	}
	return members, nil
}

func validateMembers(valz []*Validator) ([]*Validator, error) {
	seen := make(map[common.Address]struct{}, len(valz))
	members := validatorListCopy(valz)
	var total int64
	for _, val := range members {
		if err := val.ValidateBasic(); err != nil {
			return nil, fmt.Errorf("invalid validator %v: %w", val, err)
		}
		if _, ok := seen[val.Address]; ok {
			return nil, fmt.Errorf("duplicate validator %v", val.Address.Hex())
		}
		seen[val.Address] = struct{}{}

		total += val.VotingPower
		if total > MaxTotalVotingPower {
			return nil, ErrTotalVotingPowerOverflow
		}
	}
	return members, nil
}

// ValidateBasic checks every member and the proposer.
func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}

	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
	}

	if err := vals.Proposer.ValidateBasic(); err != nil {
		return fmt.Errorf("proposer failed validate basic, error: %w", err)
	}

	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// CopyIncrementProposerPriority increments ProposerPriority and updates the
// proposer on a copy, and returns it.
func (vals *ValidatorSet) CopyIncrementProposerPriority(times int32) (*ValidatorSet, error) {
	copy := vals.Copy()
	if err := copy.IncrementProposerPriority(times); err != nil {
		return nil, err
	}
	return copy, nil
}

// IncrementProposerPriority increments ProposerPriority of each validator and
// updates the proposer. `times` must be positive. On error the priorities
// may have been partially updated; callers working on a shared set should
// use CopyIncrementProposerPriority.
func (vals *ValidatorSet) IncrementProposerPriority(times int32) error {
	if vals.IsNilOrEmpty() {
		return ErrEmptyValidatorSet
	}
	if times <= 0 {
		return errors.New("cannot call IncrementProposerPriority with non-positive times")
	}

	// Cap the difference between priorities to be proportional to 2*totalPower by
	// re-normalizing priorities, i.e., rescale all priorities by multiplying with:
	//  2*totalVotingPower/(maxPriority - minPriority)
	diffMax := PriorityWindowSizeFactor * vals.schedulingTotal()
	vals.RescalePriorities(diffMax)
	if err := vals.shiftByAvgProposerPriority(); err != nil {
		return err
	}

	var proposer *Validator
	// Call IncrementProposerPriority(1) times times.
	for i := int32(0); i < times; i++ {
		var err error
		proposer, err = vals.incrementProposerPriority()
		if err != nil {
			return err
		}
	}

	vals.Proposer = proposer
	return nil
}

// RescalePriorities rescales the priorities such that the distance between the
// maximum and minimum is smaller than `diffMax`. Does nothing on an empty set.
func (vals *ValidatorSet) RescalePriorities(diffMax int64) {
	if vals.IsNilOrEmpty() {
		return
	}
	// NOTE: This check is merely a sanity check which could be
	// removed if all tests would init. voting power appropriately;
	// i.e. diffMax should always be > 0
	if diffMax <= 0 {
		return
	}

	// Calculating ceil(diff/diffMax):
	// Re-normalization is performed by dividing by an integer for simplicity.
	// NOTE: This may make debugging priority issues easier as well.
	diff := computeMaxMinPriorityDiff(vals)
	ratio := diff / diffMax
	if diff%diffMax != 0 {
		ratio++
	}
	if diff > diffMax && ratio != 0 {
		for _, val := range vals.Validators {
			val.ProposerPriority /= ratio
		}
	}
}

func (vals *ValidatorSet) incrementProposerPriority() (*Validator, error) {
	for _, val := range vals.Validators {
		newPrio, overflow := safeAdd(val.ProposerPriority, vals.schedulingPower(val))
		if overflow {
			return nil, fmt.Errorf("%w: incrementing %v", ErrPriorityOverflow, val.Address.Hex())
		}
		val.ProposerPriority = newPrio
	}
	// Decrement the validator with most ProposerPriority.
	mostest := vals.getValWithMostPriority()
	// Mind the underflow.
	newPrio, overflow := safeSub(mostest.ProposerPriority, vals.schedulingTotal())
	if overflow {
		return nil, fmt.Errorf("%w: decrementing %v", ErrPriorityOverflow, mostest.Address.Hex())
	}
	mostest.ProposerPriority = newPrio

	return mostest, nil
}

// schedulingPower is the weight a validator advances by each round.
func (vals *ValidatorSet) schedulingPower(val *Validator) int64 {
	if vals.TotalVotingPower() == 0 {
		return 1
	}
	return val.VotingPower
}

func (vals *ValidatorSet) schedulingTotal() int64 {
	if total := vals.TotalVotingPower(); total != 0 {
		return total
	}
	return int64(len(vals.Validators))
}

// Should not be called on an empty validator set.
func (vals *ValidatorSet) computeAvgProposerPriority() int64 {
	n := int64(len(vals.Validators))
	sum := big.NewInt(0)
	for _, val := range vals.Validators {
		sum.Add(sum, big.NewInt(val.ProposerPriority))
	}
	avg := sum.Div(sum, big.NewInt(n))
	if avg.IsInt64() {
		return avg.Int64()
	}

	// This should never happen: each val.ProposerPriority is in bounds of int64.
	panic(fmt.Sprintf("Cannot represent avg ProposerPriority as an int64 %v", avg))
}

// Compute the difference between the max and min ProposerPriority of that set.
func computeMaxMinPriorityDiff(vals *ValidatorSet) int64 {
	max := int64(math.MinInt64)
	min := int64(math.MaxInt64)
	for _, v := range vals.Validators {
		if v.ProposerPriority < min {
			min = v.ProposerPriority
		}
		if v.ProposerPriority > max {
			max = v.ProposerPriority
		}
	}
	diff, overflow := safeSub(max, min)
	if overflow {
		return math.MaxInt64
	}
	return diff
}

func (vals *ValidatorSet) getValWithMostPriority() *Validator {
	var res *Validator
	for _, val := range vals.Validators {
		res = res.CompareProposerPriority(val)
	}
	return res
}

func (vals *ValidatorSet) shiftByAvgProposerPriority() error {
	avgProposerPriority := vals.computeAvgProposerPriority()
	for _, val := range vals.Validators {
		newPrio, overflow := safeSub(val.ProposerPriority, avgProposerPriority)
		if overflow {
			return fmt.Errorf("%w: centering %v", ErrPriorityOverflow, val.Address.Hex())
		}
		val.ProposerPriority = newPrio
	}
	return nil
}

// Makes a copy of the validator list.
func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

// Copy each validator into a new ValidatorSet.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	var proposer *Validator
	if vals.Proposer != nil {
		proposer = vals.Proposer.Copy()
	}
	return &ValidatorSet{
		Validators:       validatorListCopy(vals.Validators),
		Proposer:         proposer,
		totalVotingPower: vals.totalVotingPower,
	}
}

// HasAddress returns true if address given is in the validator set, false -
// otherwise.
func (vals *ValidatorSet) HasAddress(address common.Address) bool {
	idx, _ := vals.GetByAddress(address)
	return idx != -1
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address common.Address) (index int32, val *Validator) {
	for idx, val := range vals.Validators {
		if val.Address == address {
			return int32(idx), val.Copy()
		}
	}
	return -1, nil
}

// GetByIndex returns the validator's address and validator itself (copy) by
// index.
// It returns nil values if index is greater or equal to
// len(ValidatorSet.Validators).
func (vals *ValidatorSet) GetByIndex(index uint32) (address common.Address, val *Validator) {
	if int64(index) >= int64(len(vals.Validators)) {
		return common.Address{}, nil
	}
	val = vals.Validators[index]
	return val.Address, val.Copy()
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// Forces recalculation of the set's total voting power.
// Panics if total voting power is bigger than MaxTotalVotingPower.
func (vals *ValidatorSet) updateTotalVotingPower() {
	sum := sumVotingPower(vals.Validators)
	if sum > MaxTotalVotingPower {
		panic(fmt.Sprintf(
			"Total voting power should be guarded to not exceed %v; got: %v",
			MaxTotalVotingPower,
			sum))
	}
	vals.totalVotingPower = sum
}

func sumVotingPower(valz []*Validator) int64 {
	sum := int64(0)
	for _, val := range valz {
		// members are validated against MaxTotalVotingPower, so this cannot wrap
		sum += val.VotingPower
	}
	return sum
}

// TotalVotingPower returns the sum of the voting powers of all validators.
// It recomputes the total voting power if required.
func (vals *ValidatorSet) TotalVotingPower() int64 {
	if vals.totalVotingPower == 0 {
		vals.updateTotalVotingPower()
	}
	return vals.totalVotingPower
}

// GetProposer returns the current proposer. If the validator set is empty, nil
// is returned.
func (vals *ValidatorSet) GetProposer() (proposer *Validator) {
	if len(vals.Validators) == 0 {
		return nil
	}
	if vals.Proposer == nil {
		vals.Proposer = vals.findProposer()
	}
	return vals.Proposer.Copy()
}

func (vals *ValidatorSet) findProposer() *Validator {
	var proposer *Validator
	for _, val := range vals.Validators {
		if proposer == nil || val.Address != proposer.Address {
			proposer = proposer.CompareProposerPriority(val)
		}
	}
	return proposer
}

// Iterate will run the given function over the set.
func (vals *ValidatorSet) Iterate(fn func(index int, val *Validator) bool) {
	for i, val := range vals.Validators {
		stop := fn(i, val.Copy())
		if stop {
			break
		}
	}
}

// computeNewPriorities sets the proposer priority of every validator in
// 'updates'. Members already in 'vals' keep their priority. New members start
// one average step, ceil(updatedTotalVotingPower/len(updates)), below the
// lowest surviving priority, so they can neither jump the queue nor reset a
// negative priority by leaving and rejoining. Without survivors every member
// starts at zero.
//
// No changes are made to the validator set 'vals'.
func computeNewPriorities(updates []*Validator, vals *ValidatorSet, updatedTotalVotingPower int64) error {
	if len(updates) == 0 {
		return nil
	}

	survivors := 0
	minPriority := int64(math.MaxInt64)
	for _, valUpdate := range updates {
		if _, val := vals.GetByAddress(valUpdate.Address); val != nil {
			valUpdate.ProposerPriority = val.ProposerPriority
			survivors++
			if val.ProposerPriority < minPriority {
				minPriority = val.ProposerPriority
			}
		}
	}

	seed := int64(0)
	if survivors > 0 {
		n := int64(len(updates))
		if updatedTotalVotingPower == 0 {
			// unit weights
			updatedTotalVotingPower = n
		}
		step := (updatedTotalVotingPower + n - 1) / n
		var overflow bool
		seed, overflow = safeSub(minPriority, step)
		if overflow {
			return fmt.Errorf("%w: seeding new validators", ErrPriorityOverflow)
		}
	}

	for _, valUpdate := range updates {
		if !vals.HasAddress(valUpdate.Address) {
			valUpdate.ProposerPriority = seed
		}
	}
	return nil
}

// UpdateWithIndexedSet re-derives the active set from indexed. Validators
// which stay in the set keep their priority, new ones are seeded by
// computeNewPriorities, then priorities are rescaled and re-centered. If an
// error is returned the set is not changed.
func (vals *ValidatorSet) UpdateWithIndexedSet(indexed *IndexedValidatorSet, maxCount int, genesis []common.Address) error {
	members, err := selectActiveValidators(indexed, maxCount, genesis)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return errors.New("applying the validator changes would result in empty set")
	}
	if members, err = validateMembers(members); err != nil {
		return err
	}
	if err := computeNewPriorities(members, vals, sumVotingPower(members)); err != nil {
		return err
	}

	next := &ValidatorSet{Validators: members}
	sort.Sort(ValidatorsByVotingPower(next.Validators))
	next.updateTotalVotingPower()

	// Scale and center.
	next.RescalePriorities(PriorityWindowSizeFactor * next.schedulingTotal())
	if err := next.shiftByAvgProposerPriority(); err != nil {
		return err
	}

	vals.Validators = next.Validators
	vals.totalVotingPower = next.totalVotingPower
	vals.Proposer = nil
	return nil
}

// String returns a string representation of ValidatorSet.
//
// See StringIndented.
func (vals *ValidatorSet) String() string {
	return vals.StringIndented("")
}

// StringIndented returns an intended String.
//
// See Validator#String.
func (vals *ValidatorSet) StringIndented(indent string) string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	vals.Iterate(func(index int, val *Validator) bool {
		valStrings = append(valStrings, val.String())
		return false
	})
	return fmt.Sprintf(`ValidatorSet{
%s  Proposer: %v
%s  Validators:
%s    %v
%s}`,
		indent, vals.GetProposer().String(),
		indent,
		indent, strings.Join(valStrings, "\n"+indent+"    "),
		indent)

}

// safe addition/subtraction

func safeAdd(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return -1, true
	} else if b < 0 && a < math.MinInt64-b {
		return -1, true
	}
	return a + b, false
}

func safeSub(a, b int64) (int64, bool) {
	if b > 0 && a < math.MinInt64+b {
		return -1, true
	} else if b < 0 && a > math.MaxInt64+b {
		return -1, true
	}
	return a - b, false
}
