package types

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// IndexedValidator is the staking view of a validator.
type IndexedValidator struct {
	Address        common.Address
	VotingPower    int64
	CommissionRate uint64
}

// IndexedValidatorSet holds every validator with a positive voting power,
// keyed by address.
//
// NOTE: Not goroutine-safe.
type IndexedValidatorSet struct {
	indexed map[common.Address]*IndexedValidator
}

// NewIndexedValidatorSet copies vals into a new set, skipping entries without
// voting power. For duplicate addresses the last entry wins.
func NewIndexedValidatorSet(vals []*IndexedValidator) *IndexedValidatorSet {
	set := &IndexedValidatorSet{indexed: make(map[common.Address]*IndexedValidator, len(vals))}
	for _, val := range vals {
		if val.VotingPower <= 0 {
			delete(set.indexed, val.Address)
			continue
		}
		valCopy := *val
		set.indexed[val.Address] = &valCopy
	}
	return set
}

// Get returns a copy of the validator with the given address.
func (set *IndexedValidatorSet) Get(address common.Address) (*IndexedValidator, bool) {
	val, ok := set.indexed[address]
	if !ok {
		return nil, false
	}
	valCopy := *val
	return &valCopy, true
}

// Size returns the number of indexed validators.
func (set *IndexedValidatorSet) Size() int {
	return len(set.indexed)
}

// Copy returns a deep copy of the set.
func (set *IndexedValidatorSet) Copy() *IndexedValidatorSet {
	setCopy := &IndexedValidatorSet{indexed: make(map[common.Address]*IndexedValidator, len(set.indexed))}
	for addr, val := range set.indexed {
		valCopy := *val
		setCopy.indexed[addr] = &valCopy
	}
	return setCopy
}

// List returns copies of all validators sorted by voting power (descending),
// then address (ascending).
func (set *IndexedValidatorSet) List() []*IndexedValidator {
	list := make([]*IndexedValidator, 0, len(set.indexed))
	for _, val := range set.indexed {
		valCopy := *val
		list = append(list, &valCopy)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].VotingPower == list[j].VotingPower {
			return bytes.Compare(list[i].Address.Bytes(), list[j].Address.Bytes()) < 0
		}
		return list[i].VotingPower > list[j].VotingPower
	})
	return list
}

// Merge applies one block's changes. Changes are absolute, so merging the
// same changes twice leaves the set as merging them once, and the result
// does not depend on the order the changes were recorded in.
func (set *IndexedValidatorSet) Merge(changes *ValidatorChanges) {
	for _, vc := range changes.changes {
		if vc.Unindexed {
			delete(set.indexed, vc.Address)
			continue
		}

		val, ok := set.indexed[vc.Address]
		if !ok {
			val = &IndexedValidator{Address: vc.Address}
		}
		if vc.powerChanged {
			val.VotingPower = vc.VotingPower
		}
		if vc.rateChanged {
			val.CommissionRate = vc.CommissionRate
		}

		if val.VotingPower <= 0 {
			delete(set.indexed, vc.Address)
			continue
		}
		set.indexed[vc.Address] = val
	}
}
