package types

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ValidatorChange is the net effect of one block's staking events on a single
// validator. Values are absolute, so applying a change twice is the same as
// applying it once.
type ValidatorChange struct {
	Address        common.Address
	VotingPower    int64
	CommissionRate uint64
	Unindexed      bool

	powerChanged bool
	rateChanged  bool
}

// PowerChanged reports whether the change carries a new voting power.
func (vc *ValidatorChange) PowerChanged() bool { return vc.powerChanged }

// RateChanged reports whether the change carries a new commission rate.
func (vc *ValidatorChange) RateChanged() bool { return vc.rateChanged }

// ValidatorChanges accumulates the staking events observed in a block's
// receipts. Later events for the same address overwrite earlier ones.
type ValidatorChanges struct {
	changes map[common.Address]*ValidatorChange
}

// NewValidatorChanges returns an empty accumulator.
func NewValidatorChanges() *ValidatorChanges {
	return &ValidatorChanges{changes: make(map[common.Address]*ValidatorChange)}
}

func (vcs *ValidatorChanges) get(address common.Address) *ValidatorChange {
	vc, ok := vcs.changes[address]
	if !ok {
		vc = &ValidatorChange{Address: address}
		vcs.changes[address] = vc
	}
	return vc
}

// Stake records the validator's voting power after a stake event.
func (vcs *ValidatorChanges) Stake(address common.Address, votingPower int64) {
	vc := vcs.get(address)
	vc.Unindexed = false
	vc.VotingPower = votingPower
	vc.powerChanged = true
}

// Unstake records the validator's voting power after an unstake event.
func (vcs *ValidatorChanges) Unstake(address common.Address, votingPower int64) {
	vcs.Stake(address, votingPower)
}

// SetCommissionRate records a commission rate change.
func (vcs *ValidatorChanges) SetCommissionRate(address common.Address, rate uint64) {
	vc := vcs.get(address)
	vc.CommissionRate = rate
	vc.rateChanged = true
}

// Unindex records that the validator leaves the index altogether.
func (vcs *ValidatorChanges) Unindex(address common.Address) {
	vc := vcs.get(address)
	vc.Unindexed = true
	vc.VotingPower = 0
	vc.powerChanged = false
	vc.rateChanged = false
}

// Len returns the number of validators touched.
func (vcs *ValidatorChanges) Len() int {
	return len(vcs.changes)
}

// List returns copies of the changes sorted by address.
func (vcs *ValidatorChanges) List() []*ValidatorChange {
	list := make([]*ValidatorChange, 0, len(vcs.changes))
	for _, vc := range vcs.changes {
		vcCopy := *vc
		list = append(list, &vcCopy)
	}
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].Address.Bytes(), list[j].Address.Bytes()) < 0
	})
	return list
}
