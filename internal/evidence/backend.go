package evidence

import (
	"github.com/reinetwork/reimint/types"
)

// LoadOptions describes a scan over pending evidence. From and To are
// inclusive heights.
type LoadOptions struct {
	From    uint64
	To      uint64
	Reverse bool

	// OnData is called for every item in height order (descending when
	// Reverse is set). Returning true stops the scan.
	OnData func(ev types.Evidence) (stop bool)
}

// Backend is the persistent store behind a Pool. It is the authority on
// which evidence is pending or committed.
type Backend interface {
	IsCommitted(ev types.Evidence) (bool, error)
	IsPending(ev types.Evidence) (bool, error)

	AddPendingEvidence(ev types.Evidence) error
	AddCommittedEvidence(ev types.Evidence) error
	RemovePendingEvidence(ev types.Evidence) error

	LoadPendingEvidence(opts LoadOptions) error
}
