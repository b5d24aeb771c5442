package evidence

import (
	"fmt"
	"math"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/reinetwork/reimint/types"
)

// key prefixes
// NB: prefixes are unique across all reimint db's
const (
	prefixCommitted = int64(9)
	prefixPending   = int64(10)
)

// Store is a Backend over a tm-db database. Keys are
// (prefix, height, hash) so that pending evidence is ordered by height.
type Store struct {
	db dbm.DB
}

var _ Backend = (*Store)(nil)

// NewStore returns a Store over db.
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

// IsCommitted returns true if the evidence was marked as committed.
func (s *Store) IsCommitted(ev types.Evidence) (bool, error) {
	return s.db.Has(keyCommitted(ev))
}

// IsPending returns true if the evidence awaits inclusion in a block.
func (s *Store) IsPending(ev types.Evidence) (bool, error) {
	return s.db.Has(keyPending(ev))
}

// AddPendingEvidence persists ev as pending.
func (s *Store) AddPendingEvidence(ev types.Evidence) error {
	if err := s.db.Set(keyPending(ev), ev.Bytes()); err != nil {
		return fmt.Errorf("failed to persist evidence: %w", err)
	}
	return nil
}

// AddCommittedEvidence marks ev as committed. It does not touch the pending
// entry.
func (s *Store) AddCommittedEvidence(ev types.Evidence) error {
	if err := s.db.SetSync(keyCommitted(ev), ev.Bytes()); err != nil {
		return fmt.Errorf("failed to save committed evidence: %w", err)
	}
	return nil
}

// RemovePendingEvidence deletes the pending entry of ev.
func (s *Store) RemovePendingEvidence(ev types.Evidence) error {
	if err := s.db.Delete(keyPending(ev)); err != nil {
		return fmt.Errorf("failed to delete pending evidence: %w", err)
	}
	return nil
}

// LoadPendingEvidence iterates over pending evidence with heights in
// [opts.From, opts.To].
func (s *Store) LoadPendingEvidence(opts LoadOptions) error {
	if opts.From > opts.To {
		return nil
	}

	start := keyHeight(prefixPending, opts.From)
	var end []byte
	if opts.To == math.MaxUint64 {
		end = prefixToBytes(prefixPending + 1)
	} else {
		end = keyHeight(prefixPending, opts.To+1)
	}

	var (
		iter dbm.Iterator
		err  error
	)
	if opts.Reverse {
		iter, err = s.db.ReverseIterator(start, end)
	} else {
		iter, err = s.db.Iterator(start, end)
	}
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		ev, err := types.EvidenceFromBytes(iter.Value())
		if err != nil {
			return fmt.Errorf("failed to decode pending evidence: %w", err)
		}
		if opts.OnData != nil && opts.OnData(ev) {
			break
		}
	}
	return iter.Error()
}

func prefixToBytes(prefix int64) []byte {
	key, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(err)
	}
	return key
}

func keyHeight(prefix int64, height uint64) []byte {
	key, err := orderedcode.Append(nil, prefix, height)
	if err != nil {
		panic(err)
	}
	return key
}

func keyCommitted(evidence types.Evidence) []byte {
	return keyEvidence(prefixCommitted, evidence)
}

func keyPending(evidence types.Evidence) []byte {
	return keyEvidence(prefixPending, evidence)
}

func keyEvidence(prefix int64, evidence types.Evidence) []byte {
	hash := evidence.Hash()
	key, err := orderedcode.Append(nil, prefix, evidence.Height(), string(hash.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}
