package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/reinetwork/reimint/libs/log"
	"github.com/reinetwork/reimint/types"
)

var (
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("evidence pool already initialized")
	// ErrInvalidPickHeight is returned by PickEvidence for height 0.
	ErrInvalidPickHeight = errors.New("invalid height 0")
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Evidence is expired once the chain is this many blocks past its height.
	MaxAgeNumBlocks uint64
	// Number of pending evidence mirrored in memory for gossip.
	MaxCacheSize int
}

// Pool maintains a pool of valid evidence to be broadcasted and committed.
//
// The backend is authoritative. The pool keeps a bounded FIFO mirror of the
// most recent pending evidence which may lag the backend. No method except
// Init proceeds until Init has completed.
type Pool struct {
	logger  log.Logger
	backend Backend
	metrics *Metrics

	maxAgeNumBlocks uint64
	maxCacheSize    int

	initialized chan struct{}

	mtx sync.Mutex
	// latest height
	height uint64
	// pending evidence below this height will have expired by the time the
	// chain reaches it; no sweep is needed before
	pruningHeight uint64
	// common.Hash -> types.Evidence, used strictly first in first out
	cache *simplelru.LRU
}

// NewPool creates an evidence pool over backend. Init must be called before
// the pool is used.
func NewPool(logger log.Logger, backend Backend, opts PoolOptions, metrics *Metrics) (*Pool, error) {
	if backend == nil {
		return nil, errors.New("nil evidence backend")
	}
	if opts.MaxAgeNumBlocks == 0 {
		return nil, errors.New("max age must be positive")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	cache, err := simplelru.NewLRU(opts.MaxCacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create evidence cache: %w", err)
	}

	return &Pool{
		logger:          logger,
		backend:         backend,
		metrics:         metrics,
		maxAgeNumBlocks: opts.MaxAgeNumBlocks,
		maxCacheSize:    opts.MaxCacheSize,
		initialized:     make(chan struct{}),
		cache:           cache,
	}, nil
}

// Init sets the current height, drops expired pending evidence and warms the
// cache with the most recent pending evidence, including evidence for the
// next height. It releases every call waiting for initialization.
func (evpool *Pool) Init(height uint64) error {
	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	select {
	case <-evpool.initialized:
		return ErrAlreadyInitialized
	default:
	}

	evpool.height = height
	evpool.pruningHeight = evpool.removeExpiredPendingEvidence()

	var (
		recent []types.Evidence
		from   uint64
	)
	if height >= evpool.maxAgeNumBlocks {
		from = height - evpool.maxAgeNumBlocks + 1
	}
	err := evpool.backend.LoadPendingEvidence(LoadOptions{
		From:    from,
		To:      height + 1,
		Reverse: true,
		OnData: func(ev types.Evidence) bool {
			recent = append(recent, ev)
			return len(recent) >= evpool.maxCacheSize
		},
	})
	if err != nil {
		evpool.logger.Error("failed to load pending evidence", "err", err)
	}
	// oldest first
	for i := len(recent) - 1; i >= 0; i-- {
		evpool.addToCache(recent[i])
	}

	evpool.logger.Info("initialized evidence pool",
		"height", height,
		"pruning_height", evpool.pruningHeight,
		"cached", evpool.cache.Len())
	close(evpool.initialized)
	return nil
}

func (evpool *Pool) waitForInit(ctx context.Context) error {
	select {
	case <-evpool.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Height returns the current height of the pool once it is initialized.
func (evpool *Pool) Height(ctx context.Context) (uint64, error) {
	if err := evpool.waitForInit(ctx); err != nil {
		return 0, err
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()
	return evpool.height, nil
}

// IsExpired checks whether evidence is too old relative to the current height.
// It blocks until the pool is initialized.
func (evpool *Pool) IsExpired(ctx context.Context, ev types.Evidence) (bool, error) {
	if err := evpool.waitForInit(ctx); err != nil {
		return false, err
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()
	return evpool.isExpiredAt(ev, evpool.height), nil
}

// IsExpiredAt checks whether evidence is too old relative to height. It only
// depends on the configured max age, so it does not wait for Init.
func (evpool *Pool) IsExpiredAt(ev types.Evidence, height uint64) bool {
	return evpool.isExpiredAt(ev, height)
}

func (evpool *Pool) isExpiredAt(ev types.Evidence, height uint64) bool {
	evHeight := ev.Height()
	return height >= evHeight && height-evHeight >= evpool.maxAgeNumBlocks
}

// AddEvidence adds evidence detected locally or received from a peer. It
// returns false without an error if the evidence is expired, pending or
// committed already.
func (evpool *Pool) AddEvidence(ctx context.Context, ev types.Evidence) (bool, error) {
	if err := evpool.waitForInit(ctx); err != nil {
		return false, err
	}
	if err := ev.ValidateBasic(); err != nil {
		return false, types.NewErrInvalidEvidence(ev, err)
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	if evpool.isExpiredAt(ev, evpool.height) {
		evpool.logger.Debug("evidence is expired; ignoring", "evidence", ev, "height", evpool.height)
		return false, nil
	}

	// We have already verified this piece of evidence - no need to do it again
	pending, err := evpool.backend.IsPending(ev)
	if err != nil {
		return false, fmt.Errorf("failed to find pending evidence: %w", err)
	}
	if pending {
		evpool.logger.Debug("evidence already pending; ignoring", "evidence", ev)
		return false, nil
	}

	// check that the evidence isn't already committed
	committed, err := evpool.backend.IsCommitted(ev)
	if err != nil {
		return false, fmt.Errorf("failed to find committed evidence: %w", err)
	}
	if committed {
		// This can happen if the peer that sent us the evidence is behind so we
		// shouldn't punish the peer.
		evpool.logger.Debug("evidence was already committed; ignoring", "evidence", ev)
		return false, nil
	}

	if err := evpool.addPendingEvidence(ev); err != nil {
		return false, fmt.Errorf("failed to add evidence to pending list: %w", err)
	}

	evpool.logger.Info("added new evidence of byzantine behavior", "evidence", ev)
	return true, nil
}

// PickEvidence returns up to count pending evidence with a height in
// [height-maxAge, height-1], oldest first, for inclusion in the block at
// height. The backend is scanned instead of the cache; storage errors end the
// scan early.
func (evpool *Pool) PickEvidence(ctx context.Context, height uint64, count int) ([]types.Evidence, error) {
	if err := evpool.waitForInit(ctx); err != nil {
		return nil, err
	}
	if height == 0 {
		return nil, ErrInvalidPickHeight
	}

	evList := make([]types.Evidence, 0)
	if height == 1 || count <= 0 {
		return evList, nil
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	var from uint64
	if height > evpool.maxAgeNumBlocks {
		from = height - evpool.maxAgeNumBlocks
	}
	err := evpool.backend.LoadPendingEvidence(LoadOptions{
		From: from,
		To:   height - 1,
		OnData: func(ev types.Evidence) bool {
			evList = append(evList, ev)
			return len(evList) >= count
		},
	})
	if err != nil {
		evpool.logger.Error("failed to load pending evidence", "height", height, "err", err)
	}
	return evList, nil
}

// PendingEvidence returns the cached pending evidence, oldest first.
func (evpool *Pool) PendingEvidence(ctx context.Context) ([]types.Evidence, error) {
	if err := evpool.waitForInit(ctx); err != nil {
		return nil, err
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	keys := evpool.cache.Keys()
	evList := make([]types.Evidence, 0, len(keys))
	for _, key := range keys {
		if ev, ok := evpool.cache.Peek(key); ok {
			evList = append(evList, ev.(types.Evidence))
		}
	}
	return evList, nil
}

// Update advances the pool to height, which must be greater than the
// current one, marks the evidence of the committed block as committed and
// removes expired pending evidence once the pruning height is reached.
func (evpool *Pool) Update(ctx context.Context, committed types.EvidenceList, height uint64) error {
	if err := evpool.waitForInit(ctx); err != nil {
		return err
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	// sanity check
	if height <= evpool.height {
		panic(fmt.Sprintf(
			"failed EvidencePool.Update new height is less than or equal to previous height: %d <= %d",
			height,
			evpool.height,
		))
	}

	evpool.logger.Debug("updating evidence pool", "height", height, "committed", len(committed))
	evpool.height = height

	// move committed evidence out from the pending pool and into the committed pool
	evpool.markEvidenceAsCommitted(committed)

	// Prune pending evidence when it has expired. This also updates when the next
	// evidence will expire.
	if height >= evpool.pruningHeight {
		evpool.pruningHeight = evpool.removeExpiredPendingEvidence()
	}
	return nil
}

// CheckEvidence takes an array of evidence from a block and verifies all the
// evidence there. Evidence must be neither expired, from a future height nor
// committed, and the list must not carry the same evidence twice. Any failure
// rejects the whole list. Evidence which is not pending yet is added to the
// pool once the whole list is accepted.
func (evpool *Pool) CheckEvidence(ctx context.Context, evList types.EvidenceList) error {
	if err := evpool.waitForInit(ctx); err != nil {
		return err
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	var (
		hashes = make([]common.Hash, len(evList))
		unseen = make([]types.Evidence, 0, len(evList))
	)
	for idx, ev := range evList {
		if err := ev.ValidateBasic(); err != nil {
			return types.NewErrInvalidEvidence(ev, err)
		}
		if evpool.isExpiredAt(ev, evpool.height) {
			return types.NewErrInvalidEvidence(ev, errors.New("evidence is expired"))
		}
		if ev.Height() > evpool.height {
			return types.NewErrInvalidEvidence(ev, fmt.Errorf("evidence from future height %d, current height %d",
				ev.Height(), evpool.height))
		}

		committed, err := evpool.backend.IsCommitted(ev)
		if err != nil {
			return fmt.Errorf("failed to find committed evidence: %w", err)
		}
		if committed {
			return types.NewErrInvalidEvidence(ev, errors.New("evidence was already committed"))
		}

		// check for duplicate evidence. We cache hashes so we don't have to work them out again.
		hashes[idx] = ev.Hash()
		for i := idx - 1; i >= 0; i-- {
			if hashes[i] == hashes[idx] {
				return types.NewErrInvalidEvidence(ev, errors.New("duplicate evidence"))
			}
		}

		pending, err := evpool.backend.IsPending(ev)
		if err != nil {
			return fmt.Errorf("failed to find pending evidence: %w", err)
		}
		if !pending {
			unseen = append(unseen, ev)
		}
	}

	for _, ev := range unseen {
		if err := evpool.addPendingEvidence(ev); err != nil {
			// Something went wrong with adding the evidence but we already know it is valid
			// hence we log an error and continue
			evpool.logger.Error("failed to add evidence to pending list", "err", err, "evidence", ev)
			continue
		}
		evpool.logger.Info("check evidence: added evidence of byzantine behavior", "evidence", ev)
	}
	return nil
}

// CONTRACT: caller should hold evpool.mtx
func (evpool *Pool) addPendingEvidence(ev types.Evidence) error {
	if err := evpool.backend.AddPendingEvidence(ev); err != nil {
		return err
	}
	evpool.addToCache(ev)

	// evidence older than the pending evidence seen so far moves the next sweep
	// forward
	if expiry := ev.Height() + evpool.maxAgeNumBlocks; expiry < evpool.pruningHeight {
		evpool.pruningHeight = expiry
	}
	return nil
}

// markEvidenceAsCommitted processes all the evidence in the block, marking it as
// committed and removing it from the pending database.
func (evpool *Pool) markEvidenceAsCommitted(evList types.EvidenceList) {
	for _, ev := range evList {
		committed, err := evpool.backend.IsCommitted(ev)
		if err != nil {
			evpool.logger.Error("failed to find committed evidence", "err", err, "evidence", ev)
			continue
		}
		if committed {
			continue
		}

		if err := evpool.backend.AddCommittedEvidence(ev); err != nil {
			evpool.logger.Error("failed to save committed evidence", "err", err, "evidence", ev)
			continue
		}
		if err := evpool.backend.RemovePendingEvidence(ev); err != nil {
			evpool.logger.Error("failed to delete pending evidence", "err", err, "evidence", ev)
		}
		evpool.removeFromCache(ev)
		evpool.metrics.NumCommitted.Add(1)

		evpool.logger.Debug("marked evidence as committed", "evidence", ev)
	}
}

// removeExpiredPendingEvidence deletes expired pending evidence from the
// backend and the cache. It returns the height at which the oldest remaining
// pending evidence expires, or the next height if nothing is pending.
//
// CONTRACT: caller should hold evpool.mtx
func (evpool *Pool) removeExpiredPendingEvidence() uint64 {
	var (
		expired    []types.Evidence
		nextHeight = evpool.height + 1
	)
	err := evpool.backend.LoadPendingEvidence(LoadOptions{
		From: 0,
		To:   evpool.height,
		OnData: func(ev types.Evidence) bool {
			// if false, we have looped through all expired evidence
			if !evpool.isExpiredAt(ev, evpool.height) {
				// Return the height with which this evidence will have expired
				// so we know when to prune next.
				nextHeight = ev.Height() + evpool.maxAgeNumBlocks
				return true
			}
			expired = append(expired, ev)
			return false
		},
	})
	if err != nil {
		evpool.logger.Error("failed to iterate over pending evidence", "err", err)
		nextHeight = evpool.height + 1
	}

	for _, ev := range expired {
		if err := evpool.backend.RemovePendingEvidence(ev); err != nil {
			evpool.logger.Error("failed to delete expired evidence", "err", err, "evidence", ev)
			continue
		}
		evpool.removeFromCache(ev)
		evpool.metrics.NumPruned.Add(1)
	}

	if len(expired) > 0 {
		evpool.logger.Debug("removed expired evidence",
			"height", evpool.height,
			"expired evidence", len(expired),
			"next pruning height", nextHeight)
	}
	return nextHeight
}

// addToCache appends ev to the FIFO, dropping the oldest entry when full.
// Existing entries keep their position.
func (evpool *Pool) addToCache(ev types.Evidence) {
	hash := ev.Hash()
	if evpool.cache.Contains(hash) {
		return
	}
	evpool.cache.Add(hash, ev)
	evpool.metrics.NumEvidence.Set(float64(evpool.cache.Len()))
}

func (evpool *Pool) removeFromCache(ev types.Evidence) {
	if evpool.cache.Remove(ev.Hash()) {
		evpool.metrics.NumEvidence.Set(float64(evpool.cache.Len()))
	}
}
