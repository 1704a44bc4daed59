package draft

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
)

// Snapshot is the edit state of one stage at a point in time.
type Snapshot struct {
	FunnelID string
	Stage    domain.Stage
	Blocks   []domain.Block
}

// Service snapshots edit state into a Cache and tracks the synced flag.
type Service struct {
	cache Cache
	now   func() time.Time

	once      sync.Once
	available bool

	// writeMu orders snapshot writes against the read-compare-write of
	// MarkSynced.
	writeMu sync.Mutex
}

// availabilityTimeout bounds the one-time cache check.
const availabilityTimeout = 3 * time.Second

// NewService creates a draft service. A nil cache disables snapshots.
func NewService(cache Cache) *Service {
	return &Service{cache: cache, now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enabled reports whether drafts can be stored. The cache is checked on the
// first call only, detached from ctx's cancellation so an aborted request
// cannot disable drafts for the life of the process.
func (s *Service) Enabled(ctx context.Context) bool {
	s.once.Do(func() {
		if s.cache == nil {
			logger.Warn("draft cache unavailable, auto-save disabled")
			return
		}
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), availabilityTimeout)
		defer cancel()
		s.available = s.cache.Available(checkCtx)
		if !s.available {
			logger.Warn("draft cache unavailable, auto-save disabled")
		}
	})
	return s.available
}

// Snapshot writes an unsynced draft for the stage, overwriting any previous
// one. Returns ErrUnavailable when drafts are disabled.
func (s *Service) Snapshot(ctx context.Context, snap Snapshot) error {
	if !s.Enabled(ctx) {
		return ErrUnavailable
	}
	d := Draft{
		StageID:   snap.Stage.ID,
		FunnelID:  snap.FunnelID,
		Title:     snap.Stage.Title,
		Stage:     snap.Stage.Clone(),
		Blocks:    domain.CloneBlocks(snap.Blocks),
		Timestamp: s.now().UTC(),
		Synced:    false,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.cache.Put(ctx, d); err != nil {
		return s.fail("snapshot", d.StageID, err)
	}
	return nil
}

// MarkSynced flips the stage's draft to synced without deleting it, but only
// while the draft still holds saved, the blocks that were written remotely.
// A draft of a later edit stays unsynced. It reports whether the flag was
// flipped and is a no-op when no draft exists or drafts are disabled.
func (s *Service) MarkSynced(ctx context.Context, stageID string, saved []domain.Block) (bool, error) {
	if !s.Enabled(ctx) {
		return false, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	d, err := s.cache.Get(ctx, stageID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("mark synced", stageID, err)
	}
	if d.Synced {
		return false, nil
	}
	if !sameBlocks(d.Blocks, saved) {
		logger.Debug("draft changed after save, left unsynced", "stage_id", stageID)
		return false, nil
	}
	d.Synced = true
	if err := s.cache.Put(ctx, *d); err != nil {
		return false, s.fail("mark synced", stageID, err)
	}
	return true, nil
}

var equateEmpty = cmpopts.EquateEmpty()

// sameBlocks compares blocks as they look once encoded, so a draft read back
// from the cache (numbers as float64) matches the in-memory blocks it came
// from.
func sameBlocks(stored, saved []domain.Block) bool {
	a, errA := roundTrip(stored)
	b, errB := roundTrip(saved)
	if errA != nil || errB != nil {
		return false
	}
	return cmp.Equal(a, b, equateEmpty)
}

func roundTrip(blocks []domain.Block) ([]domain.Block, error) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	var out []domain.Block
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the stage's draft or ErrNotFound.
func (s *Service) Get(ctx context.Context, stageID string) (*Draft, error) {
	if !s.Enabled(ctx) {
		return nil, ErrNotFound
	}
	d, err := s.cache.Get(ctx, stageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, s.fail("get", stageID, err)
	}
	return d, err
}

// Pending lists the funnel's unsynced drafts ordered by stage position.
func (s *Service) Pending(ctx context.Context, funnelID string) ([]Draft, error) {
	if !s.Enabled(ctx) {
		return nil, nil
	}
	all, err := s.cache.ListByFunnel(ctx, funnelID)
	if err != nil {
		return nil, s.fail("list", funnelID, err)
	}
	pending := make([]Draft, 0, len(all))
	for _, d := range all {
		if !d.Synced {
			pending = append(pending, d)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Stage.OrderIndex != pending[j].Stage.OrderIndex {
			return pending[i].Stage.OrderIndex < pending[j].Stage.OrderIndex
		}
		return pending[i].StageID < pending[j].StageID
	})
	return pending, nil
}

// Discard deletes the stage's draft.
func (s *Service) Discard(ctx context.Context, stageID string) error {
	if !s.Enabled(ctx) {
		return nil
	}
	if err := s.cache.Delete(ctx, stageID); err != nil {
		return s.fail("discard", stageID, err)
	}
	return nil
}

func (s *Service) fail(op, stageID string, err error) error {
	logger.Warn("draft cache operation failed", "op", op, "stage_id", stageID, "error", err)
	return &PersistenceError{Op: op, StageID: stageID, Err: err}
}
