package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/draft"
	"github.com/ignite/funnel-studio/internal/history"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"go.uber.org/multierr"
)

// Store is the relational store as seen by a session.
type Store interface {
	Load(ctx context.Context, funnelID string) (*funnel.Snapshot, error)
	SaveStage(ctx context.Context, in funnel.SaveStageInput) (*domain.Stage, error)
	AddStage(ctx context.Context, funnelID string, in funnel.AddStageInput) (*domain.Stage, error)
	UpdateFunnel(ctx context.Context, id string, u funnel.FunnelUpdate) error
}

// Drafts is the durable draft cache as seen by a session.
type Drafts interface {
	Snapshot(ctx context.Context, snap draft.Snapshot) error
	MarkSynced(ctx context.Context, stageID string, saved []domain.Block) (bool, error)
	Get(ctx context.Context, stageID string) (*draft.Draft, error)
	Pending(ctx context.Context, funnelID string) ([]draft.Draft, error)
	Discard(ctx context.Context, stageID string) error
}

// Options tunes a session.
type Options struct {
	MaxHistory int
	Clock      func() time.Time
}

// Session is one editor's working copy of a funnel. All methods are safe for
// concurrent use.
type Session struct {
	ID       string
	FunnelID string

	store  Store
	drafts Drafts
	now    func() time.Time

	// saveMu serializes remote writes; mu guards the fields below and is
	// never held across I/O.
	saveMu sync.Mutex
	mu     sync.Mutex

	funnel domain.Funnel
	stages map[string]domain.Stage
	hist   *history.Manager[history.Collection]

	// saved holds each stage's blocks as of the last remote save (or load).
	// A stage missing from the history present falls back to it.
	saved history.Collection
	// drafted holds the blocks of the last draft written per stage.
	drafted history.Collection
}

// State is a point-in-time view of a session.
type State struct {
	SessionID string             `json:"session_id"`
	Funnel    domain.Funnel      `json:"funnel"`
	Stages    []domain.Stage     `json:"stages"`
	Blocks    history.Collection `json:"blocks"`
	CanUndo   bool               `json:"can_undo"`
	CanRedo   bool               `json:"can_redo"`
	Dirty     []string           `json:"dirty"`
}

// Open loads a funnel and converts every stage into its block document.
func Open(ctx context.Context, id string, store Store, drafts Drafts, funnelID string, opts Options) (*Session, error) {
	snap, err := store.Load(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("loading funnel %s: %w", funnelID, err)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		ID:       id,
		FunnelID: funnelID,
		store:    store,
		drafts:   drafts,
		now:      opts.Clock,
		funnel:   snap.Funnel,
		stages:   make(map[string]domain.Stage, len(snap.Stages)),
		saved:    make(history.Collection, len(snap.Stages)),
		drafted:  history.Collection{},
	}
	for i, st := range snap.Stages {
		s.stages[st.ID] = st
		blocks := converter.ToBlocks(st, snap.Options[st.ID], len(snap.Stages), i)
		s.saved[st.ID] = converter.EnsureHeader(blocks, st, len(snap.Stages), i)
	}
	s.hist = history.NewBlockHistory(s.saved.Clone(), opts.MaxHistory)

	logger.Info("editing session opened", "session_id", id, "funnel_id", funnelID, "stages", len(snap.Stages))
	return s, nil
}

// orderedLocked returns the session's stages by order_index.
func (s *Session) orderedLocked() []domain.Stage {
	out := make([]domain.Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// positionLocked returns the stage's index among the ordered stages and the
// stage count.
func (s *Session) positionLocked(stageID string) (int, int) {
	ordered := s.orderedLocked()
	for i, st := range ordered {
		if st.ID == stageID {
			return i, len(ordered)
		}
	}
	return 0, len(ordered)
}

func (s *Session) currentLocked(present history.Collection, stageID string) []domain.Block {
	if b, ok := present[stageID]; ok {
		return b
	}
	return domain.CloneBlocks(s.saved[stageID])
}

func (s *Session) dirtyLocked(present history.Collection) []string {
	var out []string
	for _, st := range s.orderedLocked() {
		if !history.EqualBlocks(s.currentLocked(present, st.ID), s.saved[st.ID]) {
			out = append(out, st.ID)
		}
	}
	return out
}

// State returns the full session view.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	present := s.hist.Present()
	stages := s.orderedLocked()
	blocks := make(history.Collection, len(stages))
	for _, st := range stages {
		blocks[st.ID] = s.currentLocked(present, st.ID)
	}
	dirty := s.dirtyLocked(present)
	if dirty == nil {
		dirty = []string{}
	}
	return State{
		SessionID: s.ID,
		Funnel:    s.funnel,
		Stages:    stages,
		Blocks:    blocks,
		CanUndo:   s.hist.CanUndo(),
		CanRedo:   s.hist.CanRedo(),
		Dirty:     dirty,
	}
}

// Blocks returns the current blocks of a stage.
func (s *Session) Blocks(stageID string) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[stageID]; !ok {
		return nil, ErrStageNotFound
	}
	return s.currentLocked(s.hist.Present(), stageID), nil
}

// Dirty lists stages whose blocks differ from the last remote save.
func (s *Session) Dirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked(s.hist.Present())
}

// edit runs fn on a copy of one stage's blocks and records the result as a
// single history step. Results that break the block invariants are rejected.
func (s *Session) edit(stageID string, fn func(st domain.Stage, blocks []domain.Block) ([]domain.Block, error)) ([]domain.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[stageID]
	if !ok {
		return nil, false, ErrStageNotFound
	}
	next, err := fn(st, s.currentLocked(s.hist.Present(), stageID))
	if err != nil {
		return nil, false, err
	}
	next = ensureOptionIDs(converter.Normalize(next))
	if err := converter.CheckInvariants(next, st.Type); err != nil {
		return nil, false, err
	}
	changed := s.hist.SetState(func(c history.Collection) history.Collection {
		c[stageID] = next
		return c
	})
	return domain.CloneBlocks(next), changed, nil
}

// SetBlocks replaces a stage's block list. Block order follows the Order
// field.
func (s *Session) SetBlocks(stageID string, blocks []domain.Block) ([]domain.Block, bool, error) {
	return s.edit(stageID, func(_ domain.Stage, _ []domain.Block) ([]domain.Block, error) {
		return domain.CloneBlocks(blocks), nil
	})
}

// BlockEdit is a partial block change. Keys with a nil value are removed.
type BlockEdit struct {
	Content map[string]any `json:"content,omitempty"`
	Style   map[string]any `json:"style,omitempty"`
}

// UpdateBlock merges an edit into one block.
func (s *Session) UpdateBlock(stageID, blockID string, e BlockEdit) ([]domain.Block, bool, error) {
	return s.edit(stageID, func(_ domain.Stage, blocks []domain.Block) ([]domain.Block, error) {
		i := indexOf(blocks, blockID)
		if i < 0 {
			return nil, ErrBlockNotFound
		}
		blocks[i].Content = mergeFields(blocks[i].Content, e.Content)
		blocks[i].Style = mergeFields(blocks[i].Style, e.Style)
		if len(blocks[i].Style) == 0 {
			blocks[i].Style = nil
		}
		return blocks, nil
	})
}

// NewBlock describes a block to insert. A nil Position appends.
type NewBlock struct {
	Type     domain.BlockType `json:"type"`
	Content  map[string]any   `json:"content,omitempty"`
	Style    map[string]any   `json:"style,omitempty"`
	Position *int             `json:"position,omitempty"`
}

// AddBlock inserts a new block and returns it.
func (s *Session) AddBlock(stageID string, nb NewBlock) (domain.Block, error) {
	b := domain.Block{
		ID:      uuid.NewString(),
		Type:    nb.Type,
		Content: domain.CloneMap(nb.Content),
		Style:   domain.CloneMap(nb.Style),
	}
	if b.Content == nil {
		b.Content = map[string]any{}
	}
	if len(b.Style) == 0 {
		b.Style = nil
	}
	blocks, _, err := s.edit(stageID, func(_ domain.Stage, blocks []domain.Block) ([]domain.Block, error) {
		at := len(blocks)
		if nb.Position != nil {
			at = *nb.Position
		}
		if at < 0 || at > len(blocks) {
			return nil, ErrInvalidMove
		}
		out := make([]domain.Block, 0, len(blocks)+1)
		out = append(out, blocks[:at]...)
		out = append(out, b)
		out = append(out, blocks[at:]...)
		for i := range out {
			out[i].Order = i
		}
		return out, nil
	})
	if err != nil {
		return domain.Block{}, err
	}
	return blocks[indexOf(blocks, b.ID)], nil
}

// RemoveBlock deletes a block. Header and options-list blocks are kept.
func (s *Session) RemoveBlock(stageID, blockID string) ([]domain.Block, error) {
	blocks, _, err := s.edit(stageID, func(_ domain.Stage, blocks []domain.Block) ([]domain.Block, error) {
		i := indexOf(blocks, blockID)
		if i < 0 {
			return nil, ErrBlockNotFound
		}
		if t := blocks[i].Type; t == domain.BlockHeader || t == domain.BlockOptionsList {
			return nil, ErrProtectedBlock
		}
		return append(blocks[:i], blocks[i+1:]...), nil
	})
	return blocks, err
}

// MoveBlock moves the block at position from to position to.
func (s *Session) MoveBlock(stageID string, from, to int) ([]domain.Block, error) {
	blocks, _, err := s.edit(stageID, func(_ domain.Stage, blocks []domain.Block) ([]domain.Block, error) {
		if from < 0 || from >= len(blocks) || to < 0 || to >= len(blocks) {
			return nil, ErrInvalidMove
		}
		b := blocks[from]
		rest := append(blocks[:from:from], blocks[from+1:]...)
		out := make([]domain.Block, 0, len(blocks))
		out = append(out, rest[:to]...)
		out = append(out, b)
		out = append(out, rest[to:]...)
		for i := range out {
			out[i].Order = i
		}
		return out, nil
	})
	return blocks, err
}

// Per-stage header fields that a broadcast never copies.
var headerLocalFields = map[string]bool{"title": true, "progress": true}

// BroadcastHeader merges fields into the header of every stage as one
// history step and returns the number of headers that changed.
func (s *Session) BroadcastHeader(fields map[string]any) int {
	shared := make(map[string]any, len(fields))
	for k, v := range fields {
		if !headerLocalFields[k] {
			shared[k] = v
		}
	}
	if len(shared) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	s.hist.SetState(func(c history.Collection) history.Collection {
		for _, st := range s.orderedLocked() {
			blocks := s.currentLocked(c, st.ID)
			for i := range blocks {
				if blocks[i].Type != domain.BlockHeader {
					continue
				}
				merged := mergeFields(blocks[i].Content, shared)
				if !cmp.Equal(merged, blocks[i].Content, cmpopts.EquateEmpty()) {
					changed++
				}
				blocks[i].Content = merged
			}
			c[st.ID] = blocks
		}
		return c
	})
	return changed
}

// Undo reverts the last history step.
func (s *Session) Undo() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.Undo()
	return s.stateLocked()
}

// Redo reapplies the last undone step.
func (s *Session) Redo() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.Redo()
	return s.stateLocked()
}

// SnapshotDrafts writes a draft for every dirty stage that changed since its
// previous draft and returns how many were written. Cache failures are
// returned combined and never affect the session.
func (s *Session) SnapshotDrafts(ctx context.Context) (int, error) {
	s.mu.Lock()
	present := s.hist.Present()
	var snaps []draft.Snapshot
	for _, st := range s.orderedLocked() {
		blocks := s.currentLocked(present, st.ID)
		if history.EqualBlocks(blocks, s.saved[st.ID]) {
			continue
		}
		if prev, ok := s.drafted[st.ID]; ok && history.EqualBlocks(blocks, prev) {
			continue
		}
		snaps = append(snaps, draft.Snapshot{FunnelID: s.FunnelID, Stage: st, Blocks: blocks})
	}
	s.mu.Unlock()

	written := 0
	var errs error
	for _, snap := range snaps {
		err := s.drafts.Snapshot(ctx, snap)
		if errors.Is(err, draft.ErrUnavailable) {
			return written, nil
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.mu.Lock()
		s.drafted[snap.Stage.ID] = snap.Blocks
		s.mu.Unlock()
		written++
	}
	return written, errs
}

// Save writes one stage to the store if it is dirty.
func (s *Session) Save(ctx context.Context, stageID string) (bool, error) {
	s.mu.Lock()
	_, ok := s.stages[stageID]
	s.mu.Unlock()
	if !ok {
		return false, ErrStageNotFound
	}
	saved, err := s.save(ctx, []string{stageID})
	return len(saved) > 0, err
}

// SaveAll writes every dirty stage and returns the ids that were saved.
// Failed stages are reported as *RemoteSaveError values combined with
// multierr; the others are still saved.
func (s *Session) SaveAll(ctx context.Context) ([]string, error) {
	return s.save(ctx, nil)
}

type saveJob struct {
	stage  domain.Stage
	blocks []domain.Block
}

func (s *Session) save(ctx context.Context, only []string) ([]string, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	present := s.hist.Present()
	want := map[string]bool{}
	for _, id := range only {
		want[id] = true
	}
	var jobs []saveJob
	for _, id := range s.dirtyLocked(present) {
		if len(only) > 0 && !want[id] {
			continue
		}
		jobs = append(jobs, saveJob{stage: s.stages[id].Clone(), blocks: s.currentLocked(present, id)})
	}
	s.mu.Unlock()

	var done []string
	var errs error
	for _, job := range jobs {
		id := job.stage.ID
		stored, err := s.store.SaveStage(ctx, funnel.SaveStageInput{Stage: job.stage, Blocks: job.blocks})
		if err != nil {
			logger.Error("stage save failed", "session_id", s.ID, "stage_id", id, "error", err)
			errs = multierr.Append(errs, &RemoteSaveError{StageID: id, Op: "save", Err: err})
			continue
		}

		s.mu.Lock()
		if cur, ok := s.stages[id]; ok {
			cur.Config = stored.Config
			cur.UpdatedAt = stored.UpdatedAt
			s.stages[id] = cur
		}
		s.saved[id] = job.blocks
		delete(s.drafted, id)
		s.mu.Unlock()

		// Failures are logged by the draft service; the save itself succeeded.
		// A draft of an edit made since the save was read stays unsynced.
		_, _ = s.drafts.MarkSynced(ctx, id, job.blocks)
		done = append(done, id)
	}
	if len(done) > 0 {
		logger.Info("stages saved", "session_id", s.ID, "funnel_id", s.FunnelID, "count", len(done))
	}
	return done, errs
}

// PendingDrafts lists the funnel's unsynced drafts.
func (s *Session) PendingDrafts(ctx context.Context) ([]draft.Draft, error) {
	return s.drafts.Pending(ctx, s.FunnelID)
}

// ResumeDraft replaces a stage's blocks with its stored draft as one history
// step.
func (s *Session) ResumeDraft(ctx context.Context, stageID string) ([]domain.Block, error) {
	d, err := s.drafts.Get(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if d.FunnelID != s.FunnelID {
		return nil, ErrDraftMismatch
	}
	blocks, _, err := s.edit(stageID, func(st domain.Stage, _ []domain.Block) ([]domain.Block, error) {
		idx, total := s.positionLocked(st.ID)
		return converter.EnsureHeader(d.Blocks, st, total, idx), nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("draft resumed", "session_id", s.ID, "stage_id", stageID, "draft_time", d.Timestamp)
	return blocks, nil
}

// DiscardDraft deletes a stage's stored draft.
func (s *Session) DiscardDraft(ctx context.Context, stageID string) error {
	return s.drafts.Discard(ctx, stageID)
}

// Refresh reloads the stage list from the store after stages were added,
// removed or reordered outside the session. Unsaved block edits of surviving
// stages are kept; their header progress follows the new stage positions.
func (s *Session) Refresh(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap, err := s.store.Load(ctx, s.FunnelID)
	if err != nil {
		return fmt.Errorf("reloading funnel %s: %w", s.FunnelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	type position struct{ idx, total int }
	before := make(map[string]position, len(s.stages))
	for id := range s.stages {
		idx, total := s.positionLocked(id)
		before[id] = position{idx, total}
	}

	s.funnel = snap.Funnel
	stages := make(map[string]domain.Stage, len(snap.Stages))
	for i, st := range snap.Stages {
		stages[st.ID] = st
		if _, known := s.stages[st.ID]; !known {
			blocks := converter.ToBlocks(st, snap.Options[st.ID], len(snap.Stages), i)
			s.saved[st.ID] = converter.EnsureHeader(blocks, st, len(snap.Stages), i)
		}
	}
	for id := range s.stages {
		if _, ok := stages[id]; !ok {
			delete(s.saved, id)
			delete(s.drafted, id)
		}
	}
	s.stages = stages

	moved := map[string]position{}
	for id, old := range before {
		if _, ok := stages[id]; !ok {
			continue
		}
		idx, total := s.positionLocked(id)
		if (position{idx, total}) != old {
			moved[id] = position{idx, total}
		}
	}
	if len(moved) == 0 {
		return nil
	}
	reposition := func(c history.Collection) history.Collection {
		for id, p := range moved {
			if blocks, ok := c[id]; ok {
				c[id] = converter.SetProgress(blocks, p.total, p.idx)
			}
		}
		return c
	}
	s.saved = reposition(s.saved)
	s.hist.Rewrite(reposition)
	return nil
}

// indexOf returns the position of the block with id, or -1.
func indexOf(blocks []domain.Block, id string) int {
	for i, b := range blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// mergeFields returns a copy of dst with src merged at the top level.
func mergeFields(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	out := domain.CloneMap(dst)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range src {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = domain.CloneValue(v)
	}
	return out
}

// ensureOptionIDs gives every option of an options-list block an id so the
// option rows written on save stay stable across saves.
func ensureOptionIDs(blocks []domain.Block) []domain.Block {
	for _, b := range blocks {
		if b.Type != domain.BlockOptionsList {
			continue
		}
		items, _ := b.Content["options"].([]any)
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, _ := m["id"].(string); id == "" {
				m["id"] = uuid.NewString()
			}
		}
	}
	return blocks
}
