package funnel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/pkg/distlock"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
)

// Service implements funnel business logic on top of a Repository.
// All public methods are safe for concurrent use if the underlying
// repository is concurrency-safe.
type Service struct {
	repo  Repository
	locks distlock.Locker
	now   func() time.Time
}

// NewService creates a funnel service. locks may be nil, in which case
// writes are not serialized across processes.
func NewService(repo Repository, locks distlock.Locker) *Service {
	return &Service{repo: repo, locks: locks, now: time.Now}
}

// Repository exposes the underlying store for read paths and the publish
// service.
func (s *Service) Repository() Repository { return s.repo }

// Snapshot is a funnel with all of its stages and options.
type Snapshot struct {
	Funnel  domain.Funnel
	Stages  []domain.Stage
	Options map[string][]domain.Option
}

// GetFunnel returns a single funnel.
func (s *Service) GetFunnel(ctx context.Context, id string) (*domain.Funnel, error) {
	return s.repo.GetFunnel(ctx, id)
}

// Load reads a funnel with its stages (ordered by order_index) and options.
func (s *Service) Load(ctx context.Context, funnelID string) (*Snapshot, error) {
	f, err := s.repo.GetFunnel(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	stages, err := s.repo.ListStages(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}
	options, err := s.repo.ListOptionsByFunnel(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("listing options: %w", err)
	}
	if options == nil {
		options = map[string][]domain.Option{}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].OrderIndex < stages[j].OrderIndex })
	return &Snapshot{Funnel: *f, Stages: stages, Options: options}, nil
}

// CreateFunnelInput holds the fields for creating a new funnel.
type CreateFunnelInput struct {
	Name            string                 `json:"name"`
	Slug            string                 `json:"slug"`
	GlobalConfig    map[string]any         `json:"global_config"`
	StyleCategories []domain.StyleCategory `json:"style_categories"`
}

// CreateFunnel validates and persists a new funnel in draft status.
func (s *Service) CreateFunnel(ctx context.Context, in CreateFunnelInput) (*domain.Funnel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := s.checkSlug(ctx, in.Slug, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	f := &domain.Funnel{
		ID:              uuid.New().String(),
		Slug:            in.Slug,
		Name:            name,
		Status:          domain.FunnelDraft,
		GlobalConfig:    domain.CloneMap(in.GlobalConfig),
		StyleCategories: in.StyleCategories,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if f.GlobalConfig == nil {
		f.GlobalConfig = map[string]any{}
	}
	if f.StyleCategories == nil {
		f.StyleCategories = []domain.StyleCategory{}
	}
	if err := s.repo.CreateFunnel(ctx, f); err != nil {
		return nil, fmt.Errorf("creating funnel: %w", err)
	}
	logger.Info("funnel created", "funnel_id", f.ID, "slug", f.Slug)
	return f, nil
}

// UpdateFunnel modifies mutable funnel settings.
func (s *Service) UpdateFunnel(ctx context.Context, id string, u FunnelUpdate) error {
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		if trimmed == "" {
			return ErrNameRequired
		}
		u.Name = &trimmed
	}
	if u.Slug != nil {
		if err := s.checkSlug(ctx, *u.Slug, id); err != nil {
			return err
		}
	}
	return s.repo.UpdateFunnel(ctx, id, u)
}

// checkSlug allows an empty slug (drafts may not have one yet).
func (s *Service) checkSlug(ctx context.Context, slug, exceptID string) error {
	if slug == "" {
		return nil
	}
	if !domain.ValidSlug(slug) {
		return ErrInvalidSlug
	}
	taken, err := s.repo.SlugTaken(ctx, slug, exceptID)
	if err != nil {
		return fmt.Errorf("checking slug: %w", err)
	}
	if taken {
		return ErrSlugTaken
	}
	return nil
}

// AddStageInput holds the fields for a new stage. A nil OrderIndex appends
// the stage after the last one.
type AddStageInput struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	OrderIndex *int           `json:"order_index,omitempty"`
	IsEnabled  *bool          `json:"is_enabled,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// AddStage creates a stage in the funnel.
func (s *Service) AddStage(ctx context.Context, funnelID string, in AddStageInput) (*domain.Stage, error) {
	if strings.TrimSpace(in.Type) == "" {
		return nil, ErrStageTypeMissing
	}
	var st *domain.Stage
	err := s.locks.WithLock(ctx, distlock.FunnelKey(funnelID), func(ctx context.Context) error {
		stages, err := s.repo.ListStages(ctx, funnelID)
		if err != nil {
			return fmt.Errorf("listing stages: %w", err)
		}
		order := 0
		for _, existing := range stages {
			if in.OrderIndex != nil && existing.OrderIndex == *in.OrderIndex {
				return fmt.Errorf("%w: %d", ErrDuplicateOrder, *in.OrderIndex)
			}
			if existing.OrderIndex >= order {
				order = existing.OrderIndex + 1
			}
		}
		if in.OrderIndex != nil {
			if *in.OrderIndex < 0 {
				return fmt.Errorf("%w: order_index must not be negative", ErrInvalidOrder)
			}
			order = *in.OrderIndex
		}

		now := s.now().UTC()
		st = &domain.Stage{
			ID:         uuid.New().String(),
			FunnelID:   funnelID,
			Type:       in.Type,
			Title:      in.Title,
			OrderIndex: order,
			IsEnabled:  in.IsEnabled == nil || *in.IsEnabled,
			Config:     domain.CloneMap(in.Config),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if st.Config == nil {
			st.Config = map[string]any{}
		}
		if err := s.repo.CreateStage(ctx, st); err != nil {
			return fmt.Errorf("creating stage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("stage added", "funnel_id", funnelID, "stage_id", st.ID, "type", st.Type, "order_index", st.OrderIndex)
	return st, nil
}

// ReorderStages rewrites every order_index of the funnel so that stageIDs[i]
// gets order_index i. stageIDs must list every stage exactly once.
func (s *Service) ReorderStages(ctx context.Context, funnelID string, stageIDs []string) ([]domain.OrderUpdate, error) {
	var updates []domain.OrderUpdate
	err := s.locks.WithLock(ctx, distlock.FunnelKey(funnelID), func(ctx context.Context) error {
		stages, err := s.repo.ListStages(ctx, funnelID)
		if err != nil {
			return fmt.Errorf("listing stages: %w", err)
		}
		if len(stageIDs) != len(stages) {
			return ErrInvalidOrder
		}
		known := make(map[string]bool, len(stages))
		for _, st := range stages {
			known[st.ID] = true
		}
		seen := make(map[string]bool, len(stageIDs))
		updates = make([]domain.OrderUpdate, 0, len(stageIDs))
		for i, id := range stageIDs {
			if !known[id] || seen[id] {
				return ErrInvalidOrder
			}
			seen[id] = true
			updates = append(updates, domain.OrderUpdate{ID: id, OrderIndex: i})
		}
		return s.repo.ReorderStages(ctx, funnelID, updates)
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteStage removes a stage of the funnel.
func (s *Service) DeleteStage(ctx context.Context, funnelID, stageID string) error {
	st, err := s.repo.GetStage(ctx, stageID)
	if err != nil {
		return err
	}
	if st.FunnelID != funnelID {
		return ErrWrongFunnel
	}
	if err := s.repo.DeleteStage(ctx, stageID); err != nil {
		return fmt.Errorf("deleting stage: %w", err)
	}
	logger.Info("stage deleted", "funnel_id", funnelID, "stage_id", stageID)
	return nil
}

// SaveStageInput is a stage and its edited block document.
type SaveStageInput struct {
	Stage  domain.Stage
	Blocks []domain.Block
}

// SaveStage folds blocks into the stage config, writes the stage and syncs
// its option rows. It returns the stage as written.
func (s *Service) SaveStage(ctx context.Context, in SaveStageInput) (*domain.Stage, error) {
	patch, options := converter.FromBlocks(in.Blocks, in.Stage.Type)
	saved := in.Stage.Clone()
	saved.Config = converter.ApplyPatch(in.Stage.Config, patch)

	err := s.locks.WithLock(ctx, distlock.StageSaveKey(saved.ID), func(ctx context.Context) error {
		title := saved.Title
		typ := saved.Type
		enabled := saved.IsEnabled
		err := s.repo.UpdateStage(ctx, saved.ID, StagePatch{
			Type:      &typ,
			Title:     &title,
			IsEnabled: &enabled,
			Config:    saved.Config,
		})
		if err != nil {
			return fmt.Errorf("updating stage: %w", err)
		}
		if options == nil {
			return nil
		}
		for i := range options {
			options[i].StageID = saved.ID
		}
		return s.syncOptions(ctx, saved.ID, options)
	})
	if err != nil {
		return nil, err
	}
	saved.UpdatedAt = s.now().UTC()
	return &saved, nil
}

// syncOptions reorders in place when only the order changed and falls back
// to a full sync otherwise.
func (s *Service) syncOptions(ctx context.Context, stageID string, options []domain.Option) error {
	current, err := s.repo.ListOptions(ctx, stageID)
	if err != nil {
		return fmt.Errorf("listing options: %w", err)
	}
	if sameOptionsReordered(current, options) {
		updates := make([]domain.OrderUpdate, len(options))
		for i, o := range options {
			updates[i] = domain.OrderUpdate{ID: o.ID, OrderIndex: o.OrderIndex}
		}
		if err := s.repo.ReorderOptions(ctx, stageID, updates); err != nil {
			return fmt.Errorf("reordering options: %w", err)
		}
		return nil
	}
	if err := s.repo.SyncOptions(ctx, stageID, options); err != nil {
		return fmt.Errorf("syncing options: %w", err)
	}
	return nil
}

// sameOptionsReordered reports whether next holds exactly the rows of
// current with identical content, differing at most in order.
func sameOptionsReordered(current, next []domain.Option) bool {
	if len(current) != len(next) {
		return false
	}
	byID := make(map[string]domain.Option, len(current))
	for _, o := range current {
		byID[o.ID] = o
	}
	for _, o := range next {
		c, ok := byID[o.ID]
		if !ok || c.Text != o.Text || c.Points != o.Points ||
			!equalPtr(c.StyleCategory, o.StyleCategory) || !equalPtr(c.ImageURL, o.ImageURL) {
			return false
		}
		delete(byID, o.ID)
	}
	return len(byID) == 0
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// UpdateStage applies a partial update to a stage outside of an editing
// session.
func (s *Service) UpdateStage(ctx context.Context, id string, p StagePatch) error {
	if p.Empty() {
		return nil
	}
	if p.Type != nil && strings.TrimSpace(*p.Type) == "" {
		return ErrStageTypeMissing
	}
	return s.locks.WithLock(ctx, distlock.StageSaveKey(id), func(ctx context.Context) error {
		return s.repo.UpdateStage(ctx, id, p)
	})
}
