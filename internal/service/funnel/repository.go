package funnel

import (
	"context"
	"time"

	"github.com/ignite/funnel-studio/internal/domain"
)

// Repository defines the data access contract for funnels, stages and
// options. Implementations must be safe for concurrent use.
type Repository interface {
	// GetFunnel returns a single funnel. Returns ErrNotFound if it doesn't exist.
	GetFunnel(ctx context.Context, id string) (*domain.Funnel, error)

	// CreateFunnel inserts a funnel. ID and timestamps are set by the caller.
	CreateFunnel(ctx context.Context, f *domain.Funnel) error

	// UpdateFunnel modifies a funnel. Only non-nil fields in the update are applied.
	UpdateFunnel(ctx context.Context, id string, u FunnelUpdate) error

	// UpdateFunnelStatus sets status and published_at.
	UpdateFunnelStatus(ctx context.Context, id string, status domain.FunnelStatus, publishedAt *time.Time) error

	// SlugTaken reports whether another funnel than exceptID uses slug.
	SlugTaken(ctx context.Context, slug, exceptID string) (bool, error)

	// ListStages returns the funnel's stages ordered by order_index.
	ListStages(ctx context.Context, funnelID string) ([]domain.Stage, error)

	// GetStage returns a single stage. Returns ErrNotFound if it doesn't exist.
	GetStage(ctx context.Context, id string) (*domain.Stage, error)

	// CreateStage inserts a stage.
	CreateStage(ctx context.Context, st *domain.Stage) error

	// UpdateStage applies a partial update. Only non-nil fields are applied.
	UpdateStage(ctx context.Context, id string, p StagePatch) error

	// DeleteStage removes a stage and its options.
	DeleteStage(ctx context.Context, id string) error

	// ReorderStages assigns new order_index values in one transaction.
	ReorderStages(ctx context.Context, funnelID string, updates []domain.OrderUpdate) error

	// ListOptions returns a stage's options ordered by order_index.
	ListOptions(ctx context.Context, stageID string) ([]domain.Option, error)

	// ListOptionsByFunnel returns every option of the funnel keyed by stage id.
	ListOptionsByFunnel(ctx context.Context, funnelID string) (map[string][]domain.Option, error)

	// SyncOptions makes the stage's option rows equal to options: rows are
	// upserted by id and rows not in options are deleted.
	SyncOptions(ctx context.Context, stageID string, options []domain.Option) error

	// ReorderOptions assigns new order_index values in one transaction.
	ReorderOptions(ctx context.Context, stageID string, updates []domain.OrderUpdate) error
}

// FunnelUpdate holds the mutable fields of a funnel. Nil fields are not
// applied.
type FunnelUpdate struct {
	Name            *string
	Slug            *string
	GlobalConfig    map[string]any
	StyleCategories []domain.StyleCategory
}

// StagePatch is a partial stage update. Nil fields are not applied; Config
// replaces the stored config as a whole.
type StagePatch struct {
	Type       *string
	Title      *string
	OrderIndex *int
	IsEnabled  *bool
	Config     map[string]any
}

// Empty reports whether the patch changes nothing.
func (p StagePatch) Empty() bool {
	return p.Type == nil && p.Title == nil && p.OrderIndex == nil && p.IsEnabled == nil && p.Config == nil
}
