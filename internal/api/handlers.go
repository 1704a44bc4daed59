package api

import (
	"context"

	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/publish"
	"github.com/ignite/funnel-studio/internal/service/funnel"
)

// Funnels is the funnel service as seen by the HTTP layer.
type Funnels interface {
	GetFunnel(ctx context.Context, id string) (*domain.Funnel, error)
	Load(ctx context.Context, funnelID string) (*funnel.Snapshot, error)
	CreateFunnel(ctx context.Context, in funnel.CreateFunnelInput) (*domain.Funnel, error)
	UpdateFunnel(ctx context.Context, id string, u funnel.FunnelUpdate) error
	AddStage(ctx context.Context, funnelID string, in funnel.AddStageInput) (*domain.Stage, error)
	ReorderStages(ctx context.Context, funnelID string, stageIDs []string) ([]domain.OrderUpdate, error)
	DeleteStage(ctx context.Context, funnelID, stageID string) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	funnels   Funnels
	sessions  *editor.Registry
	publisher *publish.Service
	health    *HealthChecker
}

// NewHandlers creates the handler set. health may be nil.
func NewHandlers(funnels Funnels, sessions *editor.Registry, publisher *publish.Service, health *HealthChecker) *Handlers {
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	health.sessions = func() int { return len(sessions.Sessions()) }
	return &Handlers{funnels: funnels, sessions: sessions, publisher: publisher, health: health}
}
