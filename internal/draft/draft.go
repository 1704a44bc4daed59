package draft

import (
	"context"
	"time"

	"github.com/ignite/funnel-studio/internal/domain"
)

// Draft is a cached, possibly unsynced snapshot of one stage's edit state.
type Draft struct {
	StageID   string         `json:"stageId"`
	FunnelID  string         `json:"funnelId"`
	Title     string         `json:"title"`
	Stage     domain.Stage   `json:"stage"`
	Blocks    []domain.Block `json:"blocks"`
	Timestamp time.Time      `json:"timestamp"`
	Synced    bool           `json:"synced"`
}

// Cache is the durable key-value store drafts live in.
type Cache interface {
	// Available reports whether the backend can be used at all.
	Available(ctx context.Context) bool
	// Put writes d, replacing any draft with the same stage id.
	Put(ctx context.Context, d Draft) error
	// Get returns ErrNotFound when no draft exists.
	Get(ctx context.Context, stageID string) (*Draft, error)
	// Delete is a no-op when no draft exists.
	Delete(ctx context.Context, stageID string) error
	ListByFunnel(ctx context.Context, funnelID string) ([]Draft, error)
}
