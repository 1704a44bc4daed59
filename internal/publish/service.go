package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"github.com/ignite/funnel-studio/internal/transfer"
)

// Store is the funnel persistence the publish service needs.
type Store interface {
	GetFunnel(ctx context.Context, id string) (*domain.Funnel, error)
	UpdateFunnelStatus(ctx context.Context, id string, status domain.FunnelStatus, publishedAt *time.Time) error
}

// Archiver keeps a copy of every published document.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Service performs funnel status transitions.
type Service struct {
	store     Store
	validator *Validator
	archive   Archiver
	now       func() time.Time
}

// NewService creates a publish service. archive may be nil.
func NewService(store Store, validator *Validator, archive Archiver) *Service {
	return &Service{store: store, validator: validator, archive: archive, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Validate runs the validator without transitioning.
func (s *Service) Validate(ctx context.Context, in Input) (Result, error) {
	return s.validator.Validate(ctx, in)
}

// Publish validates in and, when nothing blocks, moves the funnel to
// published. A blocked result is returned with a nil error and no change.
// in.Slug defaults to the stored slug.
func (s *Service) Publish(ctx context.Context, funnelID string, in Input) (Result, error) {
	f, err := s.store.GetFunnel(ctx, funnelID)
	if err != nil {
		return Result{}, fmt.Errorf("loading funnel: %w", err)
	}
	in.FunnelID = funnelID
	if in.Slug == "" {
		in.Slug = f.Slug
	}

	res, err := s.validator.Validate(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if res.Blocked() {
		logger.Info("publish blocked", "funnel_id", funnelID, "errors", len(res.Errors))
		return res, nil
	}

	now := s.now().UTC()
	if err := s.store.UpdateFunnelStatus(ctx, funnelID, domain.FunnelPublished, &now); err != nil {
		return Result{}, fmt.Errorf("publishing funnel: %w", err)
	}
	f.Status = domain.FunnelPublished
	f.PublishedAt = &now
	logger.Info("funnel published", "funnel_id", funnelID, "slug", f.Slug, "warnings", len(res.Warnings))

	s.snapshot(ctx, *f, in, now)
	return res, nil
}

// snapshot archives the published document. Failures are logged only.
func (s *Service) snapshot(ctx context.Context, f domain.Funnel, in Input, at time.Time) {
	if s.archive == nil {
		return
	}
	doc := transfer.Export(f, in.Stages, in.Blocks, func() time.Time { return at })
	data, err := transfer.Encode(doc)
	if err == nil {
		key := fmt.Sprintf("published/%s/%s", f.ID, transfer.FileName(f.Slug, at))
		err = s.archive.Put(ctx, key, data)
	}
	if err != nil {
		logger.Warn("publish snapshot failed", "funnel_id", f.ID, "error", err)
	}
}

// Unpublish moves a published funnel back to draft. A draft funnel is left
// as is.
func (s *Service) Unpublish(ctx context.Context, funnelID string) error {
	f, err := s.store.GetFunnel(ctx, funnelID)
	if err != nil {
		return fmt.Errorf("loading funnel: %w", err)
	}
	switch f.Status {
	case domain.FunnelDraft:
		return nil
	case domain.FunnelArchived:
		return fmt.Errorf("%w: %s funnel cannot be unpublished", ErrInvalidTransition, f.Status)
	}
	if err := s.store.UpdateFunnelStatus(ctx, funnelID, domain.FunnelDraft, nil); err != nil {
		return fmt.Errorf("unpublishing funnel: %w", err)
	}
	logger.Info("funnel unpublished", "funnel_id", funnelID)
	return nil
}

// Archive retires a funnel from any status.
func (s *Service) Archive(ctx context.Context, funnelID string) error {
	f, err := s.store.GetFunnel(ctx, funnelID)
	if err != nil {
		return fmt.Errorf("loading funnel: %w", err)
	}
	if f.Status == domain.FunnelArchived {
		return nil
	}
	if err := s.store.UpdateFunnelStatus(ctx, funnelID, domain.FunnelArchived, f.PublishedAt); err != nil {
		return fmt.Errorf("archiving funnel: %w", err)
	}
	logger.Info("funnel archived", "funnel_id", funnelID)
	return nil
}
