package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/pkg/httputil"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"github.com/ignite/funnel-studio/internal/publish"
	"github.com/ignite/funnel-studio/internal/service/funnel"
)

type funnelRequest struct {
	Name            *string                `json:"name"`
	Slug            *string                `json:"slug"`
	GlobalConfig    map[string]any         `json:"global_config"`
	StyleCategories []domain.StyleCategory `json:"style_categories"`
}

type funnelResponse struct {
	Funnel  domain.Funnel              `json:"funnel"`
	Stages  []domain.Stage             `json:"stages"`
	Options map[string][]domain.Option `json:"options"`
}

// CreateFunnel handles POST /api/funnels
func (h *Handlers) CreateFunnel(w http.ResponseWriter, r *http.Request) {
	var req funnelRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	in := funnel.CreateFunnelInput{GlobalConfig: req.GlobalConfig, StyleCategories: req.StyleCategories}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Slug != nil {
		in.Slug = *req.Slug
	}
	f, err := h.funnels.CreateFunnel(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, f)
}

// GetFunnel handles GET /api/funnels/{funnelID}
func (h *Handlers) GetFunnel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.funnels.Load(r.Context(), chi.URLParam(r, "funnelID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, funnelResponse{Funnel: snap.Funnel, Stages: snap.Stages, Options: snap.Options})
}

// UpdateFunnel handles PUT /api/funnels/{funnelID}
func (h *Handlers) UpdateFunnel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	var req funnelRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	err := h.funnels.UpdateFunnel(r.Context(), id, funnel.FunnelUpdate{
		Name:            req.Name,
		Slug:            req.Slug,
		GlobalConfig:    req.GlobalConfig,
		StyleCategories: req.StyleCategories,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	f, err := h.funnels.GetFunnel(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, f)
}

// AddStage handles POST /api/funnels/{funnelID}/stages
func (h *Handlers) AddStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	var in funnel.AddStageInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	st, err := h.funnels.AddStage(r.Context(), id, in)
	if err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.Created(w, st)
}

// ReorderStages handles POST /api/funnels/{funnelID}/stages/reorder
func (h *Handlers) ReorderStages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	var req struct {
		StageIDs []string `json:"stage_ids"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	updates, err := h.funnels.ReorderStages(r.Context(), id, req.StageIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.OK(w, map[string]any{"updates": updates})
}

// DeleteStage handles DELETE /api/funnels/{funnelID}/stages/{stageID}
func (h *Handlers) DeleteStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if err := h.funnels.DeleteStage(r.Context(), id, chi.URLParam(r, "stageID")); err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.NoContent(w)
}

// refreshSessions reloads open sessions after a structural change. Failures
// only leave those sessions stale.
func (h *Handlers) refreshSessions(ctx context.Context, funnelID string) {
	if err := h.sessions.Refresh(ctx, funnelID); err != nil {
		logger.Warn("session refresh failed", "funnel_id", funnelID, "error", err)
	}
}

// publishInput assembles the stored state of a funnel for validation.
func (h *Handlers) publishInput(ctx context.Context, funnelID string) (publish.Input, error) {
	snap, err := h.funnels.Load(ctx, funnelID)
	if err != nil {
		return publish.Input{}, err
	}
	blocks := make(map[string][]domain.Block, len(snap.Stages))
	for i, st := range snap.Stages {
		b := converter.ToBlocks(st, snap.Options[st.ID], len(snap.Stages), i)
		blocks[st.ID] = converter.EnsureHeader(b, st, len(snap.Stages), i)
	}
	return publish.Input{
		FunnelID: funnelID,
		Slug:     snap.Funnel.Slug,
		Stages:   snap.Stages,
		Blocks:   blocks,
		Options:  snap.Options,
	}, nil
}

// ValidatePublish handles POST /api/funnels/{funnelID}/publish/validate
func (h *Handlers) ValidatePublish(w http.ResponseWriter, r *http.Request) {
	in, err := h.publishInput(r.Context(), chi.URLParam(r, "funnelID"))
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := h.publisher.Validate(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// Publish handles POST /api/funnels/{funnelID}/publish
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	in, err := h.publishInput(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := h.publisher.Publish(r.Context(), id, in)
	if err != nil {
		respondError(w, err)
		return
	}
	if res.Blocked() {
		httputil.Unprocessable(w, "publish_blocked", "funnel has publish errors", res)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.OK(w, res)
}

// Unpublish handles POST /api/funnels/{funnelID}/unpublish
func (h *Handlers) Unpublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if err := h.publisher.Unpublish(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.NoContent(w)
}

// Archive handles POST /api/funnels/{funnelID}/archive
func (h *Handlers) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if err := h.publisher.Archive(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	h.refreshSessions(r.Context(), id)
	httputil.NoContent(w)
}
