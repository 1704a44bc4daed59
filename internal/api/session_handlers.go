package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/pkg/httputil"
	"github.com/ignite/funnel-studio/internal/transfer"
	"go.uber.org/multierr"
)

// session resolves the {sessionID} URL parameter, writing a 404 when the
// session is not open.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return nil, false
	}
	return s, true
}

type blocksResponse struct {
	StageID string         `json:"stage_id"`
	Blocks  []domain.Block `json:"blocks"`
	Changed bool           `json:"changed"`
	CanUndo bool           `json:"can_undo"`
	CanRedo bool           `json:"can_redo"`
}

func (h *Handlers) writeBlocks(w http.ResponseWriter, s *editor.Session, stageID string, blocks []domain.Block, changed bool) {
	st := s.State()
	httputil.OK(w, blocksResponse{StageID: stageID, Blocks: blocks, Changed: changed, CanUndo: st.CanUndo, CanRedo: st.CanRedo})
}

// OpenSession handles POST /api/funnels/{funnelID}/sessions
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Open(r.Context(), chi.URLParam(r, "funnelID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, s.State())
}

// GetSession handles GET /api/sessions/{sessionID}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.OK(w, s.State())
}

// CloseSession handles DELETE /api/sessions/{sessionID}
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetBlocks handles GET /api/sessions/{sessionID}/stages/{stageID}/blocks
func (h *Handlers) GetBlocks(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, err := s.Blocks(stageID)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, false)
}

// SetBlocks handles PUT /api/sessions/{sessionID}/stages/{stageID}/blocks
func (h *Handlers) SetBlocks(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Blocks []domain.Block `json:"blocks"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, changed, err := s.SetBlocks(stageID, req.Blocks)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, changed)
}

// UpdateBlock handles PATCH /api/sessions/{sessionID}/stages/{stageID}/blocks/{blockID}
func (h *Handlers) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var edit editor.BlockEdit
	if !httputil.Decode(w, r, &edit) {
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, changed, err := s.UpdateBlock(stageID, chi.URLParam(r, "blockID"), edit)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, changed)
}

// AddBlock handles POST /api/sessions/{sessionID}/stages/{stageID}/blocks
func (h *Handlers) AddBlock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var nb editor.NewBlock
	if !httputil.Decode(w, r, &nb) {
		return
	}
	b, err := s.AddBlock(chi.URLParam(r, "stageID"), nb)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, b)
}

// RemoveBlock handles DELETE /api/sessions/{sessionID}/stages/{stageID}/blocks/{blockID}
func (h *Handlers) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, err := s.RemoveBlock(stageID, chi.URLParam(r, "blockID"))
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, true)
}

// MoveBlock handles POST /api/sessions/{sessionID}/stages/{stageID}/blocks/move
func (h *Handlers) MoveBlock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		From *int `json:"from"`
		To   *int `json:"to"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.From == nil || req.To == nil {
		httputil.BadRequest(w, "from and to are required")
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, err := s.MoveBlock(stageID, *req.From, *req.To)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, *req.From != *req.To)
}

// BroadcastHeader handles POST /api/sessions/{sessionID}/header/broadcast
func (h *Handlers) BroadcastHeader(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Fields map[string]any `json:"fields"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	changed := s.BroadcastHeader(req.Fields)
	httputil.OK(w, map[string]any{"changed": changed, "state": s.State()})
}

// Undo handles POST /api/sessions/{sessionID}/undo
func (h *Handlers) Undo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.OK(w, s.Undo())
}

// Redo handles POST /api/sessions/{sessionID}/redo
func (h *Handlers) Redo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.OK(w, s.Redo())
}

// Save handles POST /api/sessions/{sessionID}/save
func (h *Handlers) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	saved, err := s.SaveAll(r.Context())
	if saved == nil {
		saved = []string{}
	}
	if err != nil {
		httputil.BadGateway(w, "remote_save_failed", err, map[string]any{
			"saved":  saved,
			"failed": failedStages(err),
			"dirty":  s.Dirty(),
		})
		return
	}
	httputil.OK(w, map[string]any{"saved": saved})
}

// failedStages lists the stages named by the save errors combined in err.
func failedStages(err error) []string {
	out := []string{}
	for _, e := range multierr.Errors(err) {
		var rse *editor.RemoteSaveError
		if errors.As(e, &rse) && rse.StageID != "" {
			out = append(out, rse.StageID)
		}
	}
	return out
}

// ListDrafts handles GET /api/sessions/{sessionID}/drafts
func (h *Handlers) ListDrafts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	drafts, err := s.PendingDrafts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if drafts == nil {
		httputil.OK(w, map[string]any{"drafts": []any{}})
		return
	}
	httputil.OK(w, map[string]any{"drafts": drafts})
}

// ResumeDraft handles POST /api/sessions/{sessionID}/drafts/{stageID}/resume
func (h *Handlers) ResumeDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stageID := chi.URLParam(r, "stageID")
	blocks, err := s.ResumeDraft(r.Context(), stageID)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeBlocks(w, s, stageID, blocks, true)
}

// DiscardDraft handles DELETE /api/sessions/{sessionID}/drafts/{stageID}
func (h *Handlers) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DiscardDraft(r.Context(), chi.URLParam(r, "stageID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// Export handles GET /api/sessions/{sessionID}/export
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	doc := s.Export()
	data, err := transfer.Encode(doc)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	at, _ := time.Parse(time.RFC3339, doc.ExportDate)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transfer.FileName(doc.Slug, at)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import handles POST /api/sessions/{sessionID}/import
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		httputil.BadRequest(w, "reading body: "+err.Error())
		return
	}
	report, err := s.Import(r.Context(), raw)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"report": report, "state": s.State()})
}
