package api

import (
	"errors"
	"net/http"

	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/draft"
	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/pkg/httputil"
	"github.com/ignite/funnel-studio/internal/publish"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"github.com/ignite/funnel-studio/internal/transfer"
)

// respondError maps service errors to HTTP responses. 5xx details are
// logged and never returned to the client.
func respondError(w http.ResponseWriter, err error) {
	var (
		perr   *transfer.ParseError
		issues transfer.ValidationErrors
		remote *editor.RemoteSaveError
	)
	switch {
	case errors.As(err, &perr):
		httputil.ErrorWithDetails(w, http.StatusBadRequest, "parse_error", perr.Error(), map[string]any{
			"line":    perr.Line,
			"column":  perr.Column,
			"offset":  perr.Offset,
			"message": perr.Message,
		})
	case errors.As(err, &issues):
		httputil.Unprocessable(w, "validation_failed", "document failed validation", []domain.Issue(issues))
	case errors.As(err, &remote):
		details := map[string]any{"op": remote.Op}
		if remote.StageID != "" {
			details["stage_id"] = remote.StageID
		}
		httputil.BadGateway(w, "remote_save_failed", err, details)

	case errors.Is(err, editor.ErrSessionNotFound),
		errors.Is(err, editor.ErrStageNotFound),
		errors.Is(err, editor.ErrBlockNotFound),
		errors.Is(err, funnel.ErrNotFound),
		errors.Is(err, funnel.ErrWrongFunnel),
		errors.Is(err, draft.ErrNotFound):
		httputil.NotFound(w, err.Error())

	case errors.Is(err, funnel.ErrSlugTaken),
		errors.Is(err, funnel.ErrDuplicateOrder),
		errors.Is(err, funnel.ErrOptionOwned),
		errors.Is(err, publish.ErrInvalidTransition),
		errors.Is(err, editor.ErrDraftMismatch):
		httputil.Conflict(w, err.Error())

	case errors.Is(err, converter.ErrInvariant),
		errors.Is(err, editor.ErrProtectedBlock),
		errors.Is(err, editor.ErrInvalidMove),
		errors.Is(err, funnel.ErrNameRequired),
		errors.Is(err, funnel.ErrInvalidSlug),
		errors.Is(err, funnel.ErrInvalidOrder),
		errors.Is(err, funnel.ErrStageTypeMissing):
		httputil.BadRequest(w, err.Error())

	default:
		httputil.InternalError(w, err)
	}
}
