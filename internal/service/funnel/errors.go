package funnel

import "errors"

// Sentinel errors for the funnel service layer.
var (
	ErrNotFound         = errors.New("not found")
	ErrNameRequired     = errors.New("funnel name is required")
	ErrInvalidSlug      = errors.New("slug may only contain lowercase letters, digits and single hyphens")
	ErrSlugTaken        = errors.New("slug is already used by another funnel")
	ErrInvalidOrder     = errors.New("reorder must list every stage of the funnel exactly once")
	ErrDuplicateOrder   = errors.New("order_index is already used in this funnel")
	ErrStageTypeMissing = errors.New("stage type is required")
	ErrWrongFunnel      = errors.New("stage does not belong to funnel")
	ErrOptionOwned      = errors.New("option id belongs to another stage")
)
