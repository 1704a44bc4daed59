package converter

import (
	"errors"
	"fmt"

	"github.com/ignite/funnel-studio/internal/domain"
)

// ConfigPatch is a partial stage config. A nil value removes the key.
type ConfigPatch map[string]any

// ApplyPatch returns a copy of config with patch merged in at the top level.
func ApplyPatch(config map[string]any, patch ConfigPatch) map[string]any {
	out := domain.CloneMap(config)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = domain.CloneValue(v)
	}
	return out
}

// ErrInvariant is returned when a block list breaks a document invariant.
var ErrInvariant = errors.New("block document invariant violated")

// CheckInvariants verifies that blocks form a valid document for stageType:
// exactly one header, exactly one options-list for option-bearing types,
// known block types, and unique non-empty ids.
func CheckInvariants(blocks []domain.Block, stageType string) error {
	headers, lists := 0, 0
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.ID == "" {
			return fmt.Errorf("%w: block without id", ErrInvariant)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate block id %q", ErrInvariant, b.ID)
		}
		seen[b.ID] = true
		if !b.Type.Valid() {
			return fmt.Errorf("%w: unknown block type %q", ErrInvariant, b.Type)
		}
		switch b.Type {
		case domain.BlockHeader:
			headers++
		case domain.BlockOptionsList:
			lists++
		}
	}
	if headers != 1 {
		return fmt.Errorf("%w: stage must have exactly one header block, found %d", ErrInvariant, headers)
	}
	if domain.IsChoiceBearing(stageType) && lists != 1 {
		return fmt.Errorf("%w: %s stage must have exactly one options-list block, found %d", ErrInvariant, stageType, lists)
	}
	return nil
}
