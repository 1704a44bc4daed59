// Package converter maps relational stage records to ordered block documents
// and folds edited block documents back into a persistable stage config.
//
// ToBlocks is pure: identical stage and option input always yields identical
// blocks, including block ids, which are derived from the stage id and slot.
package converter

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/ignite/funnel-studio/internal/domain"
)

var blockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://funnel-studio/blocks"))

// BlockID returns the deterministic id of a stage slot block.
func BlockID(stageID, slotKey string) string {
	return uuid.NewSHA1(blockNamespace, []byte(stageID+"/"+slotKey)).String()
}

// ToBlocks synthesizes the ordered block list of a stage. totalStages and
// stageIndex feed the header progress indicator.
func ToBlocks(stage domain.Stage, options []domain.Option, totalStages, stageIndex int) []domain.Block {
	layout := LayoutFor(stage.Type)
	cfg := stage.Config
	styles, _ := cfg[KeyStyles].(map[string]any)

	byKey := make(map[string]domain.Block, len(layout.Slots))
	keys := make([]string, 0, len(layout.Slots))
	for _, slot := range layout.Slots {
		var content map[string]any
		if m, ok := cfg[slot.Key].(map[string]any); ok {
			content = domain.CloneMap(m)
		} else {
			content = slot.Defaults(stage)
		}
		switch slot.Type {
		case domain.BlockHeader:
			content["progress"] = progress(totalStages, stageIndex)
		case domain.BlockOptionsList:
			content["options"] = optionsContent(options)
		}
		b := domain.Block{
			ID:      BlockID(stage.ID, slot.Key),
			Type:    slot.Type,
			Content: content,
		}
		if st, ok := styles[slot.Key].(map[string]any); ok && len(st) > 0 {
			b.Style = domain.CloneMap(st)
		}
		byKey[slot.Key] = b
		keys = append(keys, slot.Key)
	}

	for _, b := range extraBlocks(cfg[KeyExtraBlocks]) {
		if _, dup := byKey[b.ID]; dup {
			continue
		}
		// The header and options-list slots are single; copies stored as
		// extras would break the document.
		if b.Type == domain.BlockHeader || b.Type == domain.BlockOptionsList {
			if _, slotted := layout.slotFor(b.Type); slotted {
				continue
			}
		}
		byKey[b.ID] = b
		keys = append(keys, b.ID)
	}

	ordered := applyOrder(keys, cfg[KeyBlockOrder])
	out := make([]domain.Block, 0, len(ordered))
	for i, k := range ordered {
		b := byKey[k]
		b.Order = i
		out = append(out, b)
	}
	return out
}

// FromBlocks is the inverse of ToBlocks. It returns a config patch keyed by
// the layout schema of stageType and, when the blocks carry an options-list
// slot, the option rows it mirrors. A nil option slice means the stage has no
// options-list block and its option rows should be left alone.
func FromBlocks(blocks []domain.Block, stageType string) (ConfigPatch, []domain.Option) {
	layout := LayoutFor(stageType)
	sorted := Normalize(blocks)

	patch := ConfigPatch{}
	used := make(map[string]bool, len(layout.Slots))
	styles := map[string]any{}
	var extras []any
	var extraIDs []string
	var orderKeys []string
	var options []domain.Option

	for _, b := range sorted {
		slot, ok := layout.slotFor(b.Type)
		if ok && !used[slot.Key] {
			used[slot.Key] = true
			content := domain.CloneMap(b.Content)
			if content == nil {
				content = map[string]any{}
			}
			switch slot.Type {
			case domain.BlockHeader:
				delete(content, "progress")
			case domain.BlockOptionsList:
				options = optionRows(content["options"])
				delete(content, "options")
			}
			patch[slot.Key] = content
			if len(b.Style) > 0 {
				styles[slot.Key] = domain.CloneMap(b.Style)
			}
			orderKeys = append(orderKeys, slot.Key)
			continue
		}

		extra := map[string]any{
			"id":      b.ID,
			"type":    string(b.Type),
			"content": domain.CloneMap(b.Content),
		}
		if len(b.Style) > 0 {
			extra["style"] = domain.CloneMap(b.Style)
		}
		extras = append(extras, extra)
		extraIDs = append(extraIDs, b.ID)
		orderKeys = append(orderKeys, b.ID)
	}

	var defaultOrder []string
	for _, k := range layout.Keys() {
		if used[k] {
			defaultOrder = append(defaultOrder, k)
		}
	}
	defaultOrder = append(defaultOrder, extraIDs...)

	patch[KeyExtraBlocks] = nil
	if len(extras) > 0 {
		patch[KeyExtraBlocks] = extras
	}
	patch[KeyBlockOrder] = nil
	if !equalStrings(orderKeys, defaultOrder) {
		order := make([]any, len(orderKeys))
		for i, k := range orderKeys {
			order[i] = k
		}
		patch[KeyBlockOrder] = order
	}
	patch[KeyStyles] = nil
	if len(styles) > 0 {
		patch[KeyStyles] = styles
	}

	return patch, options
}

// Normalize returns a copy of blocks sorted by Order with dense positions.
func Normalize(blocks []domain.Block) []domain.Block {
	out := domain.CloneBlocks(blocks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i
	}
	return out
}

// EnsureHeader prepends a synthesized header when blocks has none, so a
// freshly created stage always satisfies the one-header invariant.
func EnsureHeader(blocks []domain.Block, stage domain.Stage, totalStages, stageIndex int) []domain.Block {
	for _, b := range blocks {
		if b.Type == domain.BlockHeader {
			return Normalize(blocks)
		}
	}
	content := headerSlot.Defaults(stage)
	content["progress"] = progress(totalStages, stageIndex)
	header := domain.Block{
		ID:      BlockID(stage.ID, headerSlot.Key),
		Type:    domain.BlockHeader,
		Order:   -1,
		Content: content,
	}
	return Normalize(append([]domain.Block{header}, blocks...))
}

// SetProgress returns a copy of blocks whose header shows the progress of the
// stage at stageIndex out of totalStages.
func SetProgress(blocks []domain.Block, totalStages, stageIndex int) []domain.Block {
	out := domain.CloneBlocks(blocks)
	for i := range out {
		if out[i].Type != domain.BlockHeader {
			continue
		}
		if out[i].Content == nil {
			out[i].Content = map[string]any{}
		}
		out[i].Content["progress"] = progress(totalStages, stageIndex)
	}
	return out
}

func progress(total, index int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(index+1) / float64(total) * 100
	return math.Min(100, math.Round(pct))
}

func optionsContent(options []domain.Option) []any {
	sorted := make([]domain.Option, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	out := make([]any, 0, len(sorted))
	for _, o := range sorted {
		m := map[string]any{
			"id":     o.ID,
			"text":   o.Text,
			"points": float64(o.Points),
		}
		if o.StyleCategory != nil {
			m["style_category"] = *o.StyleCategory
		}
		if o.ImageURL != nil {
			m["image_url"] = *o.ImageURL
		}
		out = append(out, m)
	}
	return out
}

func optionRows(raw any) []domain.Option {
	items := asList(raw)
	out := make([]domain.Option, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = uuid.NewString()
		}
		text, _ := m["text"].(string)
		o := domain.Option{
			ID:         id,
			Text:       text,
			OrderIndex: i,
			Points:     toInt(m["points"]),
		}
		if s, ok := m["style_category"].(string); ok && s != "" {
			o.StyleCategory = &s
		}
		if s, ok := m["image_url"].(string); ok && s != "" {
			o.ImageURL = &s
		}
		out = append(out, o)
	}
	return out
}

func extraBlocks(raw any) []domain.Block {
	var out []domain.Block
	for _, item := range asList(raw) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		typ, _ := m["type"].(string)
		if id == "" || !domain.BlockType(typ).Valid() {
			continue
		}
		content, _ := m["content"].(map[string]any)
		b := domain.Block{ID: id, Type: domain.BlockType(typ), Content: domain.CloneMap(content)}
		if b.Content == nil {
			b.Content = map[string]any{}
		}
		if st, ok := m["style"].(map[string]any); ok && len(st) > 0 {
			b.Style = domain.CloneMap(st)
		}
		out = append(out, b)
	}
	return out
}

// applyOrder arranges keys by a persisted order list. Keys missing from the
// list keep their relative order after the listed ones.
func applyOrder(keys []string, raw any) []string {
	order := asList(raw)
	if len(order) == 0 {
		return keys
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	placed := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, item := range order {
		k, ok := item.(string)
		if !ok || !present[k] || placed[k] {
			continue
		}
		placed[k] = true
		out = append(out, k)
	}
	for _, k := range keys {
		if !placed[k] {
			out = append(out, k)
		}
	}
	return out
}

func asList(raw any) []any {
	switch t := raw.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n))
	case float32:
		return int(math.Round(float64(n)))
	case int:
		return n
	case int64:
		return int(n)
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
