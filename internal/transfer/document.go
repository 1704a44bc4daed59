package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/funnel-studio/internal/domain"
)

// Version is the document format version written by Export. Documents with
// any 1.x version are accepted.
const Version = "1.0"

// Document is the portable form of a whole funnel.
type Document struct {
	Name         string         `json:"name" validate:"notblank"`
	Slug         string         `json:"slug"`
	GlobalConfig map[string]any `json:"globalConfig"`
	Stages       []StageDoc     `json:"stages" validate:"unique=OrderIndex,dive"`
	ExportDate   string         `json:"exportDate,omitempty"`
	Version      string         `json:"version" validate:"version1"`
}

// StageDoc is one stage of a Document.
type StageDoc struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type" validate:"notblank"`
	Title      string         `json:"title"`
	OrderIndex int            `json:"order_index" validate:"gte=0"`
	IsEnabled  *bool          `json:"is_enabled,omitempty"`
	Config     map[string]any `json:"config"`
	Blocks     []BlockDoc     `json:"blocks" validate:"dive"`
}

// Enabled reports the stage's enabled flag. Stages without the field are
// enabled.
func (s StageDoc) Enabled() bool {
	return s.IsEnabled == nil || *s.IsEnabled
}

// DomainBlocks converts the stage's blocks to editor blocks.
func (s StageDoc) DomainBlocks() []domain.Block {
	out := make([]domain.Block, len(s.Blocks))
	for i, b := range s.Blocks {
		out[i] = domain.Block{
			ID:      b.ID,
			Type:    domain.BlockType(b.Type),
			Order:   b.Order,
			Content: domain.CloneMap(b.Content),
			Style:   domain.CloneMap(b.Style),
		}
	}
	return out
}

// BlockDoc is one block of a StageDoc.
type BlockDoc struct {
	ID      string         `json:"id" validate:"notblank"`
	Type    string         `json:"type" validate:"blocktype"`
	Order   int            `json:"order" validate:"gte=0"`
	Content map[string]any `json:"content"`
	Style   map[string]any `json:"style,omitempty"`
}

// Export builds the document for a funnel's current state. blocks is keyed
// by stage id; now stamps exportDate.
func Export(f domain.Funnel, stages []domain.Stage, blocks map[string][]domain.Block, now func() time.Time) Document {
	sorted := make([]domain.Stage, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	doc := Document{
		Name:         f.Name,
		Slug:         f.Slug,
		GlobalConfig: nonNil(domain.CloneMap(f.GlobalConfig)),
		Stages:       make([]StageDoc, 0, len(sorted)),
		ExportDate:   now().UTC().Format(time.RFC3339),
		Version:      Version,
	}
	for _, st := range sorted {
		enabled := st.IsEnabled
		sd := StageDoc{
			ID:         st.ID,
			Type:       st.Type,
			Title:      st.Title,
			OrderIndex: st.OrderIndex,
			IsEnabled:  &enabled,
			Config:     nonNil(domain.CloneMap(st.Config)),
		}
		stageBlocks := domain.CloneBlocks(blocks[st.ID])
		sort.SliceStable(stageBlocks, func(i, j int) bool { return stageBlocks[i].Order < stageBlocks[j].Order })
		sd.Blocks = make([]BlockDoc, 0, len(stageBlocks))
		for i, b := range stageBlocks {
			bd := BlockDoc{
				ID:      b.ID,
				Type:    string(b.Type),
				Order:   i,
				Content: nonNil(b.Content),
			}
			if len(b.Style) > 0 {
				bd.Style = b.Style
			}
			sd.Blocks = append(sd.Blocks, bd)
		}
		doc.Stages = append(doc.Stages, sd)
	}
	return doc
}

// Encode serializes a document with two-space indentation and a trailing
// newline.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the suggested download name of an export.
func FileName(slug string, at time.Time) string {
	if slug == "" {
		slug = "funnel"
	}
	return fmt.Sprintf("%s-%s.json", slug, at.UTC().Format("20060102-150405"))
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
