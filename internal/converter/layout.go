package converter

import (
	"github.com/ignite/funnel-studio/internal/domain"
)

// Slot binds one block of a stage layout to the config key that persists it.
type Slot struct {
	Key      string
	Type     domain.BlockType
	Defaults func(stage domain.Stage) map[string]any
}

// Layout is the default block set of a stage type.
type Layout struct {
	StageType string
	Slots     []Slot
}

// slotFor returns the layout slot that persists blocks of type t.
func (l Layout) slotFor(t domain.BlockType) (Slot, bool) {
	for _, s := range l.Slots {
		if s.Type == t {
			return s, true
		}
	}
	return Slot{}, false
}

// Keys returns the slot keys in layout order.
func (l Layout) Keys() []string {
	keys := make([]string, len(l.Slots))
	for i, s := range l.Slots {
		keys[i] = s.Key
	}
	return keys
}

// Config keys shared by every layout.
const (
	KeyStyles      = "styles"
	KeyExtraBlocks = "extra_blocks"
	KeyBlockOrder  = "block_order"
)

var (
	headerSlot = Slot{Key: "header", Type: domain.BlockHeader, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"title":         st.Title,
			"subtitle":      legacyString(st.Config, "subtitle", ""),
			"show_logo":     true,
			"show_progress": true,
		}
	}}
	textSlot = Slot{Key: "text", Type: domain.BlockText, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"text":  legacyString(st.Config, "description", ""),
			"align": "center",
		}
	}}
	imageSlot = Slot{Key: "image", Type: domain.BlockImage, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"url": legacyString(st.Config, "image_url", ""),
			"alt": legacyString(st.Config, "image_alt", ""),
		}
	}}
	inputSlot = Slot{Key: "input", Type: domain.BlockInput, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"field":       legacyString(st.Config, "input_field", "email"),
			"label":       legacyString(st.Config, "input_label", "Your email"),
			"placeholder": legacyString(st.Config, "input_placeholder", "you@example.com"),
			"required":    true,
		}
	}}
	buttonSlot = Slot{Key: "button", Type: domain.BlockButton, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"text":   legacyString(st.Config, "button_text", "Continue"),
			"action": "next",
		}
	}}
	questionSlot = Slot{Key: "question", Type: domain.BlockQuestionText, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"text":     legacyString(st.Config, "question", st.Title),
			"helper":   legacyString(st.Config, "helper_text", ""),
			"required": true,
		}
	}}
	optionsSlot = Slot{Key: "options_list", Type: domain.BlockOptionsList, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"multi_select": legacyBool(st.Config, "multi_select", false),
			"layout":       legacyString(st.Config, "options_layout", "list"),
		}
	}}
	resultSlot = Slot{Key: "result", Type: domain.BlockResultLayout, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"headline":    legacyString(st.Config, "result_title", st.Title),
			"description": legacyString(st.Config, "result_description", ""),
			"show_score":  true,
		}
	}}
	ctaSlot = Slot{Key: "cta", Type: domain.BlockCTA, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"text": legacyString(st.Config, "cta_text", "Get started"),
			"url":  legacyString(st.Config, "cta_url", ""),
		}
	}}
	pricingSlot = Slot{Key: "pricing", Type: domain.BlockPricing, Defaults: func(st domain.Stage) map[string]any {
		price, ok := st.Config["price"]
		if !ok {
			price = float64(0)
		}
		return map[string]any{
			"price":         domain.CloneValue(price),
			"currency":      legacyString(st.Config, "currency", "USD"),
			"period":        legacyString(st.Config, "period", ""),
			"compare_price": domain.CloneValue(st.Config["compare_price"]),
		}
	}}
	guaranteeSlot = Slot{Key: "guarantee", Type: domain.BlockGuarantee, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"text": legacyString(st.Config, "guarantee_text", "30-day money-back guarantee"),
		}
	}}
	progressSlot = Slot{Key: "progress", Type: domain.BlockProgress, Defaults: func(st domain.Stage) map[string]any {
		return map[string]any{
			"label":            legacyString(st.Config, "loading_text", "Analyzing your answers..."),
			"duration_seconds": float64(3),
		}
	}}
)

var layouts = map[string]Layout{
	domain.StageIntro:      {StageType: domain.StageIntro, Slots: []Slot{headerSlot, textSlot, imageSlot, inputSlot, buttonSlot}},
	domain.StageQuestion:   {StageType: domain.StageQuestion, Slots: []Slot{headerSlot, questionSlot, optionsSlot}},
	domain.StageStrategic:  {StageType: domain.StageStrategic, Slots: []Slot{headerSlot, questionSlot, optionsSlot, imageSlot}},
	domain.StageTransition: {StageType: domain.StageTransition, Slots: []Slot{headerSlot, textSlot, progressSlot, buttonSlot}},
	domain.StageResult:     {StageType: domain.StageResult, Slots: []Slot{headerSlot, resultSlot, ctaSlot}},
	domain.StageOffer:      {StageType: domain.StageOffer, Slots: []Slot{headerSlot, pricingSlot, guaranteeSlot, ctaSlot}},
}

// fallbackLayout serves every stage type without a registered layout.
var fallbackLayout = Layout{Slots: []Slot{headerSlot, textSlot, buttonSlot}}

// LayoutFor resolves the layout of a stage type. Unknown types get the
// minimal header+text+button layout.
func LayoutFor(stageType string) Layout {
	if l, ok := layouts[stageType]; ok {
		return l
	}
	l := fallbackLayout
	l.StageType = stageType
	return l
}

// KnownStageTypes lists stage types with a dedicated layout.
func KnownStageTypes() []string {
	return []string{
		domain.StageIntro, domain.StageQuestion, domain.StageStrategic,
		domain.StageTransition, domain.StageResult, domain.StageOffer,
	}
}

func legacyString(cfg map[string]any, key, fallback string) string {
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func legacyBool(cfg map[string]any, key string, fallback bool) bool {
	if b, ok := cfg[key].(bool); ok {
		return b
	}
	return fallback
}
