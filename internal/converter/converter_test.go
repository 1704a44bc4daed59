package converter

import (
	"testing"

	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func questionStage() (domain.Stage, []domain.Option) {
	st := domain.Stage{
		ID:         "stage-q1",
		FunnelID:   "funnel-1",
		Type:       domain.StageQuestion,
		Title:      "What is your goal?",
		OrderIndex: 1,
		IsEnabled:  true,
		Config:     map[string]any{},
	}
	opts := []domain.Option{
		{ID: "opt-a", StageID: st.ID, Text: "A", OrderIndex: 0, Points: 1},
		{ID: "opt-b", StageID: st.ID, Text: "B", OrderIndex: 1, Points: 2},
	}
	return st, opts
}

func blockOfType(t *testing.T, blocks []domain.Block, bt domain.BlockType) domain.Block {
	t.Helper()
	for _, b := range blocks {
		if b.Type == bt {
			return b
		}
	}
	t.Fatalf("no %s block in %d blocks", bt, len(blocks))
	return domain.Block{}
}

func types(blocks []domain.Block) []domain.BlockType {
	out := make([]domain.BlockType, len(blocks))
	for i, b := range blocks {
		out[i] = b.Type
	}
	return out
}

func TestToBlocks_DefaultLayouts(t *testing.T) {
	tests := []struct {
		stageType string
		want      []domain.BlockType
	}{
		{domain.StageIntro, []domain.BlockType{domain.BlockHeader, domain.BlockText, domain.BlockImage, domain.BlockInput, domain.BlockButton}},
		{domain.StageQuestion, []domain.BlockType{domain.BlockHeader, domain.BlockQuestionText, domain.BlockOptionsList}},
		{domain.StageStrategic, []domain.BlockType{domain.BlockHeader, domain.BlockQuestionText, domain.BlockOptionsList, domain.BlockImage}},
		{domain.StageTransition, []domain.BlockType{domain.BlockHeader, domain.BlockText, domain.BlockProgress, domain.BlockButton}},
		{domain.StageResult, []domain.BlockType{domain.BlockHeader, domain.BlockResultLayout, domain.BlockCTA}},
		{domain.StageOffer, []domain.BlockType{domain.BlockHeader, domain.BlockPricing, domain.BlockGuarantee, domain.BlockCTA}},
		{"quiz-bonus-round", []domain.BlockType{domain.BlockHeader, domain.BlockText, domain.BlockButton}},
		{"", []domain.BlockType{domain.BlockHeader, domain.BlockText, domain.BlockButton}},
	}

	for _, tt := range tests {
		t.Run(tt.stageType, func(t *testing.T) {
			st := domain.Stage{ID: "s-" + tt.stageType, Type: tt.stageType, Title: "T"}
			blocks := ToBlocks(st, nil, 3, 0)
			assert.Equal(t, tt.want, types(blocks))
			for i, b := range blocks {
				assert.Equal(t, i, b.Order)
				assert.NotEmpty(t, b.ID)
			}
			require.NoError(t, CheckInvariants(blocks, tt.stageType))
		})
	}
}

func TestToBlocks_Deterministic(t *testing.T) {
	st, opts := questionStage()
	st.Config = map[string]any{
		"styles": map[string]any{"header": map[string]any{"color": "#111"}},
	}

	first := ToBlocks(st, opts, 5, 1)
	second := ToBlocks(st, opts, 5, 1)
	assert.Equal(t, first, second)

	// Mutating the output must not leak into the input stage config.
	first[0].Style["color"] = "#fff"
	third := ToBlocks(st, opts, 5, 1)
	assert.Equal(t, "#111", third[0].Style["color"])
}

func TestToBlocks_HeaderProgressAndTitle(t *testing.T) {
	st, opts := questionStage()
	blocks := ToBlocks(st, opts, 4, 1)

	header := blockOfType(t, blocks, domain.BlockHeader)
	assert.Equal(t, float64(50), header.Content["progress"])
	assert.Equal(t, "What is your goal?", header.Content["title"])

	assert.Equal(t, float64(0), ToBlocks(st, opts, 0, 0)[0].Content["progress"])
}

func TestToBlocks_OptionsMirrorRowsInOrder(t *testing.T) {
	st, opts := questionStage()
	opts[0].OrderIndex, opts[1].OrderIndex = 1, 0
	cat := "bold"
	opts[0].StyleCategory = &cat

	list := blockOfType(t, ToBlocks(st, opts, 2, 0), domain.BlockOptionsList)
	items := list.Content["options"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].(map[string]any)["text"])
	assert.Equal(t, "A", items[1].(map[string]any)["text"])
	assert.Equal(t, "bold", items[1].(map[string]any)["style_category"])
	assert.Equal(t, float64(1), items[1].(map[string]any)["points"])
}

func TestToBlocks_LegacyConfigFields(t *testing.T) {
	st := domain.Stage{
		ID:    "intro-1",
		Type:  domain.StageIntro,
		Title: "Welcome",
		Config: map[string]any{
			"description": "Take the 60 second quiz",
			"image_url":   "https://cdn.example.com/hero.png",
			"button_text": "Start",
		},
	}
	blocks := ToBlocks(st, nil, 1, 0)
	assert.Equal(t, "Take the 60 second quiz", blockOfType(t, blocks, domain.BlockText).Content["text"])
	assert.Equal(t, "https://cdn.example.com/hero.png", blockOfType(t, blocks, domain.BlockImage).Content["url"])
	assert.Equal(t, "Start", blockOfType(t, blocks, domain.BlockButton).Content["text"])
}

func TestFromBlocks_ReorderedOptions(t *testing.T) {
	st, opts := questionStage()
	blocks := ToBlocks(st, opts, 2, 0)

	for i := range blocks {
		if blocks[i].Type != domain.BlockOptionsList {
			continue
		}
		items := blocks[i].Content["options"].([]any)
		blocks[i].Content["options"] = []any{items[1], items[0]}
	}

	_, rows := FromBlocks(blocks, st.Type)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].Text)
	assert.Equal(t, 0, rows[0].OrderIndex)
	assert.Equal(t, "opt-b", rows[0].ID)
	assert.Equal(t, "A", rows[1].Text)
	assert.Equal(t, 1, rows[1].OrderIndex)
	assert.Equal(t, 2, rows[0].Points)
}

func TestFromBlocks_AssignsIDsToNewOptions(t *testing.T) {
	st, _ := questionStage()
	blocks := ToBlocks(st, nil, 1, 0)
	for i := range blocks {
		if blocks[i].Type == domain.BlockOptionsList {
			blocks[i].Content["options"] = []any{map[string]any{"text": "Fresh", "points": float64(3)}}
		}
	}

	_, rows := FromBlocks(blocks, st.Type)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].ID)
	assert.Equal(t, 3, rows[0].Points)
}

func TestFromBlocks_NoOptionsListMeansNoRows(t *testing.T) {
	st := domain.Stage{ID: "r1", Type: domain.StageResult, Title: "Result"}
	_, rows := FromBlocks(ToBlocks(st, nil, 1, 0), st.Type)
	assert.Nil(t, rows)
}

func TestRoundTrip_SchemaConfigIsIdempotent(t *testing.T) {
	for _, stageType := range append(KnownStageTypes(), "custom") {
		t.Run(stageType, func(t *testing.T) {
			seed := domain.Stage{ID: "rt-" + stageType, Type: stageType, Title: "Round trip"}
			patch, _ := FromBlocks(ToBlocks(seed, nil, 3, 2), stageType)
			schemaConfig := ApplyPatch(nil, patch)

			st := seed
			st.Config = schemaConfig
			again, _ := FromBlocks(ToBlocks(st, nil, 7, 4), stageType)
			assert.Equal(t, schemaConfig, ApplyPatch(schemaConfig, again))
		})
	}
}

func TestRoundTrip_StylesExtrasAndOrder(t *testing.T) {
	st := domain.Stage{ID: "res-1", Type: domain.StageResult, Title: "Your result"}
	blocks := ToBlocks(st, nil, 1, 0)

	blocks[1].Style = map[string]any{"background": "#fafafa"}
	extra := domain.Block{ID: "extra-img", Type: domain.BlockImage, Order: -1, Content: map[string]any{"url": "x.png"}}
	blocks = Normalize(append(blocks, extra))

	patch, _ := FromBlocks(blocks, st.Type)
	require.NotNil(t, patch[KeyBlockOrder])
	require.NotNil(t, patch[KeyExtraBlocks])
	require.NotNil(t, patch[KeyStyles])

	st.Config = ApplyPatch(st.Config, patch)
	rebuilt := ToBlocks(st, nil, 1, 0)
	assert.Equal(t, []domain.BlockType{domain.BlockImage, domain.BlockHeader, domain.BlockResultLayout, domain.BlockCTA}, types(rebuilt))
	assert.Equal(t, "extra-img", rebuilt[0].ID)
	assert.Equal(t, "#fafafa", rebuilt[2].Style["background"])

	// Dropping the extra block and restoring the default order clears the keys.
	patch, _ = FromBlocks(rebuilt[1:], st.Type)
	cleared := ApplyPatch(st.Config, patch)
	assert.NotContains(t, cleared, KeyExtraBlocks)
	assert.NotContains(t, cleared, KeyBlockOrder)
	assert.Contains(t, cleared, KeyStyles)
}

func TestToBlocks_ExtrasNeverDuplicateSingleSlots(t *testing.T) {
	st, opts := questionStage()
	st.Config = map[string]any{
		KeyExtraBlocks: []any{
			map[string]any{"id": "h2", "type": "header", "content": map[string]any{"title": "again"}},
			map[string]any{"id": "l2", "type": "options-list", "content": map[string]any{}},
			map[string]any{"id": "t2", "type": "text", "content": map[string]any{"text": "kept"}},
		},
	}
	blocks := ToBlocks(st, opts, 1, 0)
	require.NoError(t, CheckInvariants(blocks, st.Type))
	assert.Equal(t, []domain.BlockType{domain.BlockHeader, domain.BlockQuestionText, domain.BlockOptionsList, domain.BlockText}, types(blocks))

	intro := domain.Stage{ID: "intro-1", Type: domain.StageIntro, Title: "Hi", Config: map[string]any{
		KeyExtraBlocks: []any{map[string]any{"id": "h2", "type": "header"}},
	}}
	blocks = ToBlocks(intro, nil, 1, 0)
	require.NoError(t, CheckInvariants(blocks, intro.Type))

	// Types without an options-list slot keep it as an extra.
	custom := domain.Stage{ID: "c-1", Type: "custom", Title: "C", Config: map[string]any{
		KeyExtraBlocks: []any{map[string]any{"id": "l1", "type": "options-list"}},
	}}
	blocks = ToBlocks(custom, nil, 1, 0)
	assert.Equal(t, "l1", blocks[len(blocks)-1].ID)
}

func TestEnsureHeader(t *testing.T) {
	st := domain.Stage{ID: "new-stage", Type: "custom", Title: "Fresh"}

	blocks := EnsureHeader(nil, st, 1, 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, domain.BlockHeader, blocks[0].Type)
	assert.Equal(t, "Fresh", blocks[0].Content["title"])
	require.NoError(t, CheckInvariants(blocks, st.Type))

	text := domain.Block{ID: "t1", Type: domain.BlockText, Content: map[string]any{"text": "hi"}}
	blocks = EnsureHeader([]domain.Block{text}, st, 1, 0)
	assert.Equal(t, []domain.BlockType{domain.BlockHeader, domain.BlockText}, types(blocks))
	assert.Equal(t, 1, blocks[1].Order)
}

func TestSetProgress(t *testing.T) {
	st, opts := questionStage()
	blocks := ToBlocks(st, opts, 4, 0)
	require.Equal(t, float64(25), blocks[0].Content["progress"])

	moved := SetProgress(blocks, 4, 3)
	assert.Equal(t, float64(100), moved[0].Content["progress"])
	assert.Equal(t, float64(25), blocks[0].Content["progress"], "input is not modified")
}

func TestCheckInvariants(t *testing.T) {
	st, opts := questionStage()
	valid := ToBlocks(st, opts, 1, 0)
	require.NoError(t, CheckInvariants(valid, st.Type))

	noHeader := valid[1:]
	assert.ErrorIs(t, CheckInvariants(noHeader, st.Type), ErrInvariant)

	twoHeaders := append(domain.CloneBlocks(valid), domain.Block{ID: "h2", Type: domain.BlockHeader})
	assert.ErrorIs(t, CheckInvariants(twoHeaders, st.Type), ErrInvariant)

	noList := []domain.Block{valid[0], valid[1]}
	assert.ErrorIs(t, CheckInvariants(noList, st.Type), ErrInvariant)
	assert.NoError(t, CheckInvariants(noList, "custom"))

	dup := append(domain.CloneBlocks(valid), domain.Block{ID: valid[1].ID, Type: domain.BlockText})
	assert.ErrorIs(t, CheckInvariants(dup, st.Type), ErrInvariant)

	unknown := append(domain.CloneBlocks(valid), domain.Block{ID: "x", Type: "carousel"})
	assert.ErrorIs(t, CheckInvariants(unknown, st.Type), ErrInvariant)
}

func TestApplyPatch(t *testing.T) {
	cfg := map[string]any{"keep": "me", "drop": true, "header": map[string]any{"title": "old"}}
	out := ApplyPatch(cfg, ConfigPatch{"drop": nil, "header": map[string]any{"title": "new"}})

	assert.Equal(t, map[string]any{"keep": "me", "header": map[string]any{"title": "new"}}, out)
	assert.Equal(t, "old", cfg["header"].(map[string]any)["title"], "input config must not be mutated")
}
