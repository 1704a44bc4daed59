package transfer_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedClock = func() time.Time { return time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC) }

func fixture() (domain.Funnel, []domain.Stage, map[string][]domain.Block) {
	f := domain.Funnel{
		ID:           "f1",
		Slug:         "style-quiz",
		Name:         "Style Quiz",
		GlobalConfig: map[string]any{"brand": map[string]any{"color": "#ff0066"}, "logo": "<b>&</b>"},
	}
	stages := []domain.Stage{
		{ID: "s-result", FunnelID: "f1", Type: domain.StageResult, Title: "Your style", OrderIndex: 20, IsEnabled: true},
		{ID: "s-intro", FunnelID: "f1", Type: domain.StageIntro, Title: "Welcome", OrderIndex: 0, IsEnabled: true,
			Config: map[string]any{"description": "Find your style"}},
		{ID: "s-q1", FunnelID: "f1", Type: domain.StageQuestion, Title: "Pick a color", OrderIndex: 10, IsEnabled: false},
	}
	options := []domain.Option{
		{ID: "o1", StageID: "s-q1", Text: "Red", OrderIndex: 0, Points: 2},
		{ID: "o2", StageID: "s-q1", Text: "Blue", OrderIndex: 1, Points: 1},
	}
	blocks := map[string][]domain.Block{}
	for i, st := range stages {
		var opts []domain.Option
		if st.ID == "s-q1" {
			opts = options
		}
		blocks[st.ID] = converter.ToBlocks(st, opts, len(stages), i)
	}
	blocks["s-intro"][1].Style = map[string]any{"color": "red"}
	return f, stages, blocks
}

func TestExportOrdersStagesAndStampsDate(t *testing.T) {
	f, stages, blocks := fixture()
	doc := transfer.Export(f, stages, blocks, fixedClock)

	require.Len(t, doc.Stages, 3)
	assert.Equal(t, "s-intro", doc.Stages[0].ID)
	assert.Equal(t, "s-q1", doc.Stages[1].ID)
	assert.Equal(t, "s-result", doc.Stages[2].ID)
	assert.Equal(t, "2026-04-01T09:30:00Z", doc.ExportDate)
	assert.Equal(t, transfer.Version, doc.Version)
	assert.False(t, doc.Stages[1].Enabled())
	assert.NotNil(t, doc.Stages[2].Config, "nil config exports as an empty object")
}

func TestExportIsByteDeterministic(t *testing.T) {
	f, stages, blocks := fixture()
	a, err := transfer.Encode(transfer.Export(f, stages, blocks, fixedClock))
	require.NoError(t, err)

	// Reverse the input order; output must not change.
	rev := []domain.Stage{stages[2], stages[1], stages[0]}
	for i := 0; i < 5; i++ {
		b, err := transfer.Encode(transfer.Export(f, rev, blocks, fixedClock))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
	assert.True(t, strings.HasSuffix(string(a), "}\n"))
	assert.Contains(t, string(a), "\n  \"name\": \"Style Quiz\"")
	assert.Contains(t, string(a), "<b>&</b>", "HTML is not escaped")
}

func TestExportImportRoundTrip(t *testing.T) {
	f, stages, blocks := fixture()
	doc := transfer.Export(f, stages, blocks, fixedClock)
	raw, err := transfer.Encode(doc)
	require.NoError(t, err)

	back, err := transfer.Read(raw)
	require.NoError(t, err)
	assert.Equal(t, doc, *back)

	// Blocks survive intact, including style and computed options.
	intro := back.Stages[0].DomainBlocks()
	assert.Equal(t, map[string]any{"color": "red"}, intro[1].Style)
	q := back.Stages[1].DomainBlocks()
	assert.Equal(t, blocks["s-q1"], q)
}

func TestValidateReportsEveryMissingField(t *testing.T) {
	parsed, err := transfer.Parse([]byte(`{
		"stages": [
			{"type": "intro", "title": "Hi", "order_index": 0},
			{"title": "No type", "order_index": 1}
		],
		"version": "1.0"
	}`))
	require.NoError(t, err)

	doc, issues := transfer.Validate(parsed)
	assert.Nil(t, doc)
	require.Len(t, issues, 2)
	assert.Equal(t, "name", issues[0].Path)
	assert.Equal(t, "is required", issues[0].Message)
	assert.Equal(t, "stages[1].type", issues[1].Path)
}

func TestValidateCollectsTypeAndValueIssues(t *testing.T) {
	parsed, err := transfer.Parse([]byte(`{
		"name": "   ",
		"stages": [
			{"type": "question", "title": "Q", "order_index": -1, "is_enabled": "yes",
			 "blocks": [
				{"id": "b1", "type": "carousel", "content": {}},
				{"id": "b2", "type": "header", "content": "nope"},
				7
			 ]},
			{"type": "result", "title": "R", "order_index": 1.5}
		],
		"version": "2.0"
	}`))
	require.NoError(t, err)

	_, issues := transfer.Validate(parsed)
	paths := make([]string, len(issues))
	for i, is := range issues {
		paths[i] = is.Path
	}
	assert.Equal(t, []string{
		"name",
		"stages[0].order_index",
		"stages[0].is_enabled",
		"stages[0].blocks[0].type",
		"stages[0].blocks[1].content",
		"stages[0].blocks[2]",
		"stages[1].order_index",
		"version",
	}, paths)
	assert.Equal(t, "must not be blank", issues[0].Message)
	assert.Equal(t, `unknown block type "carousel"`, issues[3].Message)
	assert.Equal(t, "must be an integer", issues[6].Message)
}

func TestValidateDuplicateOrderIndex(t *testing.T) {
	parsed, err := transfer.Parse([]byte(`{"name":"x","version":"1.2","stages":[
		{"type":"intro","title":"a","order_index":3},
		{"type":"result","title":"b","order_index":3}]}`))
	require.NoError(t, err)

	_, issues := transfer.Validate(parsed)
	require.Len(t, issues, 1)
	assert.Equal(t, "stages", issues[0].Path)
}

func TestValidateRejectsNonObject(t *testing.T) {
	parsed, err := transfer.Parse([]byte(`[1,2]`))
	require.NoError(t, err)
	_, issues := transfer.Validate(parsed)
	require.Len(t, issues, 1)
	assert.Equal(t, "", issues[0].Path)
}

func TestValidationErrorsIsError(t *testing.T) {
	_, err := transfer.Read([]byte(`{"stages":[],"version":"1.0"}`))
	var verrs transfer.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 1)
	assert.Contains(t, err.Error(), "name: is required")
	assert.Nil(t, transfer.ValidationErrors(nil).Err())
}

func TestParseErrorPositions(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		line   int
		column int
	}{
		{"bad value", `{"a":}`, 1, 6},
		{"second line", "{\n  \"a\": 1,\n  \"b\" 2\n}", 3, 7},
		{"trailing data", `{"a":1} x`, 1, 9},
		{"unterminated", "{\"a\":\n[1,2", 2, 5},
		{"empty", "", 1, 1},
		{"multibyte column", `{"é": ]}`, 1, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transfer.Parse([]byte(tt.raw))
			var perr *transfer.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.line, perr.Line, "line")
			assert.Equal(t, tt.column, perr.Column, "column")
			assert.NotEmpty(t, perr.Message)
		})
	}
}

func TestParseAcceptsTrailingWhitespace(t *testing.T) {
	v, err := transfer.Parse([]byte("{\"a\": 1}\n\n  "))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestPlanNeverDeletes(t *testing.T) {
	existing := []domain.Stage{
		{ID: "a", OrderIndex: 0},
		{ID: "b", OrderIndex: 1},
		{ID: "c", OrderIndex: 2},
		{ID: "d", OrderIndex: 5},
	}
	doc := &transfer.Document{Stages: []transfer.StageDoc{
		{Type: "intro", Title: "new c", OrderIndex: 2},
		{Type: "result", Title: "brand new", OrderIndex: 9},
		{Type: "intro", Title: "new a", OrderIndex: 0},
	}}

	plan := transfer.Plan(existing, doc)

	require.Len(t, plan.Updates, 2)
	assert.Equal(t, "a", plan.Updates[0].Existing.ID)
	assert.Equal(t, "new a", plan.Updates[0].Imported.Title)
	assert.Equal(t, "c", plan.Updates[1].Existing.ID)

	require.Len(t, plan.Creates, 1)
	assert.Equal(t, 9, plan.Creates[0].OrderIndex)

	require.Len(t, plan.Untouched, 2)
	assert.Equal(t, "b", plan.Untouched[0].ID)
	assert.Equal(t, "d", plan.Untouched[1].ID)
	assert.Equal(t, len(existing), len(plan.Updates)+len(plan.Untouched))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "style-quiz-20260401-093000.json", transfer.FileName("style-quiz", fixedClock()))
	assert.Equal(t, "funnel-20260401-093000.json", transfer.FileName("", fixedClock()))
}
