package publish_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	funnels map[string]*domain.Funnel
	fail    error
}

func (m *memStore) GetFunnel(_ context.Context, id string) (*domain.Funnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.funnels[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) UpdateFunnelStatus(_ context.Context, id string, status domain.FunnelStatus, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.funnels[id].Status = status
	m.funnels[id].PublishedAt = at
	return nil
}

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memArchive) Put(_ context.Context, key string, data []byte) error {
	if a.err != nil {
		return a.err
	}
	a.objects[key] = data
	return nil
}

type slugSet map[string]string

func (s slugSet) SlugTaken(_ context.Context, slug, except string) (bool, error) {
	owner, ok := s[slug]
	return ok && owner != except, nil
}

func stage(id, typ, title string, order int) domain.Stage {
	return domain.Stage{ID: id, FunnelID: "f1", Type: typ, Title: title, OrderIndex: order, IsEnabled: true}
}

// validInput is a funnel that passes every error check.
func validInput() publish.Input {
	stages := []domain.Stage{
		stage("s1", domain.StageIntro, "Welcome", 0),
		stage("s2", domain.StageQuestion, "Pick one", 1),
		stage("s3", domain.StageResult, "Result", 2),
	}
	stages[0].Config = map[string]any{"image_url": "https://cdn.example.com/hero.png"}
	opts := []domain.Option{
		{ID: "o1", StageID: "s2", Text: "A", OrderIndex: 0, Points: 1},
		{ID: "o2", StageID: "s2", Text: "B", OrderIndex: 1, Points: 2},
	}
	blocks := map[string][]domain.Block{}
	for i, st := range stages {
		var o []domain.Option
		if st.ID == "s2" {
			o = opts
		}
		blocks[st.ID] = converter.ToBlocks(st, o, len(stages), i)
	}
	return publish.Input{FunnelID: "f1", Slug: "style-quiz", Stages: stages, Blocks: blocks}
}

func codes(issues []domain.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestValidateCleanFunnel(t *testing.T) {
	v := publish.NewValidator(slugSet{"style-quiz": "f1"}, nil)
	res, err := v.Validate(context.Background(), validInput())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.False(t, res.Blocked())
}

func TestValidateSlug(t *testing.T) {
	v := publish.NewValidator(slugSet{"taken": "other"}, nil)
	for slug, code := range map[string]string{
		"":             "slug_required",
		"Bad Slug":     "slug_invalid",
		"double--dash": "slug_invalid",
		"taken":        "slug_taken",
	} {
		in := validInput()
		in.Slug = slug
		res, err := v.Validate(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, []string{code}, codes(res.Errors), "slug %q", slug)
	}
}

func TestValidateMissingTerminalAndOptions(t *testing.T) {
	in := validInput()
	in.Stages[2].IsEnabled = false
	// Strip the options out of the options-list block.
	for i, b := range in.Blocks["s2"] {
		if b.Type == domain.BlockOptionsList {
			in.Blocks["s2"][i].Content["options"] = []any{}
		}
	}

	res, err := publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"options_required", "terminal_required"}, codes(res.Errors))
	assert.Contains(t, codes(res.Warnings), "stage_disabled")
	assert.True(t, res.Blocked())
}

func TestValidateStageFieldsAndOptionText(t *testing.T) {
	in := validInput()
	in.Stages[1].Title = "  "
	for i, b := range in.Blocks["s2"] {
		if b.Type == domain.BlockOptionsList {
			in.Blocks["s2"][i].Content["options"] = []any{
				map[string]any{"id": "o1", "text": "", "points": float64(0)},
				map[string]any{"id": "o2", "text": "B", "points": float64(0)},
			}
		}
	}

	res, err := publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title_required", "option_text_required"}, codes(res.Errors))
	assert.Contains(t, codes(res.Warnings), "options_unscored")

	for _, is := range res.Errors {
		if is.Code == "option_text_required" {
			assert.Equal(t, "stages[1].options[0].text", is.Path)
			assert.Equal(t, "s2", is.StageID)
		}
	}
}

func TestValidateHeaderInvariant(t *testing.T) {
	in := validInput()
	in.Blocks["s3"] = in.Blocks["s3"][1:] // drop header

	res, err := publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"block_invariant"}, codes(res.Errors))
	assert.Equal(t, "stages[2].blocks", res.Errors[0].Path)
}

func TestValidateWarnings(t *testing.T) {
	in := validInput()
	in.Stages[0].Type = "landing"
	in.Blocks["s1"] = converter.ToBlocks(in.Stages[0], nil, 3, 0)
	in.Blocks["s1"] = append(in.Blocks["s1"], domain.Block{ID: "img", Type: domain.BlockImage, Order: 3, Content: map[string]any{"url": ""}})

	res, err := publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.ElementsMatch(t, []string{"intro_missing", "image_missing"}, codes(res.Warnings))
	assert.False(t, res.Blocked(), "warnings never block")
}

func TestValidateFallsBackToOptionRows(t *testing.T) {
	in := validInput()
	delete(in.Blocks, "s2")
	in.Options = map[string][]domain.Option{}

	res, err := publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"options_required"}, codes(res.Errors))

	in.Options["s2"] = []domain.Option{{ID: "o", Text: "Yes", Points: 1}}
	res, err = publish.NewValidator(nil, nil).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}

func TestCustomRules(t *testing.T) {
	rules, err := publish.CompileRules([]publish.RuleSpec{
		{Name: "short-question", Severity: "warning", Expr: `stage.type == "question" && options < 3`, Message: "questions should offer at least 3 options"},
		{Name: "result-needs-cta", Severity: "error", Expr: `stage.type == "result" && !("cta" in block_types)`, Message: "result stage needs a call to action"},
	})
	require.NoError(t, err)

	in := validInput()
	in.Blocks["s3"] = in.Blocks["s3"][:2]

	res, err := publish.NewValidator(nil, rules).Validate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule:result-needs-cta"}, codes(res.Errors))
	assert.Equal(t, []string{"rule:short-question"}, codes(res.Warnings))
	assert.Equal(t, "s3", res.Errors[0].StageID)
}

func TestCompileRulesRejectsBadInput(t *testing.T) {
	_, err := publish.CompileRules([]publish.RuleSpec{{Name: "bad", Expr: "stage.type =="}})
	assert.ErrorIs(t, err, publish.ErrInvalidRule)

	_, err = publish.CompileRules([]publish.RuleSpec{{Name: "sev", Severity: "fatal", Expr: "true"}})
	assert.ErrorIs(t, err, publish.ErrInvalidRule)

	_, err = publish.CompileRules([]publish.RuleSpec{{Name: "num", Expr: "options + 1"}})
	assert.ErrorIs(t, err, publish.ErrInvalidRule, "non-boolean expressions are rejected")
}

func newService(status domain.FunnelStatus) (*publish.Service, *memStore, *memArchive) {
	store := &memStore{funnels: map[string]*domain.Funnel{
		"f1": {ID: "f1", Slug: "style-quiz", Name: "Style Quiz", Status: status},
	}}
	archive := &memArchive{objects: map[string][]byte{}}
	svc := publish.NewService(store, publish.NewValidator(nil, nil), archive).
		WithClock(func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) })
	return svc, store, archive
}

func TestPublishTransitionsAndArchives(t *testing.T) {
	svc, store, archive := newService(domain.FunnelDraft)
	in := validInput()
	in.Slug = ""

	res, err := svc.Publish(context.Background(), "f1", in)
	require.NoError(t, err)
	assert.False(t, res.Blocked())

	f := store.funnels["f1"]
	assert.Equal(t, domain.FunnelPublished, f.Status)
	require.NotNil(t, f.PublishedAt)
	assert.Equal(t, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), *f.PublishedAt)

	data, ok := archive.objects["published/f1/style-quiz-20260601-080000.json"]
	require.True(t, ok)
	assert.True(t, strings.Contains(string(data), `"version": "1.0"`))
}

func TestPublishBlockedDoesNotTransition(t *testing.T) {
	svc, store, archive := newService(domain.FunnelDraft)
	in := validInput()
	in.Stages = in.Stages[:2]

	res, err := svc.Publish(context.Background(), "f1", in)
	require.NoError(t, err, "a blocked publish is not an error")
	assert.True(t, res.Blocked())
	assert.Equal(t, domain.FunnelDraft, store.funnels["f1"].Status)
	assert.Empty(t, archive.objects)
}

func TestPublishArchiveFailureIsNotFatal(t *testing.T) {
	svc, store, archive := newService(domain.FunnelDraft)
	archive.err = errors.New("bucket gone")

	_, err := svc.Publish(context.Background(), "f1", validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.FunnelPublished, store.funnels["f1"].Status)
}

func TestPublishStoreFailure(t *testing.T) {
	svc, store, _ := newService(domain.FunnelDraft)
	store.fail = errors.New("connection refused")

	_, err := svc.Publish(context.Background(), "f1", validInput())
	assert.ErrorIs(t, err, store.fail)
	assert.Equal(t, domain.FunnelDraft, store.funnels["f1"].Status)
}

func TestUnpublishAndArchive(t *testing.T) {
	svc, store, _ := newService(domain.FunnelPublished)
	ctx := context.Background()

	require.NoError(t, svc.Unpublish(ctx, "f1"))
	assert.Equal(t, domain.FunnelDraft, store.funnels["f1"].Status)
	require.NoError(t, svc.Unpublish(ctx, "f1"), "unpublishing a draft is a no-op")

	require.NoError(t, svc.Archive(ctx, "f1"))
	assert.Equal(t, domain.FunnelArchived, store.funnels["f1"].Status)
	require.NoError(t, svc.Archive(ctx, "f1"))

	assert.ErrorIs(t, svc.Unpublish(ctx, "f1"), publish.ErrInvalidTransition)
}
