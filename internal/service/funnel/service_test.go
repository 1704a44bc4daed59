package funnel_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/service/funnel"
)

// memRepo is an in-memory funnel repository for unit testing.
type memRepo struct {
	mu      sync.Mutex
	funnels map[string]*domain.Funnel
	stages  map[string]*domain.Stage
	options map[string][]domain.Option // keyed by stage id

	syncCalls    int
	reorderCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{
		funnels: make(map[string]*domain.Funnel),
		stages:  make(map[string]*domain.Stage),
		options: make(map[string][]domain.Option),
	}
}

func (m *memRepo) GetFunnel(_ context.Context, id string) (*domain.Funnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.funnels[id]
	if !ok {
		return nil, funnel.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memRepo) CreateFunnel(_ context.Context, f *domain.Funnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.funnels[f.ID] = &cp
	return nil
}

func (m *memRepo) UpdateFunnel(_ context.Context, id string, u funnel.FunnelUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.funnels[id]
	if !ok {
		return funnel.ErrNotFound
	}
	if u.Name != nil {
		f.Name = *u.Name
	}
	if u.Slug != nil {
		f.Slug = *u.Slug
	}
	if u.GlobalConfig != nil {
		f.GlobalConfig = u.GlobalConfig
	}
	if u.StyleCategories != nil {
		f.StyleCategories = u.StyleCategories
	}
	return nil
}

func (m *memRepo) UpdateFunnelStatus(_ context.Context, id string, status domain.FunnelStatus, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.funnels[id]
	if !ok {
		return funnel.ErrNotFound
	}
	f.Status = status
	f.PublishedAt = at
	return nil
}

func (m *memRepo) SlugTaken(_ context.Context, slug, exceptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.funnels {
		if f.Slug == slug && f.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListStages(_ context.Context, funnelID string) ([]domain.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Stage
	for _, st := range m.stages {
		if st.FunnelID == funnelID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *memRepo) GetStage(_ context.Context, id string) (*domain.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[id]
	if !ok {
		return nil, funnel.ErrNotFound
	}
	cp := st.Clone()
	return &cp, nil
}

func (m *memRepo) CreateStage(_ context.Context, st *domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st.Clone()
	m.stages[st.ID] = &cp
	return nil
}

func (m *memRepo) UpdateStage(_ context.Context, id string, p funnel.StagePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[id]
	if !ok {
		return funnel.ErrNotFound
	}
	if p.Type != nil {
		st.Type = *p.Type
	}
	if p.Title != nil {
		st.Title = *p.Title
	}
	if p.OrderIndex != nil {
		st.OrderIndex = *p.OrderIndex
	}
	if p.IsEnabled != nil {
		st.IsEnabled = *p.IsEnabled
	}
	if p.Config != nil {
		st.Config = domain.CloneMap(p.Config)
	}
	return nil
}

func (m *memRepo) DeleteStage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[id]; !ok {
		return funnel.ErrNotFound
	}
	delete(m.stages, id)
	delete(m.options, id)
	return nil
}

func (m *memRepo) ReorderStages(_ context.Context, _ string, updates []domain.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		m.stages[u.ID].OrderIndex = u.OrderIndex
	}
	return nil
}

func (m *memRepo) ListOptions(_ context.Context, stageID string) ([]domain.Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Option(nil), m.options[stageID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *memRepo) ListOptionsByFunnel(_ context.Context, funnelID string) (map[string][]domain.Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.Option{}
	for id, opts := range m.options {
		if st, ok := m.stages[id]; ok && st.FunnelID == funnelID {
			out[id] = append([]domain.Option(nil), opts...)
		}
	}
	return out, nil
}

func (m *memRepo) SyncOptions(_ context.Context, stageID string, options []domain.Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCalls++
	m.options[stageID] = append([]domain.Option(nil), options...)
	return nil
}

func (m *memRepo) ReorderOptions(_ context.Context, stageID string, updates []domain.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reorderCalls++
	idx := map[string]int{}
	for _, u := range updates {
		idx[u.ID] = u.OrderIndex
	}
	for i := range m.options[stageID] {
		m.options[stageID][i].OrderIndex = idx[m.options[stageID][i].ID]
	}
	return nil
}

func newTestService(t *testing.T) (*funnel.Service, *memRepo, *domain.Funnel) {
	t.Helper()
	repo := newMemRepo()
	svc := funnel.NewService(repo, nil)
	f, err := svc.CreateFunnel(context.Background(), funnel.CreateFunnelInput{Name: "Style Quiz", Slug: "style-quiz"})
	if err != nil {
		t.Fatalf("create funnel: %v", err)
	}
	return svc, repo, f
}

func TestCreateFunnel(t *testing.T) {
	_, repo, f := newTestService(t)
	if f.Status != domain.FunnelDraft {
		t.Fatalf("expected draft, got %s", f.Status)
	}
	if f.GlobalConfig == nil || f.StyleCategories == nil {
		t.Fatal("expected non-nil global config and style categories")
	}
	if _, ok := repo.funnels[f.ID]; !ok {
		t.Fatal("funnel not stored")
	}
}

func TestCreateFunnelValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		in   funnel.CreateFunnelInput
		want error
	}{
		{funnel.CreateFunnelInput{Name: "  ", Slug: "x"}, funnel.ErrNameRequired},
		{funnel.CreateFunnelInput{Name: "A", Slug: "Not A Slug"}, funnel.ErrInvalidSlug},
		{funnel.CreateFunnelInput{Name: "A", Slug: "style-quiz"}, funnel.ErrSlugTaken},
	}
	for _, tc := range cases {
		if _, err := svc.CreateFunnel(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.in, tc.want, err)
		}
	}
	if _, err := svc.CreateFunnel(ctx, funnel.CreateFunnelInput{Name: "No slug yet"}); err != nil {
		t.Fatalf("empty slug should be allowed: %v", err)
	}
}

func TestUpdateFunnelSlugCheckExcludesSelf(t *testing.T) {
	svc, repo, f := newTestService(t)
	ctx := context.Background()

	same := "style-quiz"
	if err := svc.UpdateFunnel(ctx, f.ID, funnel.FunnelUpdate{Slug: &same}); err != nil {
		t.Fatalf("keeping own slug: %v", err)
	}
	name := "  Renamed  "
	if err := svc.UpdateFunnel(ctx, f.ID, funnel.FunnelUpdate{Name: &name}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got := repo.funnels[f.ID].Name; got != "Renamed" {
		t.Fatalf("expected trimmed name, got %q", got)
	}

	other, _ := svc.CreateFunnel(ctx, funnel.CreateFunnelInput{Name: "Other", Slug: "other"})
	if err := svc.UpdateFunnel(ctx, other.ID, funnel.FunnelUpdate{Slug: &same}); !errors.Is(err, funnel.ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestAddStageAppendsAndRejectsTakenPosition(t *testing.T) {
	svc, _, f := newTestService(t)
	ctx := context.Background()

	a, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageIntro, Title: "Hi"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageQuestion, Title: "Q"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.OrderIndex != 0 || b.OrderIndex != 1 {
		t.Fatalf("expected 0 and 1, got %d and %d", a.OrderIndex, b.OrderIndex)
	}
	if !a.IsEnabled {
		t.Fatal("stages are enabled by default")
	}

	pos := 1
	if _, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageResult, OrderIndex: &pos}); !errors.Is(err, funnel.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if _, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Title: "typeless"}); !errors.Is(err, funnel.ErrStageTypeMissing) {
		t.Fatalf("expected ErrStageTypeMissing, got %v", err)
	}
}

func TestReorderStages(t *testing.T) {
	svc, repo, f := newTestService(t)
	ctx := context.Background()
	var ids []string
	for _, typ := range []string{domain.StageIntro, domain.StageQuestion, domain.StageResult} {
		st, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: typ, Title: typ})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, st.ID)
	}

	updates, err := svc.ReorderStages(ctx, f.ID, []string{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if repo.stages[ids[2]].OrderIndex != 0 || repo.stages[ids[0]].OrderIndex != 1 || repo.stages[ids[1]].OrderIndex != 2 {
		t.Fatal("order not applied")
	}

	for _, bad := range [][]string{
		{ids[0], ids[1]},
		{ids[0], ids[0], ids[1]},
		{ids[0], ids[1], "ghost"},
	} {
		if _, err := svc.ReorderStages(ctx, f.ID, bad); !errors.Is(err, funnel.ErrInvalidOrder) {
			t.Fatalf("%v: expected ErrInvalidOrder, got %v", bad, err)
		}
	}
}

func TestDeleteStageChecksOwnership(t *testing.T) {
	svc, repo, f := newTestService(t)
	ctx := context.Background()
	st, _ := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageIntro, Title: "Hi"})

	if err := svc.DeleteStage(ctx, "other-funnel", st.ID); !errors.Is(err, funnel.ErrWrongFunnel) {
		t.Fatalf("expected ErrWrongFunnel, got %v", err)
	}
	if err := svc.DeleteStage(ctx, f.ID, st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := repo.stages[st.ID]; ok {
		t.Fatal("stage still stored")
	}
	if err := svc.DeleteStage(ctx, f.ID, st.ID); !errors.Is(err, funnel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func questionWithOptions(t *testing.T, svc *funnel.Service, repo *memRepo, f *domain.Funnel) *domain.Stage {
	t.Helper()
	st, err := svc.AddStage(context.Background(), f.ID, funnel.AddStageInput{Type: domain.StageQuestion, Title: "Pick"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	repo.options[st.ID] = []domain.Option{
		{ID: "o1", StageID: st.ID, Text: "A", OrderIndex: 0, Points: 1},
		{ID: "o2", StageID: st.ID, Text: "B", OrderIndex: 1, Points: 2},
	}
	return st
}

func optionsBlock(blocks []domain.Block) int {
	for i, b := range blocks {
		if b.Type == domain.BlockOptionsList {
			return i
		}
	}
	return -1
}

func TestSaveStageReordersWhenOnlyOrderChanged(t *testing.T) {
	svc, repo, f := newTestService(t)
	st := questionWithOptions(t, svc, repo, f)

	blocks := converter.ToBlocks(*st, repo.options[st.ID], 1, 0)
	i := optionsBlock(blocks)
	opts := blocks[i].Content["options"].([]any)
	blocks[i].Content["options"] = []any{opts[1], opts[0]}

	if _, err := svc.SaveStage(context.Background(), funnel.SaveStageInput{Stage: *st, Blocks: blocks}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if repo.reorderCalls != 1 || repo.syncCalls != 0 {
		t.Fatalf("expected one reorder and no sync, got %d/%d", repo.reorderCalls, repo.syncCalls)
	}
	got, _ := repo.ListOptions(context.Background(), st.ID)
	if got[0].ID != "o2" || got[1].ID != "o1" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSaveStageSyncsEditedOptions(t *testing.T) {
	svc, repo, f := newTestService(t)
	st := questionWithOptions(t, svc, repo, f)

	blocks := converter.ToBlocks(*st, repo.options[st.ID], 1, 0)
	i := optionsBlock(blocks)
	blocks[i].Content["options"] = []any{
		map[string]any{"id": "o1", "text": "A+", "points": float64(3)},
	}
	blocks[0].Content["title"] = "Edited heading"

	saved, err := svc.SaveStage(context.Background(), funnel.SaveStageInput{Stage: *st, Blocks: blocks})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if repo.syncCalls != 1 {
		t.Fatalf("expected a sync, got %d", repo.syncCalls)
	}
	got := repo.options[st.ID]
	if len(got) != 1 || got[0].Text != "A+" || got[0].Points != 3 || got[0].StageID != st.ID {
		t.Fatalf("unexpected options: %+v", got)
	}
	if _, ok := saved.Config["options"]; ok {
		t.Fatal("options must not be persisted in config")
	}

	// The stored config reproduces the edited document.
	stored := repo.stages[st.ID]
	again := converter.ToBlocks(*stored, got, 1, 0)
	if again[0].Content["title"] != "Edited heading" {
		t.Fatalf("header edit lost: %+v", again[0].Content)
	}
}

func TestSaveStageWithoutOptionsListLeavesRowsAlone(t *testing.T) {
	svc, repo, f := newTestService(t)
	st, _ := svc.AddStage(context.Background(), f.ID, funnel.AddStageInput{Type: domain.StageIntro, Title: "Hi"})
	repo.options[st.ID] = []domain.Option{{ID: "stray", StageID: st.ID, Text: "x"}}

	blocks := converter.ToBlocks(*st, nil, 1, 0)
	if _, err := svc.SaveStage(context.Background(), funnel.SaveStageInput{Stage: *st, Blocks: blocks}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if repo.syncCalls != 0 || len(repo.options[st.ID]) != 1 {
		t.Fatal("option rows must be untouched")
	}
}

func TestLoadOrdersStages(t *testing.T) {
	svc, repo, f := newTestService(t)
	ctx := context.Background()
	questionWithOptions(t, svc, repo, f)
	pos := 5
	if _, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageResult, Title: "R", OrderIndex: &pos}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageIntro, Title: "I"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap, err := svc.Load(ctx, f.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(snap.Stages))
	}
	if snap.Stages[2].OrderIndex != 6 {
		t.Fatalf("expected appended stage after 5, got %d", snap.Stages[2].OrderIndex)
	}
	if len(snap.Options[snap.Stages[0].ID]) != 2 {
		t.Fatal("expected options of the question stage")
	}

	if _, err := svc.Load(ctx, "missing"); !errors.Is(err, funnel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStage(t *testing.T) {
	svc, repo, f := newTestService(t)
	ctx := context.Background()
	st, _ := svc.AddStage(ctx, f.ID, funnel.AddStageInput{Type: domain.StageIntro, Title: "Hi"})

	off := false
	if err := svc.UpdateStage(ctx, st.ID, funnel.StagePatch{IsEnabled: &off}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if repo.stages[st.ID].IsEnabled {
		t.Fatal("expected disabled")
	}
	blank := " "
	if err := svc.UpdateStage(ctx, st.ID, funnel.StagePatch{Type: &blank}); !errors.Is(err, funnel.ErrStageTypeMissing) {
		t.Fatalf("expected ErrStageTypeMissing, got %v", err)
	}
}
