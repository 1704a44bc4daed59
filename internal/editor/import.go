package editor

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/history"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"github.com/ignite/funnel-studio/internal/transfer"
)

// MergeReport lists the stage ids an import touched.
type MergeReport struct {
	Updated   []string `json:"updated"`
	Created   []string `json:"created"`
	Untouched []string `json:"untouched"`
}

// Export serializes the session's current state.
func (s *Session) Export() transfer.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := s.hist.Present()
	stages := s.orderedLocked()
	blocks := make(map[string][]domain.Block, len(stages))
	for _, st := range stages {
		blocks[st.ID] = s.currentLocked(present, st.ID)
	}
	return transfer.Export(s.funnel, stages, blocks, s.now)
}

// Import parses, validates and merges raw document bytes. Errors are a
// *transfer.ParseError, a transfer.ValidationErrors or a *RemoteSaveError.
func (s *Session) Import(ctx context.Context, raw []byte) (*MergeReport, error) {
	doc, err := transfer.Read(raw)
	if err != nil {
		return nil, err
	}
	return s.Merge(ctx, doc)
}

type mergedStage struct {
	stage  domain.Stage
	blocks []domain.Block
}

// Merge applies a validated document. Stages are matched by order_index:
// matches are updated in place, the rest are created. Stages absent from the
// document are left alone. Every touched stage is written to the store
// first; the in-memory blocks then change as one history step.
func (s *Session) Merge(ctx context.Context, doc *transfer.Document) (*MergeReport, error) {
	if issues := checkImportedBlocks(doc); len(issues) > 0 {
		return nil, issues
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	existing := s.orderedLocked()
	present := s.hist.Present()
	currentOptions := make(map[string][]domain.Option, len(existing))
	for _, st := range existing {
		_, opts := converter.FromBlocks(s.currentLocked(present, st.ID), st.Type)
		currentOptions[st.ID] = opts
	}
	s.mu.Unlock()

	plan := transfer.Plan(existing, doc)
	rank := orderRanks(existing, doc)
	report := &MergeReport{Updated: []string{}, Created: []string{}, Untouched: []string{}}
	var merged []mergedStage

	for _, m := range plan.Updates {
		st := m.Existing.Clone()
		st.Type = m.Imported.Type
		st.Title = m.Imported.Title
		st.IsEnabled = m.Imported.Enabled()
		st.Config = nonNilMap(m.Imported.Config)
		blocks, err := importedBlocks(st, m.Imported, currentOptions[st.ID], rank)
		if err != nil {
			return nil, blockIssue(doc, m.Imported, err)
		}

		stored, err := s.store.SaveStage(ctx, funnel.SaveStageInput{Stage: st, Blocks: blocks})
		if err != nil {
			return nil, &RemoteSaveError{StageID: st.ID, Op: "import", Err: err}
		}
		st.Config = stored.Config
		merged = append(merged, mergedStage{stage: st, blocks: blocks})
		report.Updated = append(report.Updated, st.ID)
	}

	for _, sd := range plan.Creates {
		order := sd.OrderIndex
		enabled := sd.Enabled()
		created, err := s.store.AddStage(ctx, s.FunnelID, funnel.AddStageInput{
			Type:       sd.Type,
			Title:      sd.Title,
			OrderIndex: &order,
			IsEnabled:  &enabled,
			Config:     nonNilMap(sd.Config),
		})
		if err != nil {
			return nil, &RemoteSaveError{Op: "import", Err: fmt.Errorf("creating stage at order_index %d: %w", order, err)}
		}
		st := created.Clone()
		blocks, err := importedBlocks(st, sd, nil, rank)
		if err != nil {
			return nil, blockIssue(doc, sd, err)
		}
		stored, err := s.store.SaveStage(ctx, funnel.SaveStageInput{Stage: st, Blocks: blocks})
		if err != nil {
			return nil, &RemoteSaveError{StageID: st.ID, Op: "import", Err: err}
		}
		st.Config = stored.Config
		merged = append(merged, mergedStage{stage: st, blocks: blocks})
		report.Created = append(report.Created, st.ID)
	}

	name := doc.Name
	global := nonNilMap(doc.GlobalConfig)
	if err := s.store.UpdateFunnel(ctx, s.FunnelID, funnel.FunnelUpdate{Name: &name, GlobalConfig: global}); err != nil {
		return nil, &RemoteSaveError{Op: "import", Err: fmt.Errorf("updating funnel: %w", err)}
	}

	for _, st := range plan.Untouched {
		report.Untouched = append(report.Untouched, st.ID)
	}

	s.mu.Lock()
	s.funnel.Name = name
	s.funnel.GlobalConfig = global
	for _, m := range merged {
		s.stages[m.stage.ID] = m.stage
		s.saved[m.stage.ID] = m.blocks
		delete(s.drafted, m.stage.ID)
	}
	s.hist.SetState(func(c history.Collection) history.Collection {
		for _, m := range merged {
			c[m.stage.ID] = domain.CloneBlocks(m.blocks)
		}
		return c
	})
	s.mu.Unlock()

	for _, m := range merged {
		_, _ = s.drafts.MarkSynced(ctx, m.stage.ID, m.blocks)
	}
	logger.Info("funnel imported", "session_id", s.ID, "funnel_id", s.FunnelID,
		"updated", len(report.Updated), "created", len(report.Created), "untouched", len(report.Untouched))
	return report, nil
}

// checkImportedBlocks reports stages whose blocks cannot form a valid
// document. Stages without blocks are checked as converted from their config.
func checkImportedBlocks(doc *transfer.Document) transfer.ValidationErrors {
	var issues transfer.ValidationErrors
	for i, sd := range doc.Stages {
		candidate := domain.Stage{ID: "import", Type: sd.Type, Title: sd.Title, Config: sd.Config}
		var blocks []domain.Block
		if len(sd.Blocks) > 0 {
			blocks = sd.DomainBlocks()
		} else {
			blocks = converter.ToBlocks(candidate, nil, 1, 0)
		}
		blocks = converter.EnsureHeader(blocks, candidate, 1, 0)
		if err := converter.CheckInvariants(blocks, sd.Type); err != nil {
			issues = append(issues, stageIssue(i, err))
		}
	}
	return issues
}

func stageIssue(i int, err error) domain.Issue {
	return domain.Issue{
		Path:    fmt.Sprintf("stages[%d].blocks", i),
		Code:    "block_invariant",
		Message: err.Error(),
	}
}

// blockIssue reports a stage of doc whose merged blocks were rejected.
func blockIssue(doc *transfer.Document, sd transfer.StageDoc, err error) transfer.ValidationErrors {
	for i, d := range doc.Stages {
		if d.OrderIndex == sd.OrderIndex {
			return transfer.ValidationErrors{stageIssue(i, err)}
		}
	}
	return transfer.ValidationErrors{stageIssue(0, err)}
}

// importedBlocks builds the block document of an imported stage with its
// header progress set for its place in the merged funnel. Stages imported
// without blocks are converted from their config, keeping the options they
// already had. options are the stage's own rows; imported option ids outside
// that set are replaced so a document exported from another stage or funnel
// never claims rows it does not own.
func importedBlocks(st domain.Stage, sd transfer.StageDoc, options []domain.Option, rank map[int]int) ([]domain.Block, error) {
	total := len(rank)
	idx := rank[sd.OrderIndex]
	var blocks []domain.Block
	if len(sd.Blocks) > 0 {
		owned := make(map[string]bool, len(options))
		for _, o := range options {
			owned[o.ID] = true
		}
		blocks = rekeyOptions(sd.DomainBlocks(), owned)
	} else {
		blocks = converter.ToBlocks(st, options, total, idx)
	}
	blocks = converter.EnsureHeader(blocks, st, total, idx)
	blocks = ensureOptionIDs(converter.SetProgress(blocks, total, idx))
	if err := converter.CheckInvariants(blocks, st.Type); err != nil {
		return nil, err
	}
	return blocks, nil
}

// rekeyOptions gives a fresh id to every option whose id is not in owned or
// repeats an earlier option's id.
func rekeyOptions(blocks []domain.Block, owned map[string]bool) []domain.Block {
	seen := map[string]bool{}
	for _, b := range blocks {
		if b.Type != domain.BlockOptionsList {
			continue
		}
		items, _ := b.Content["options"].([]any)
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			if id == "" {
				continue
			}
			if !owned[id] || seen[id] {
				id = uuid.NewString()
				m["id"] = id
			}
			seen[id] = true
		}
	}
	return blocks
}

// orderRanks maps every order_index present after the merge to its position.
func orderRanks(existing []domain.Stage, doc *transfer.Document) map[int]int {
	seen := map[int]bool{}
	for _, st := range existing {
		seen[st.OrderIndex] = true
	}
	for _, sd := range doc.Stages {
		seen[sd.OrderIndex] = true
	}
	orders := make([]int, 0, len(seen))
	for o := range seen {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	rank := make(map[int]int, len(orders))
	for i, o := range orders {
		rank[o] = i
	}
	return rank
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return domain.CloneMap(m)
}
