package publish

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/funnel-studio/internal/converter"
	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
)

// SlugChecker reports whether a slug is used by a funnel other than
// exceptFunnelID.
type SlugChecker interface {
	SlugTaken(ctx context.Context, slug, exceptFunnelID string) (bool, error)
}

// Input is the assembled state of a funnel under validation. Blocks is keyed
// by stage id. Options is consulted for stages without blocks; otherwise the
// options-list block is authoritative.
type Input struct {
	FunnelID string
	Slug     string
	Stages   []domain.Stage
	Blocks   map[string][]domain.Block
	Options  map[string][]domain.Option
}

// Result of a publish validation.
type Result struct {
	Errors   []domain.Issue `json:"errors"`
	Warnings []domain.Issue `json:"warnings"`
}

// Blocked reports whether publishing must be refused.
func (r Result) Blocked() bool { return len(r.Errors) > 0 }

// Validator inspects funnel state before publishing.
type Validator struct {
	slugs SlugChecker
	rules []Rule
}

// NewValidator creates a validator. slugs may be nil, which skips the
// uniqueness check.
func NewValidator(slugs SlugChecker, rules []Rule) *Validator {
	return &Validator{slugs: slugs, rules: rules}
}

// Validate returns every error and warning for the input. The error return
// is reserved for a failing SlugChecker.
func (v *Validator) Validate(ctx context.Context, in Input) (Result, error) {
	res := Result{Errors: []domain.Issue{}, Warnings: []domain.Issue{}}
	addErr := func(path, stageID, code, msg string) {
		res.Errors = append(res.Errors, domain.Issue{Path: path, StageID: stageID, Code: code, Message: msg})
	}
	addWarn := func(path, stageID, code, msg string) {
		res.Warnings = append(res.Warnings, domain.Issue{Path: path, StageID: stageID, Code: code, Message: msg})
	}

	slug := strings.TrimSpace(in.Slug)
	switch {
	case slug == "":
		addErr("slug", "", "slug_required", "slug is required")
	case !domain.ValidSlug(slug):
		addErr("slug", "", "slug_invalid", "slug may only contain lowercase letters, digits and single hyphens")
	case v.slugs != nil:
		taken, err := v.slugs.SlugTaken(ctx, slug, in.FunnelID)
		if err != nil {
			return Result{}, fmt.Errorf("checking slug: %w", err)
		}
		if taken {
			addErr("slug", "", "slug_taken", fmt.Sprintf("slug %q is already used by another funnel", slug))
		}
	}

	stages := make([]domain.Stage, len(in.Stages))
	copy(stages, in.Stages)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].OrderIndex < stages[j].OrderIndex })

	hasTerminal := false
	hasIntro := false
	for i, st := range stages {
		path := fmt.Sprintf("stages[%d]", i)
		if !st.IsEnabled {
			addWarn(path+".is_enabled", st.ID, "stage_disabled", fmt.Sprintf("stage %q is disabled and will be skipped", st.Title))
			continue
		}
		if domain.IsTerminal(st.Type) {
			hasTerminal = true
		}
		if st.Type == domain.StageIntro {
			hasIntro = true
		}

		if strings.TrimSpace(st.Title) == "" {
			addErr(path+".title", st.ID, "title_required", "stage title is required")
		}
		if strings.TrimSpace(st.Type) == "" {
			addErr(path+".type", st.ID, "type_required", "stage type is required")
		}

		blocks, hasBlocks := in.Blocks[st.ID]
		if hasBlocks {
			if err := converter.CheckInvariants(blocks, st.Type); err != nil {
				addErr(path+".blocks", st.ID, "block_invariant", err.Error())
			}
			for j, b := range blocks {
				if b.Type != domain.BlockImage {
					continue
				}
				if url, _ := b.Content["url"].(string); strings.TrimSpace(url) == "" {
					addWarn(fmt.Sprintf("%s.blocks[%d].content.url", path, j), st.ID, "image_missing", "image block has no URL")
				}
			}
		}

		options := stageOptions(st, blocks, hasBlocks, in.Options)
		if domain.IsChoiceBearing(st.Type) {
			if len(options) == 0 {
				addErr(path+".options", st.ID, "options_required", fmt.Sprintf("question %q has no options", st.Title))
			}
			allZero := len(options) > 0
			for j, o := range options {
				if strings.TrimSpace(o.Text) == "" {
					addErr(fmt.Sprintf("%s.options[%d].text", path, j), st.ID, "option_text_required", "option text is required")
				}
				if o.Points != 0 {
					allZero = false
				}
			}
			if allZero {
				addWarn(path+".options", st.ID, "options_unscored", fmt.Sprintf("every option of %q scores 0 points", st.Title))
			}
		}

		for _, r := range v.rules {
			flagged, err := r.eval(st, options, blocks)
			if err != nil {
				logger.Debug("publish rule evaluation failed", "rule", r.Name, "stage_id", st.ID, "error", err)
				continue
			}
			if !flagged {
				continue
			}
			if r.Severity == SeverityError {
				addErr(path, st.ID, "rule:"+r.Name, r.Message)
			} else {
				addWarn(path, st.ID, "rule:"+r.Name, r.Message)
			}
		}
	}

	if !hasTerminal {
		addErr("stages", "", "terminal_required", "funnel needs at least one enabled result or offer stage")
	}
	if !hasIntro {
		addWarn("stages", "", "intro_missing", "funnel has no enabled intro stage")
	}
	return res, nil
}

// stageOptions prefers the options mirrored in the options-list block.
func stageOptions(st domain.Stage, blocks []domain.Block, hasBlocks bool, rows map[string][]domain.Option) []domain.Option {
	if hasBlocks {
		for _, b := range blocks {
			if b.Type == domain.BlockOptionsList {
				_, opts := converter.FromBlocks([]domain.Block{b}, st.Type)
				return opts
			}
		}
		return nil
	}
	return rows[st.ID]
}
