package transfer

import (
	"sort"

	"github.com/ignite/funnel-studio/internal/domain"
)

// Match pairs an imported stage with the existing stage at the same
// order_index.
type Match struct {
	Existing domain.Stage
	Imported StageDoc
}

// MergePlan is the outcome of matching a document against a funnel.
type MergePlan struct {
	Updates   []Match
	Creates   []StageDoc
	Untouched []domain.Stage
}

// Plan matches imported stages to existing stages by order_index. Matches
// become updates, unmatched imported stages become creates at their
// order_index, and existing stages absent from the document are left
// untouched. Each list is ordered by order_index.
func Plan(existing []domain.Stage, doc *Document) MergePlan {
	byIndex := make(map[int]domain.Stage, len(existing))
	for _, st := range existing {
		if _, dup := byIndex[st.OrderIndex]; !dup {
			byIndex[st.OrderIndex] = st
		}
	}

	imported := make([]StageDoc, len(doc.Stages))
	copy(imported, doc.Stages)
	sort.SliceStable(imported, func(i, j int) bool { return imported[i].OrderIndex < imported[j].OrderIndex })

	var plan MergePlan
	matched := make(map[string]bool, len(imported))
	for _, sd := range imported {
		if st, ok := byIndex[sd.OrderIndex]; ok {
			plan.Updates = append(plan.Updates, Match{Existing: st, Imported: sd})
			matched[st.ID] = true
			continue
		}
		plan.Creates = append(plan.Creates, sd)
	}

	for _, st := range existing {
		if !matched[st.ID] {
			plan.Untouched = append(plan.Untouched, st)
		}
	}
	sort.SliceStable(plan.Untouched, func(i, j int) bool {
		return plan.Untouched[i].OrderIndex < plan.Untouched[j].OrderIndex
	})
	return plan
}
