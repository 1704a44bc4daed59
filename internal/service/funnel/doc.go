// Package funnel implements the funnel, stage and option business logic.
//
// This package owns the relational-store contract (Repository) and the
// rules around it:
//   - Slugs are lowercase and unique across funnels.
//   - Stage order_index values are unique within a funnel. New stages go
//     after the last one unless a position is requested. A reorder rewrites
//     every order_index of the funnel in one operation.
//   - Saving a stage folds its block document back into the stage config and
//     syncs the option rows. Option rows missing from the block document are
//     deleted; rows are never deleted otherwise.
//   - Saves of one stage are serialized across processes with a distributed
//     lock. The last save wins.
//
// Dependency direction: api → editor → service/funnel → repository (interface)
// The concrete PostgreSQL implementation lives in repository/postgres.
package funnel
