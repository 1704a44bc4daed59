// Package draft stores unsaved stage edits in a durable cache so a crashed or
// abandoned editing session can be recovered.
//
// Rules:
//   - A draft is keyed by stage id and is overwritten on every snapshot.
//   - A snapshot always writes synced=false. Only MarkSynced flips the flag,
//     and callers invoke it strictly after a confirmed remote save, passing
//     the saved blocks. A draft holding other blocks stays unsynced.
//   - Drafts are never deleted as a side effect of saving; Discard is the
//     only removal path.
//   - Cache availability is checked once. When the cache is unavailable
//     snapshots are disabled for the life of the Service and this is logged
//     a single time.
//   - Persistence failures are reported to the caller but never change the
//     editing session's state.
package draft
