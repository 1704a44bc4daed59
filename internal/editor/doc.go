// Package editor holds editing sessions over a funnel's stages.
//
// A session owns the keyed block store of one funnel (stage id to block
// list) and is the only writer of it:
//   - Every user action is one history step. A stage without an entry in
//     the history falls back to its last saved blocks, so stages added
//     from outside the session join without resetting the history.
//   - Every stage keeps exactly one header block, and option-bearing stages
//     exactly one options-list block. Edits that would break this are
//     rejected before they reach the history.
//   - A stage is dirty while its blocks differ from the last remote save.
//     Drafts are written only for dirty stages and only when they changed
//     since the previous draft.
//   - Remote saves never change in-memory blocks. A draft is marked synced
//     only after its stage was saved.
//   - Import writes to the store first and then applies the imported blocks
//     as a single history step. Stages missing from the document are kept.
package editor
