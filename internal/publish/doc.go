// Package publish gates the draft to published transition of a funnel.
//
// Rules:
//   - Validate never fails on content problems. It returns every finding,
//     split into blocking errors and advisory warnings.
//   - Publish refuses to transition while errors exist and reports the
//     result instead. A blocked publish is an ordinary outcome, not an error.
//   - Unpublish and Archive do not validate.
//   - Disabled stages are skipped by content checks; they only produce a
//     warning.
package publish
