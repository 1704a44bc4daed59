// Package transfer exports a funnel's in-memory editing state as a portable
// JSON document and reads such documents back with positional syntax errors
// and exhaustive schema validation.
//
// Rules:
//   - Export is deterministic: the same state and clock produce identical
//     bytes. Stages are ordered by order_index, map keys are sorted and
//     indentation is fixed.
//   - Parse reports the line and column of the first syntax error. Data after
//     the top-level value is a syntax error too.
//   - Validate never stops at the first problem. Every issue is collected
//     with its path, and a defect is reported once even when both the shape
//     check and a value rule would flag it.
//   - Plan matches imported stages to existing ones by order_index. It never
//     proposes a deletion.
package transfer
