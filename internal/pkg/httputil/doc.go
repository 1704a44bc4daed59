// Package httputil writes the JSON envelopes of the editor API.
//
// Errors share one shape, {"error", "code", "details"}. Validation failures
// put their issue list in details; 5xx responses never carry the cause,
// which is logged instead.
package httputil
