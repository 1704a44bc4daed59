// Package domain holds the funnel records (funnels, stages, options) and the
// block model the editor works on.
//
// Nothing here touches storage or HTTP. Types carry JSON and DB tags and
// pure helpers such as slug checks and deep copies; they never import
// another internal package.
package domain
