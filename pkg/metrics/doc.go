// Package metrics defines curator's prometheus collectors and the
// /metrics HTTP handler.
package metrics
