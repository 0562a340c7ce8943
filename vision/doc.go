// Package vision is the multi-provider analysis orchestrator core.
//
// It defines the capability contract every computer-vision backend
// implements (Provider), a registry of active backends built once at
// startup, a single-target router with ordered fallback, a concurrent
// fan-out analyzer with per-task failure isolation, and a deterministic
// merge/dedup aggregator with consensus confidence adjustment.
//
// The orchestrator performs no vision inference itself, persists nothing,
// and holds no result state: every VideoAnalysisResult is produced per call
// and owned by the caller after return.
package vision
