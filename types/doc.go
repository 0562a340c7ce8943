// Package types defines the shared error taxonomy used across the
// visionflow orchestrator.
//
// Every failure surfaced by a provider or by the orchestrator itself is a
// *types.Error carrying a stable code, an optional HTTP status, a
// retryability hint, and the originating provider name. Callers match on
// the code with GetErrorCode or unwrap the cause with errors.Unwrap.
package types
