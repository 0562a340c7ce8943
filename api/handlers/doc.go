// Package handlers implements the HTTP boundary: request decoding,
// camelCase wire DTOs, typed-error to status-code mapping, and the
// analyze, status, cost, and health endpoints.
package handlers
