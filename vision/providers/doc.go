// Package providers holds the per-backend configuration structs shared by
// the concrete provider packages beneath it.
package providers
