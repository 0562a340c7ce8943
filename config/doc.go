// Package config loads visionflow configuration from defaults, an optional
// YAML file, and VISIONFLOW_* environment variable overrides, in that
// order of precedence.
//
// Provider blocks are intentionally forgiving: a missing or malformed block
// only disables that provider, it never fails the load. Validation of
// required credential fields happens inside each provider's Initialize.
package config
