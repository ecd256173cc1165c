// Package types defines shared enums and the unified error model used across
// the fin-studio pipeline packages.
package types
