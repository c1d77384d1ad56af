//go:build !debug

// Package debug provides assertion helpers that compile to no-ops in a
// release build and panic in a debug build (see debug_on.go).
/*
 * Adapted from RayPlatform's ComputeCore assertions.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
