// Package types defines the shared domain types of the ExpFlow engine:
// experiments, variants, assignment and conversion facts, lifecycle status,
// and the unified error taxonomy.
//
// The package has no dependencies on storage or transport; every other
// package in the module builds on it.
package types
