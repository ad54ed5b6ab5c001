// Package database provides connection management for the relational
// backends of the experiment engine: dialect selection, pool tuning,
// health checks, and transaction retry.
// This package is internal and should not be imported by external projects.
package database
