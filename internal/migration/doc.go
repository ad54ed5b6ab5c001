// Package migration manages the versioned SQL schema of the experiment
// engine using golang-migrate with embedded migration files.
//
// PostgreSQL and MySQL deployments run these versioned migrations; SQLite
// is the embedded/test path and uses the gorm auto-migration in the store
// and experiment packages instead, so its schema never diverges from the
// models.
//
// This package is internal and should not be imported by external projects.
package migration
