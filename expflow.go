// Package expflow provides a top-level convenience entry point for embedding
// the experiment engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/expflow"
//
//	svc, err := expflow.New()                       // in-memory, good for single process
//	svc, err := expflow.New(expflow.WithDB(gormDB)) // durable gorm-backed storage
//
// This is a thin wrapper around [experiment.NewService]; both produce identical
// results. Use this package when you prefer the shorter import path and do not
// need to pick storage backends by hand.
package expflow

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/expflow/experiment"
	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// Re-export the core domain types so embedders never need to import types/.

// Experiment is one experiment definition.
type Experiment = types.Experiment

// Variant is one treatment arm of an experiment.
type Variant = types.Variant

// Status is the lifecycle state of an experiment.
type Status = types.Status

// Lifecycle states.
const (
	StatusDraft     = types.StatusDraft
	StatusRunning   = types.StatusRunning
	StatusPaused    = types.StatusPaused
	StatusCompleted = types.StatusCompleted
)

type options struct {
	db     *gorm.DB
	logger *zap.Logger
	sink   store.Sink
	cfg    experiment.ServiceConfig
}

// Option configures the service created by [New].
type Option func(*options)

// WithDB backs the catalog and aggregate store with a gorm database.
// Required tables are auto-migrated. Without this option everything lives
// in process memory.
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink registers a downstream consumer for assignment and conversion
// events. Defaults to a zap-logging sink.
func WithSink(sink store.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithConfig overrides the engine and recorder configuration.
func WithConfig(cfg experiment.ServiceConfig) Option {
	return func(o *options) { o.cfg = cfg }
}

// New creates an [experiment.Service] with minimal configuration.
// By default it uses in-memory storage, a Nop logger and default engine
// settings.
func New(opts ...Option) (*experiment.Service, error) {
	o := &options{cfg: experiment.DefaultServiceConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sink == nil {
		o.sink = store.NewLogSink(o.logger)
	}

	var (
		catalog experiment.Catalog
		st      store.AggregateStore
	)
	if o.db != nil {
		if err := store.InitTables(o.db); err != nil {
			return nil, err
		}
		if err := experiment.InitCatalogTables(o.db); err != nil {
			return nil, err
		}
		catalog = experiment.NewGormCatalog(o.db)
		st = store.NewGormStore(o.db, o.logger)
	} else {
		catalog = experiment.NewMemoryCatalog()
		st = store.NewMemoryStore()
	}

	return experiment.NewService(catalog, st, o.cfg, o.sink, o.logger), nil
}
