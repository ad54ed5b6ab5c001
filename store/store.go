// Package store implements the experiment aggregate store: an append-only
// log of Assignment and Conversion facts plus derived per-variant counters.
//
// Counters are updated exclusively through atomic increment operations
// (SQL "SET n = n + 1", Mongo "$inc", or sync/atomic in memory) — the store
// never reads a composite aggregate, merges it client-side, and writes it
// back, because that pattern loses updates under concurrent writers.
// Counters are derived state: they can always be rebuilt by replaying the
// event log (see replay.go).
package store

import (
	"context"

	"github.com/BaSui01/expflow/stats"
	"github.com/BaSui01/expflow/types"
)

// VariantCounts is the derived read model for one variant: how many
// participants were assigned, and how many conversions were recorded per
// goal. A transient conversion overcount (out-of-order replay) is tolerated
// by all readers.
type VariantCounts struct {
	Assignments int64            `json:"assignments"`
	Conversions map[string]int64 `json:"conversions"` // goal -> count
}

// TotalConversions sums conversions across all goals.
func (c VariantCounts) TotalConversions() int64 {
	var total int64
	for _, n := range c.Conversions {
		total += n
	}
	return total
}

// Rate returns the overall conversion rate guarded against zero assignments.
// Every rate consumed by the assignment engine flows through here so that
// zero-handling can never diverge between the bandit and the allocator.
func (c VariantCounts) Rate() float64 {
	return stats.Rate(c.TotalConversions(), c.Assignments)
}

// GoalRate returns the conversion rate for a single goal.
func (c VariantCounts) GoalRate(goal string) float64 {
	return stats.Rate(c.Conversions[goal], c.Assignments)
}

// Counts is a snapshot of all variant counters for one experiment, keyed by
// variant name. Individual counters are linearizable; the snapshot as a
// whole gives no ordering guarantee relative to concurrent writers.
type Counts map[string]VariantCounts

// TotalAssignments sums assignments across all variants.
func (c Counts) TotalAssignments() int64 {
	var total int64
	for _, vc := range c {
		total += vc.Assignments
	}
	return total
}

// AggregateStore is the durable record of assignments, conversions, and the
// derived counters. All write operations are safe for concurrent use.
type AggregateStore interface {
	// RecordAssignment appends an Assignment fact and atomically increments
	// the variant's assignment counter. It is idempotent per participant:
	// when an assignment already exists for (experiment, participant) the
	// existing fact is returned with created == false and no counter moves.
	// Two concurrent first-time calls for the same participant resolve to a
	// single stored assignment.
	RecordAssignment(ctx context.Context, experiment, variant, participantID string, attrs map[string]string) (a *types.Assignment, created bool, err error)

	// GetAssignment returns the participant's current assignment, or
	// types.ErrNoAssignment when none exists.
	GetAssignment(ctx context.Context, experiment, participantID string) (*types.Assignment, error)

	// RecordConversion looks up the participant's assignment (failing with
	// types.ErrNoAssignment), appends a Conversion fact, and atomically
	// increments the (variant, goal) conversion counter.
	RecordConversion(ctx context.Context, experiment, participantID, goal string) (*types.Conversion, error)

	// ReadCounts returns a snapshot of the experiment's variant counters.
	// An experiment with no recorded events yields an empty Counts.
	ReadCounts(ctx context.Context, experiment string) (Counts, error)
}

// Replayer is implemented by backends whose counters can be rebuilt from
// the event log. Rebuilding is the recovery path for corrupted or drifted
// counters; it is never part of the request path.
type Replayer interface {
	// RebuildCounters recomputes all counters for one experiment from its
	// Assignment and Conversion facts, replacing the stored counters.
	RebuildCounters(ctx context.Context, experiment string) error
}

// Sink receives facts after they have been durably recorded. The engine
// invokes sinks on the request goroutine, so implementations must return
// quickly; wrap slow downstreams in AsyncSink. A sink failure never gates
// a response — the interface deliberately returns nothing.
type Sink interface {
	AssignmentRecorded(a *types.Assignment)
	ConversionRecorded(c *types.Conversion)
}
