package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/expflow/types"
)

// MemoryStore is an in-memory AggregateStore for tests and single-process
// deployments. Assignment idempotency is a check-then-insert under one lock;
// counters are atomic values so snapshot reads never block writers.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]map[string]*types.Assignment // experiment -> participant -> fact
	assignLog   map[string][]*types.Assignment          // experiment -> append-only log
	convertLog  map[string][]*types.Conversion
	counters    map[string]map[string]*memCounter // experiment -> variant -> counters
}

type memCounter struct {
	assignments atomic.Int64
	mu          sync.Mutex // guards goal map shape only, not the values
	goals       map[string]*atomic.Int64
}

func (c *memCounter) goal(name string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.goals[name]
	if !ok {
		g = &atomic.Int64{}
		c.goals[name] = g
	}
	return g
}

// NewMemoryStore creates an empty in-memory aggregate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assignments: make(map[string]map[string]*types.Assignment),
		assignLog:   make(map[string][]*types.Assignment),
		convertLog:  make(map[string][]*types.Conversion),
		counters:    make(map[string]map[string]*memCounter),
	}
}

func (s *MemoryStore) counter(experiment, variant string) *memCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterLocked(experiment, variant)
}

func (s *MemoryStore) counterLocked(experiment, variant string) *memCounter {
	byVariant, ok := s.counters[experiment]
	if !ok {
		byVariant = make(map[string]*memCounter)
		s.counters[experiment] = byVariant
	}
	c, ok := byVariant[variant]
	if !ok {
		c = &memCounter{goals: make(map[string]*atomic.Int64)}
		byVariant[variant] = c
	}
	return c
}

// RecordAssignment implements AggregateStore.
func (s *MemoryStore) RecordAssignment(ctx context.Context, experiment, variant, participantID string, attrs map[string]string) (*types.Assignment, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, types.NewStorageError("record assignment", err)
	}

	s.mu.Lock()
	byParticipant, ok := s.assignments[experiment]
	if !ok {
		byParticipant = make(map[string]*types.Assignment)
		s.assignments[experiment] = byParticipant
	}
	if existing, ok := byParticipant[participantID]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}

	a := &types.Assignment{
		ID:            uuid.New().String(),
		Experiment:    experiment,
		ParticipantID: participantID,
		Variant:       variant,
		Context:       attrs,
		CreatedAt:     time.Now().UTC(),
	}
	byParticipant[participantID] = a
	s.assignLog[experiment] = append(s.assignLog[experiment], a)
	counter := s.counterLocked(experiment, variant)
	s.mu.Unlock()

	counter.assignments.Add(1)
	return a, true, nil
}

// GetAssignment implements AggregateStore.
func (s *MemoryStore) GetAssignment(ctx context.Context, experiment, participantID string) (*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byParticipant, ok := s.assignments[experiment]; ok {
		if a, ok := byParticipant[participantID]; ok {
			return a, nil
		}
	}
	return nil, types.ErrNoAssignment
}

// RecordConversion implements AggregateStore.
func (s *MemoryStore) RecordConversion(ctx context.Context, experiment, participantID, goal string) (*types.Conversion, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewStorageError("record conversion", err)
	}

	a, err := s.GetAssignment(ctx, experiment, participantID)
	if err != nil {
		return nil, err
	}

	c := &types.Conversion{
		ID:            uuid.New().String(),
		Experiment:    experiment,
		ParticipantID: participantID,
		Goal:          goal,
		Variant:       a.Variant,
		CreatedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.convertLog[experiment] = append(s.convertLog[experiment], c)
	s.mu.Unlock()

	s.counter(experiment, a.Variant).goal(goal).Add(1)
	return c, nil
}

// ReadCounts implements AggregateStore.
func (s *MemoryStore) ReadCounts(ctx context.Context, experiment string) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(Counts)
	for variant, c := range s.counters[experiment] {
		vc := VariantCounts{
			Assignments: c.assignments.Load(),
			Conversions: make(map[string]int64),
		}
		c.mu.Lock()
		for goal, g := range c.goals {
			vc.Conversions[goal] = g.Load()
		}
		c.mu.Unlock()
		counts[variant] = vc
	}
	return counts, nil
}

// RebuildCounters implements Replayer by recounting the event log.
func (s *MemoryStore) RebuildCounters(ctx context.Context, experiment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rebuilt := make(map[string]*memCounter)
	get := func(variant string) *memCounter {
		c, ok := rebuilt[variant]
		if !ok {
			c = &memCounter{goals: make(map[string]*atomic.Int64)}
			rebuilt[variant] = c
		}
		return c
	}

	for _, a := range s.assignLog[experiment] {
		get(a.Variant).assignments.Add(1)
	}
	for _, c := range s.convertLog[experiment] {
		get(c.Variant).goal(c.Goal).Add(1)
	}

	s.counters[experiment] = rebuilt
	return nil
}

var _ AggregateStore = (*MemoryStore)(nil)
var _ Replayer = (*MemoryStore)(nil)
