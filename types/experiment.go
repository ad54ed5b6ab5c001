package types

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the four known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Variant is one treatment arm of an experiment. Name must be unique within
// the experiment. Weight is a relative traffic weight; zero or negative
// weights are rejected at validation time, and a missing weight defaults to 1.
type Variant struct {
	Name      string         `json:"name"`
	Weight    float64        `json:"weight"`
	IsControl bool           `json:"is_control"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Experiment is the read-mostly configuration of one experiment. The engine
// mutates only Status (via the status machine) and the lifecycle timestamps;
// everything else is owned by the catalog.
type Experiment struct {
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Variants       []Variant  `json:"variants"`
	TrafficPercent float64    `json:"traffic_percent"` // 0-100, share of population eligible
	Goals          []string   `json:"goals"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Version        int64      `json:"version"` // monotonically increasing on every save
}

// Validate checks the experiment configuration invariants: a non-empty name,
// at least one variant, positive total weight, unique variant names, and a
// traffic percentage within [0, 100].
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return NewError(ErrCodeInvalidExperiment, "experiment name is required")
	}
	if len(e.Variants) == 0 {
		return ErrNoVariants
	}
	if e.TrafficPercent < 0 || e.TrafficPercent > 100 {
		return NewError(ErrCodeInvalidTrafficPercent,
			fmt.Sprintf("traffic percent %.2f outside [0, 100]", e.TrafficPercent))
	}

	seen := make(map[string]struct{}, len(e.Variants))
	var totalWeight float64
	for _, v := range e.Variants {
		if v.Name == "" {
			return NewError(ErrCodeInvalidExperiment, "variant name is required")
		}
		if _, dup := seen[v.Name]; dup {
			return NewError(ErrCodeInvalidExperiment,
				fmt.Sprintf("duplicate variant name %q", v.Name))
		}
		seen[v.Name] = struct{}{}
		if v.Weight < 0 {
			return fmt.Errorf("%w: variant %s has negative weight", ErrInvalidWeights, v.Name)
		}
		totalWeight += v.EffectiveWeight()
	}
	if totalWeight <= 0 {
		return fmt.Errorf("%w: total weight must be positive", ErrInvalidWeights)
	}
	return nil
}

// EffectiveWeight returns the variant's configured weight, defaulting to 1
// when unset.
func (v Variant) EffectiveWeight() float64 {
	if v.Weight == 0 {
		return 1
	}
	return v.Weight
}

// Control returns the designated control variant: the first variant marked
// IsControl, or the first variant when none is marked. Returns nil for an
// experiment without variants.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	if len(e.Variants) > 0 {
		return &e.Variants[0]
	}
	return nil
}

// Variant returns the variant with the given name, or nil.
func (e *Experiment) Variant(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// HasGoal reports whether the experiment tracks the named goal.
func (e *Experiment) HasGoal(goal string) bool {
	for _, g := range e.Goals {
		if g == goal {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Catalogs return clones so callers can never
// mutate shared configuration.
func (e *Experiment) Clone() *Experiment {
	cp := *e
	cp.Variants = make([]Variant, len(e.Variants))
	copy(cp.Variants, e.Variants)
	for i, v := range e.Variants {
		if v.Metadata != nil {
			md := make(map[string]any, len(v.Metadata))
			for k, val := range v.Metadata {
				md[k] = val
			}
			cp.Variants[i].Metadata = md
		}
	}
	cp.Goals = append([]string(nil), e.Goals...)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
