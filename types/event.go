package types

import "time"

// Assignment is the append-only fact that a participant was placed into a
// variant. The assignment log is never rewritten; the "current" assignment
// for a (experiment, participant) pair is the first one recorded while the
// experiment was running.
type Assignment struct {
	ID            string            `json:"id"`
	Experiment    string            `json:"experiment"`
	ParticipantID string            `json:"participant_id"`
	Variant       string            `json:"variant"`
	Context       map[string]string `json:"context,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Conversion is the append-only fact that an assigned participant completed
// a goal. Variant references the variant active at assignment time, not the
// experiment's current configuration.
type Conversion struct {
	ID            string    `json:"id"`
	Experiment    string    `json:"experiment"`
	ParticipantID string    `json:"participant_id"`
	Goal          string    `json:"goal"`
	Variant       string    `json:"variant"`
	CreatedAt     time.Time `json:"created_at"`
}
