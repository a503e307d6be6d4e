package match

import (
	"time"

	"github.com/google/uuid"
)

// Candidate pairs an existing entry with the similarity/diff payload
// computed upstream (e.g. {"percent": 80, "diff": {...}}). The payload is
// opaque to the engine.
type Candidate struct {
	MatchEntryID uuid.UUID              `json:"match_entry_id"`
	MatchObject  map[string]interface{} `json:"match_object"`
}

// Proposal maps to the matches table: a pending, unreviewed entry paired
// with one or more candidate matches awaiting determination.
// Determination is write-once; once set the proposal is terminal.
type Proposal struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	Section       string      `db:"section" json:"section"`
	PatientKey    string      `db:"pat_key" json:"pat_key"`
	EntryID       uuid.UUID   `db:"entry_id" json:"entry_id"`
	Candidates    []Candidate `db:"candidates" json:"candidates"`
	Determination *string     `db:"determination" json:"determination,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// Pending reports whether the proposal still awaits a determination.
func (p *Proposal) Pending() bool { return p.Determination == nil }

// PartialEntry is one unit of a savePartial submission: the tentative
// entry payload plus its candidate matches.
type PartialEntry struct {
	Data       map[string]interface{} `json:"partial_entry"`
	Candidates []Candidate            `json:"partial_matches"`
}
