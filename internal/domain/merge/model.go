package merge

import (
	"time"

	"github.com/google/uuid"
)

// Reason classifies the event that produced an attribution record.
type Reason string

const (
	ReasonNew       Reason = "new"
	ReasonDuplicate Reason = "duplicate"
	ReasonUpdate    Reason = "update"
)

// Valid reports whether r is a known merge reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonNew, ReasonDuplicate, ReasonUpdate:
		return true
	}
	return false
}

// Attribution maps to the merges table: one append-only record linking an
// entry version to the source document that produced it. Immutable once
// written except for the archived flag, which moves in lockstep with the
// owning entry.
type Attribution struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Section    string    `db:"section" json:"section"`
	PatientKey string    `db:"pat_key" json:"pat_key"`
	EntryID    uuid.UUID `db:"entry_id" json:"entry_id"`
	SourceID   string    `db:"source_id" json:"source_id"`
	Reason     Reason    `db:"reason" json:"merge_reason"`
	MergedAt   time.Time `db:"merged_at" json:"merged_at"`
	Archived   bool      `db:"archived" json:"archived"`
}

// JoinedRecord is an attribution row joined to its owning entry, as read
// back for merge-history queries.
type JoinedRecord struct {
	Attribution
	EntryData     map[string]interface{} `json:"entry_data"`
	EntryReviewed bool                   `json:"entry_reviewed"`
}

// HistoryItem is one element of a patient's merge history: the record and
// its entry projected down to the requested fields, plus the resolved
// source-document filename.
type HistoryItem struct {
	Record   map[string]interface{} `json:"record"`
	Entry    map[string]interface{} `json:"entry"`
	Filename string                 `json:"filename,omitempty"`
	Reason   Reason                 `json:"merge_reason"`
}

// Conditions filters ledger counts.
type Conditions struct {
	Reason Reason `json:"merge_reason,omitempty"`
}
