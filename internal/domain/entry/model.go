package entry

import (
	"time"

	"github.com/google/uuid"
)

// Entry maps to the entries table: one clinical record instance within a
// section, owned by one patient. The section-specific payload lives in
// Data; everything else is system bookkeeping and never appears inside
// Data (reserved-key invariant).
type Entry struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	Section     string                 `db:"section" json:"section"`
	PatientKey  string                 `db:"pat_key" json:"pat_key"`
	Data        map[string]interface{} `db:"data" json:"data"`
	Reviewed    bool                   `db:"reviewed" json:"reviewed"`
	Archived    bool                   `db:"archived" json:"archived"`
	ArchivedOn  *time.Time             `db:"archived_on" json:"archived_on,omitempty"`
	Hidden      bool                   `db:"hidden" json:"hidden"`
	Attribution []uuid.UUID            `db:"attribution" json:"attribution"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`
}

// AttributionView is one resolved link in an entry's provenance chain:
// the attribution record joined to the source document's display metadata.
type AttributionView struct {
	ID       uuid.UUID `json:"id"`
	SourceID string    `json:"source_id"`
	Filename string    `json:"filename,omitempty"`
	Reason   string    `json:"merge_reason"`
	MergedAt time.Time `json:"merged_at"`
}

// Detail is an entry together with its full, chronologically ordered
// provenance chain.
type Detail struct {
	Entry       `json:"entry"`
	Attribution []AttributionView `json:"attribution"`
}

// PatientInfo is the id-translation view used by record-retrieval callers.
type PatientInfo struct {
	PatientKey string    `json:"pat_key"`
	EntryID    uuid.UUID `json:"entry_id"`
	Section    string    `json:"section"`
	Reviewed   bool      `json:"reviewed"`
}

// reservedKeys are the system bookkeeping fields that must never appear
// inside Entry.Data. Caller-supplied payloads are scrubbed against this
// set on every write.
var reservedKeys = map[string]bool{
	"id":          true,
	"_id":         true,
	"section":     true,
	"pat_key":     true,
	"patient_key": true,
	"reviewed":    true,
	"archived":    true,
	"archived_on": true,
	"hidden":      true,
	"attribution": true,
	"_link":       true,
}

// ScrubReserved returns a copy of data with reserved keys removed.
// Nested maps are left untouched: the reserved-key invariant applies to
// top-level field names only.
func ScrubReserved(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if reservedKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// MergeData deep-merges the caller-specified leaf fields of patch into
// base and returns the result. Maps merge recursively; any other value,
// including slices, replaces the existing one wholesale.
func MergeData(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		pm, pok := v.(map[string]interface{})
		bm, bok := out[k].(map[string]interface{})
		if pok && bok {
			out[k] = MergeData(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}
