package entry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when (section, id, patientKey) does not
	// resolve to a live document. Always distinguishable from driver
	// errors: repositories synthesize it only from an empty result.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidID marks a syntactically malformed entry id, as opposed
	// to a well-formed id with no matching record.
	ErrInvalidID = errors.New("invalid entry id")
)

// Repository defines storage operations for clinical entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	// GetByID loads an entry regardless of owner; used by the id
	// translation utilities.
	GetByID(ctx context.Context, section string, id uuid.UUID) (*Entry, error)
	// GetForPatient loads an entry only when both id and patient key
	// match, returning ErrNotFound otherwise (patient isolation).
	GetForPatient(ctx context.Context, section, patientKey string, id uuid.UUID) (*Entry, error)
	// UpdateData overwrites the entry's data payload and reviewed flag.
	UpdateData(ctx context.Context, section string, id uuid.UUID, data map[string]interface{}, reviewed bool) error
	SetReviewed(ctx context.Context, section string, id uuid.UUID, reviewed bool) error
	SetHidden(ctx context.Context, section string, id uuid.UUID, hidden bool) error
	Archive(ctx context.Context, section string, id uuid.UUID, at time.Time) error
	// AppendAttribution appends an attribution record id to the entry's
	// ordered provenance list. Ordering is insertion order.
	AppendAttribution(ctx context.Context, section string, entryID, attributionID uuid.UUID) error
	// AttributionOrder returns the entry's attribution id list in
	// insertion order; it is the authoritative ordering for the chain.
	AttributionOrder(ctx context.Context, section string, entryID uuid.UUID) ([]uuid.UUID, error)
	// ListByPatient returns non-archived, non-hidden entries for a
	// patient and section filtered on the reviewed flag.
	ListByPatient(ctx context.Context, section, patientKey string, reviewed bool) ([]*Entry, error)
	// FirstIDForPatient resolves a patient key to one of its entry ids.
	FirstIDForPatient(ctx context.Context, section, patientKey string) (uuid.UUID, error)
}
