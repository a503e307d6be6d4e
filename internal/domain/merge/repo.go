package merge

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines storage operations for attribution records.
type Repository interface {
	Insert(ctx context.Context, a *Attribution) error
	// ListByEntry returns every record for an entry in merge order,
	// including archived ones (full audit chain).
	ListByEntry(ctx context.Context, section string, entryID uuid.UUID) ([]*Attribution, error)
	// ListJoined returns non-archived records for a patient/section
	// joined to their owning entries.
	ListJoined(ctx context.Context, section, patientKey string) ([]*JoinedRecord, error)
	// CountReviewed counts non-archived records whose owning entry is
	// currently reviewed, optionally filtered by reason.
	CountReviewed(ctx context.Context, section, patientKey string, cond Conditions) (int, error)
	// ArchiveByEntry flags every record owned by the entry as archived.
	ArchiveByEntry(ctx context.Context, section string, entryID uuid.UUID) error
}
