package match

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when (section, id, patientKey) does not
	// resolve to an existing proposal.
	ErrNotFound = errors.New("match proposal not found")

	// ErrAlreadyDetermined is returned when accept or cancel races with,
	// or repeats, a prior determination. The first determination wins.
	ErrAlreadyDetermined = errors.New("match proposal already determined")
)

// Repository defines storage operations for match proposals.
type Repository interface {
	Insert(ctx context.Context, p *Proposal) error
	GetForPatient(ctx context.Context, section, patientKey string, id uuid.UUID) (*Proposal, error)
	// ListPending returns proposals with no determination, oldest first.
	ListPending(ctx context.Context, section, patientKey string) ([]*Proposal, error)
	// CountPending counts pending proposals whose candidate match
	// payloads contain every condition field.
	CountPending(ctx context.Context, section, patientKey string, conditions map[string]interface{}) (int, error)
	// SetDetermination resolves the proposal with a conditional write:
	// it fails with ErrAlreadyDetermined when a determination is already
	// present, and ErrNotFound when the proposal does not exist.
	SetDetermination(ctx context.Context, section string, id uuid.UUID, reason string) error
}
