package entry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recon/internal/domain/section"
)

// Ledger is the attribution surface the entry store depends on. Every
// mutation appends exactly one attribution record; archive cascades in
// lockstep with entry removal. Implemented by merge.Ledger.
type Ledger interface {
	RecordNew(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error)
	RecordUpdate(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error)
	RecordDuplicate(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error)
	ArchiveFor(ctx context.Context, sec string, entryID uuid.UUID) error
	ChainFor(ctx context.Context, sec string, entryID uuid.UUID) ([]AttributionView, error)
}

// SaveParams carries everything needed to create a new entry.
type SaveParams struct {
	Section    string
	PatientKey string
	Data       map[string]interface{}
	Reviewed   bool
	SourceID   string
	// Supersedes, when set, names a prior entry this one replaces. The
	// prior entry is hidden before the save is reported successful so a
	// failure never leaves two visible copies.
	Supersedes *uuid.UUID
}

// Service is the entry store: canonical per-section clinical entries.
type Service struct {
	registry *section.Registry
	entries  Repository
	ledger   Ledger
}

// NewService creates an entry store over the given repository and ledger.
func NewService(registry *section.Registry, entries Repository, ledger Ledger) *Service {
	return &Service{registry: registry, entries: entries, ledger: ledger}
}

// Save inserts a new entry and records a "new" attribution. The hide step
// for a superseded entry and the attribution write both complete before
// success is reported; either failure surfaces to the caller.
func (s *Service) Save(ctx context.Context, p SaveParams) (uuid.UUID, error) {
	if _, err := s.registry.Resolve(p.Section); err != nil {
		return uuid.Nil, err
	}
	if p.PatientKey == "" {
		return uuid.Nil, fmt.Errorf("patient key is required")
	}
	e := &Entry{
		Section:    p.Section,
		PatientKey: p.PatientKey,
		Data:       ScrubReserved(p.Data),
		Reviewed:   p.Reviewed,
	}
	if err := s.entries.Insert(ctx, e); err != nil {
		return uuid.Nil, fmt.Errorf("insert entry: %w", err)
	}
	if p.Supersedes != nil {
		if err := s.Supersede(ctx, p.Section, p.PatientKey, e.ID, *p.Supersedes); err != nil {
			return uuid.Nil, fmt.Errorf("supersede prior entry: %w", err)
		}
	}
	if _, err := s.ledger.RecordNew(ctx, p.Section, p.PatientKey, e.ID, p.SourceID); err != nil {
		return uuid.Nil, fmt.Errorf("record attribution: %w", err)
	}
	return e.ID, nil
}

// Supersede hides the old entry in favor of newID. The new entry must
// already exist; hiding is what keeps the superseded copy out of reads
// while preserving it for audit. The old entry must belong to the same
// patient: the link reference is caller-supplied, so another patient's id
// fails ErrNotFound instead of hiding that patient's entry.
func (s *Service) Supersede(ctx context.Context, sec, patientKey string, newID, oldID uuid.UUID) error {
	if _, err := s.registry.Resolve(sec); err != nil {
		return err
	}
	if newID == oldID {
		return fmt.Errorf("entry cannot supersede itself")
	}
	if _, err := s.getLive(ctx, sec, patientKey, oldID); err != nil {
		return err
	}
	return s.entries.SetHidden(ctx, sec, oldID, true)
}

// getLive is the lookup used by reads and mutations: it requires the
// patient key to match and never returns archived entries. Remove is the
// one caller that bypasses it, because idempotent re-removal must still
// see the archived row.
func (s *Service) getLive(ctx context.Context, sec, patientKey string, id uuid.UUID) (*Entry, error) {
	e, err := s.entries.GetForPatient(ctx, sec, patientKey, id)
	if err != nil {
		return nil, err
	}
	if e.Archived {
		return nil, ErrNotFound
	}
	return e, nil
}

// Update marks the entry reviewed and deep-merges the caller-specified
// leaf fields into its data. Reserved keys in the patch are ignored.
func (s *Service) Update(ctx context.Context, sec, patientKey string, id uuid.UUID, sourceID string, fields map[string]interface{}) error {
	return s.applyData(ctx, sec, patientKey, id, sourceID, fields, false)
}

// Replace is Update with full-overwrite semantics: every existing data
// field not present in the replacement is cleared.
func (s *Service) Replace(ctx context.Context, sec, patientKey string, id uuid.UUID, sourceID string, fields map[string]interface{}) error {
	return s.applyData(ctx, sec, patientKey, id, sourceID, fields, true)
}

func (s *Service) applyData(ctx context.Context, sec, patientKey string, id uuid.UUID, sourceID string, fields map[string]interface{}, overwrite bool) error {
	if _, err := s.registry.Resolve(sec); err != nil {
		return err
	}
	e, err := s.getLive(ctx, sec, patientKey, id)
	if err != nil {
		return err
	}
	patch := ScrubReserved(fields)
	data := patch
	if !overwrite {
		data = MergeData(e.Data, patch)
	}
	if err := s.entries.UpdateData(ctx, sec, id, data, true); err != nil {
		return fmt.Errorf("update entry data: %w", err)
	}
	if _, err := s.ledger.RecordUpdate(ctx, sec, patientKey, id, sourceID); err != nil {
		return fmt.Errorf("record attribution: %w", err)
	}
	return nil
}

// Duplicate extends the provenance of an existing entry: a fresh
// "duplicate" attribution is appended but no new entry row is created.
func (s *Service) Duplicate(ctx context.Context, sec, patientKey string, id uuid.UUID, sourceID string) error {
	if _, err := s.registry.Resolve(sec); err != nil {
		return err
	}
	if _, err := s.getLive(ctx, sec, patientKey, id); err != nil {
		return err
	}
	if _, err := s.ledger.RecordDuplicate(ctx, sec, patientKey, id, sourceID); err != nil {
		return fmt.Errorf("record attribution: %w", err)
	}
	return nil
}

// Remove soft-deletes the entry and cascades the archived flag to its
// attribution records. Removing an already-archived entry is a no-op.
func (s *Service) Remove(ctx context.Context, sec, patientKey string, id uuid.UUID) error {
	if _, err := s.registry.Resolve(sec); err != nil {
		return err
	}
	e, err := s.entries.GetForPatient(ctx, sec, patientKey, id)
	if err != nil {
		return err
	}
	if e.Archived {
		return nil
	}
	if err := s.entries.Archive(ctx, sec, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}
	if err := s.ledger.ArchiveFor(ctx, sec, id); err != nil {
		return fmt.Errorf("archive attribution: %w", err)
	}
	return nil
}

// Get returns the entry joined with its resolved provenance chain.
func (s *Service) Get(ctx context.Context, sec, patientKey string, id uuid.UUID) (*Detail, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	e, err := s.getLive(ctx, sec, patientKey, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, e)
}

// GetOnlyFields returns the entry with its data projected down to the
// requested field names.
func (s *Service) GetOnlyFields(ctx context.Context, sec, patientKey string, id uuid.UUID, fields []string) (*Entry, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	e, err := s.getLive(ctx, sec, patientKey, id)
	if err != nil {
		return nil, err
	}
	projected := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := e.Data[f]; ok {
			projected[f] = v
		}
	}
	e.Data = projected
	return e, nil
}

// MarkReviewed promotes an entry into the authoritative record without
// touching its data or provenance; used when a match proposal is accepted.
func (s *Service) MarkReviewed(ctx context.Context, sec, patientKey string, id uuid.UUID) error {
	if _, err := s.registry.Resolve(sec); err != nil {
		return err
	}
	if _, err := s.getLive(ctx, sec, patientKey, id); err != nil {
		return err
	}
	return s.entries.SetReviewed(ctx, sec, id, true)
}

// List returns reviewed (or unreviewed) non-archived entries for a
// patient and section, each populated with its provenance chain.
func (s *Service) List(ctx context.Context, sec, patientKey string, reviewed bool) ([]*Detail, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	entries, err := s.entries.ListByPatient(ctx, sec, patientKey, reviewed)
	if err != nil {
		return nil, err
	}
	details := make([]*Detail, 0, len(entries))
	for _, e := range entries {
		d, err := s.detail(ctx, e)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

func (s *Service) detail(ctx context.Context, e *Entry) (*Detail, error) {
	chain, err := s.ledger.ChainFor(ctx, e.Section, e.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve attribution chain: %w", err)
	}
	return &Detail{Entry: *e, Attribution: chain}, nil
}

// IDToPatientKey resolves an entry id (as supplied by an external caller,
// hence a string) to its owning patient key. A malformed id yields
// ErrInvalidID rather than ErrNotFound so callers can tell bad input from
// a missing record.
func (s *Service) IDToPatientKey(ctx context.Context, sec, id string) (string, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return "", err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidID
	}
	e, err := s.entries.GetByID(ctx, sec, uid)
	if err != nil {
		return "", err
	}
	return e.PatientKey, nil
}

// PatientKeyToID resolves a patient key to one of its entry ids.
func (s *Service) PatientKeyToID(ctx context.Context, sec, patientKey string) (uuid.UUID, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return uuid.Nil, err
	}
	return s.entries.FirstIDForPatient(ctx, sec, patientKey)
}

// IDToPatientInfo resolves an entry id to the owning patient's summary.
func (s *Service) IDToPatientInfo(ctx context.Context, sec, id string) (*PatientInfo, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}
	e, err := s.entries.GetByID(ctx, sec, uid)
	if err != nil {
		return nil, err
	}
	return &PatientInfo{
		PatientKey: e.PatientKey,
		EntryID:    e.ID,
		Section:    e.Section,
		Reviewed:   e.Reviewed,
	}, nil
}
