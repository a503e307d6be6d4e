package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/recon/internal/domain/entry"
	"github.com/ehr/recon/internal/domain/section"
)

// EntryStore is the slice of the entry store the proposal engine needs.
// Satisfied by *entry.Service.
type EntryStore interface {
	Save(ctx context.Context, p entry.SaveParams) (uuid.UUID, error)
	Get(ctx context.Context, sec, patientKey string, id uuid.UUID) (*entry.Detail, error)
	MarkReviewed(ctx context.Context, sec, patientKey string, id uuid.UUID) error
	Remove(ctx context.Context, sec, patientKey string, id uuid.UUID) error
}

// Detail is a proposal with its pending entry and every candidate match
// entry populated.
type Detail struct {
	Proposal
	Entry   *entry.Detail   `json:"entry"`
	Matches []*entry.Detail `json:"matches"`
}

// Service is the match proposal engine. Each proposal moves through a
// two-state machine: pending, then exactly one of accepted or cancelled.
type Service struct {
	registry  *section.Registry
	proposals Repository
	entries   EntryStore
}

// NewService creates a match proposal engine.
func NewService(registry *section.Registry, proposals Repository, entries EntryStore) *Service {
	return &Service{registry: registry, proposals: proposals, entries: entries}
}

// Propose creates one unreviewed entry and one proposal per partial.
// Partials are processed independently: a failure on one does not roll
// back siblings that already committed. The ids of successfully created
// proposals are returned alongside any joined sibling errors.
func (s *Service) Propose(ctx context.Context, sec, patientKey string, partials []PartialEntry, sourceID string) ([]uuid.UUID, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	var (
		ids  []uuid.UUID
		errs []error
	)
	for i, partial := range partials {
		id, err := s.proposeOne(ctx, sec, patientKey, partial, sourceID)
		if err != nil {
			errs = append(errs, fmt.Errorf("partial %d: %w", i, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (s *Service) proposeOne(ctx context.Context, sec, patientKey string, partial PartialEntry, sourceID string) (uuid.UUID, error) {
	entryID, err := s.entries.Save(ctx, entry.SaveParams{
		Section:    sec,
		PatientKey: patientKey,
		Data:       partial.Data,
		Reviewed:   false,
		SourceID:   sourceID,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("save partial entry: %w", err)
	}
	p := &Proposal{
		Section:    sec,
		PatientKey: patientKey,
		EntryID:    entryID,
		Candidates: partial.Candidates,
	}
	if err := s.proposals.Insert(ctx, p); err != nil {
		return uuid.Nil, fmt.Errorf("insert proposal: %w", err)
	}
	return p.ID, nil
}

// Get resolves one proposal with its pending entry and candidates
// populated.
func (s *Service) Get(ctx context.Context, sec, patientKey string, id uuid.UUID) (*Detail, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	p, err := s.proposals.GetForPatient(ctx, sec, patientKey, id)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, p, nil)
}

// GetAll returns every pending proposal for the patient/section, each
// populated; entry data is projected down to fields when supplied.
func (s *Service) GetAll(ctx context.Context, sec, patientKey string, fields []string) ([]*Detail, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	pending, err := s.proposals.ListPending(ctx, sec, patientKey)
	if err != nil {
		return nil, err
	}
	details := make([]*Detail, 0, len(pending))
	for _, p := range pending {
		d, err := s.populate(ctx, p, fields)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

// populate resolves the proposal's pending entry and candidate entries.
// Entries the store no longer shows (archived after a cancel, or a
// candidate removed while the proposal was pending) are left out rather
// than failing the read, so the review queue stays renderable.
func (s *Service) populate(ctx context.Context, p *Proposal, fields []string) (*Detail, error) {
	d := &Detail{Proposal: *p}
	pendingEntry, err := s.entries.Get(ctx, p.Section, p.PatientKey, p.EntryID)
	switch {
	case err == nil:
		project(pendingEntry, fields)
		d.Entry = pendingEntry
	case !errors.Is(err, entry.ErrNotFound):
		return nil, fmt.Errorf("populate pending entry: %w", err)
	}
	for _, c := range p.Candidates {
		m, err := s.entries.Get(ctx, p.Section, p.PatientKey, c.MatchEntryID)
		if errors.Is(err, entry.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("populate candidate %s: %w", c.MatchEntryID, err)
		}
		project(m, fields)
		d.Matches = append(d.Matches, m)
	}
	return d, nil
}

func project(d *entry.Detail, fields []string) {
	if len(fields) == 0 {
		return
	}
	projected := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := d.Data[f]; ok {
			projected[f] = v
		}
	}
	d.Data = projected
}

// Count counts pending proposals whose candidate diff payloads match the
// given conditions.
func (s *Service) Count(ctx context.Context, sec, patientKey string, conditions map[string]interface{}) (int, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return 0, err
	}
	return s.proposals.CountPending(ctx, sec, patientKey, conditions)
}

// Accept promotes the proposal's pending entry into the authoritative
// record. Sequenced: (a) load proposal and entry, (b) mark the entry
// reviewed, (c) set the determination. Each step must commit before the
// next; a crash between (b) and (c) leaves a reviewed entry with a still
// pending proposal, recoverable by retry.
func (s *Service) Accept(ctx context.Context, sec, patientKey string, id uuid.UUID, reason string) error {
	p, err := s.loadPending(ctx, sec, patientKey, id)
	if err != nil {
		return err
	}
	if err := s.entries.MarkReviewed(ctx, sec, patientKey, p.EntryID); err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			return fmt.Errorf("proposal %s entry %s: %w", p.ID, p.EntryID, ErrNotFound)
		}
		return err
	}
	return s.proposals.SetDetermination(ctx, sec, id, reason)
}

// Cancel discards the proposal: the pending entry is archived first (with
// its attribution cascade), then the determination is set. The ordering
// guarantees a crash mid-sequence never leaves a terminal proposal with a
// live unarchived entry.
func (s *Service) Cancel(ctx context.Context, sec, patientKey string, id uuid.UUID, reason string) error {
	p, err := s.loadPending(ctx, sec, patientKey, id)
	if err != nil {
		return err
	}
	if err := s.entries.Remove(ctx, sec, patientKey, p.EntryID); err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			return fmt.Errorf("proposal %s entry %s: %w", p.ID, p.EntryID, ErrNotFound)
		}
		return err
	}
	return s.proposals.SetDetermination(ctx, sec, id, reason)
}

func (s *Service) loadPending(ctx context.Context, sec, patientKey string, id uuid.UUID) (*Proposal, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	p, err := s.proposals.GetForPatient(ctx, sec, patientKey, id)
	if err != nil {
		return nil, err
	}
	if !p.Pending() {
		return nil, ErrAlreadyDetermined
	}
	return p, nil
}
