// Package record provides the section and full-record façades: bulk
// save/retrieve of clinical entries grouped by section, and fan-out
// assembly of a patient's complete record across every supported section.
package record

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/recon/internal/domain/entry"
	"github.com/ehr/recon/internal/domain/match"
	"github.com/ehr/recon/internal/domain/section"
)

// ErrNoData is returned for an empty batch save: an empty array is a
// caller bug, never a vacuous success.
var ErrNoData = errors.New("no data supplied")

// EntryStore is the slice of the entry store the façades need.
// Satisfied by *entry.Service.
type EntryStore interface {
	Save(ctx context.Context, p entry.SaveParams) (uuid.UUID, error)
	List(ctx context.Context, sec, patientKey string, reviewed bool) ([]*entry.Detail, error)
}

// Proposer is the slice of the match engine the façades need.
// Satisfied by *match.Service.
type Proposer interface {
	Propose(ctx context.Context, sec, patientKey string, partials []match.PartialEntry, sourceID string) ([]uuid.UUID, error)
}

// Service orchestrates per-section and whole-record operations.
type Service struct {
	registry *section.Registry
	entries  EntryStore
	matches  Proposer
}

// NewService creates the record façade.
func NewService(registry *section.Registry, entries EntryStore, matches Proposer) *Service {
	return &Service{registry: registry, entries: entries, matches: matches}
}

// Save stores a batch of reviewed entries for one section, stamping the
// patient key on each, and returns the new ids in input order. An entry
// carrying a "_link" field supersedes the referenced prior entry.
// Sibling entries commit independently; errors are joined.
func (s *Service) Save(ctx context.Context, sec, patientKey string, items []map[string]interface{}, sourceID string) ([]uuid.UUID, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoData
	}
	var (
		ids  []uuid.UUID
		errs []error
	)
	for i, item := range items {
		supersedes, err := linkedEntry(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		id, err := s.entries.Save(ctx, entry.SaveParams{
			Section:    sec,
			PatientKey: patientKey,
			Data:       item,
			Reviewed:   true,
			SourceID:   sourceID,
			Supersedes: supersedes,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// linkedEntry extracts the optional "_link" reference from a parsed entry
// payload. The field is caller metadata, not clinical data; Save strips
// it before persisting.
func linkedEntry(item map[string]interface{}) (*uuid.UUID, error) {
	raw, ok := item["_link"]
	if !ok {
		return nil, nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: _link must be an entry id string", entry.ErrInvalidID)
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return nil, fmt.Errorf("%w: _link %q", entry.ErrInvalidID, str)
	}
	return &id, nil
}

// SavePartial submits a batch of partial entries with their candidate
// matches for review.
func (s *Service) SavePartial(ctx context.Context, sec, patientKey string, partials []match.PartialEntry, sourceID string) ([]uuid.UUID, error) {
	if _, err := s.registry.Resolve(sec); err != nil {
		return nil, err
	}
	if len(partials) == 0 {
		return nil, ErrNoData
	}
	return s.matches.Propose(ctx, sec, patientKey, partials, sourceID)
}

// Get lists the reviewed, non-archived entries for a patient/section with
// resolved attribution.
func (s *Service) Get(ctx context.Context, sec, patientKey string) ([]*entry.Detail, error) {
	return s.entries.List(ctx, sec, patientKey, true)
}

// GetPartial lists the unreviewed (pending-proposal) entries.
func (s *Service) GetPartial(ctx context.Context, sec, patientKey string) ([]*entry.Detail, error) {
	return s.entries.List(ctx, sec, patientKey, false)
}

// GetAll assembles the patient's complete record: a concurrent fan-out of
// Get across every stored section, joined into one keyed mapping. Any
// section failure fails the whole read; no partial record is assembled.
func (s *Service) GetAll(ctx context.Context, patientKey string) (map[string][]*entry.Detail, error) {
	sections := s.registry.StoredNames()
	out := make(map[string][]*entry.Detail, len(sections))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, sec := range sections {
		sec := sec
		g.Go(func() error {
			details, err := s.Get(ctx, sec, patientKey)
			if err != nil {
				return fmt.Errorf("section %s: %w", sec, err)
			}
			mu.Lock()
			out[sec] = details
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAll persists a whole parsed record: a concurrent fan-out of Save
// across every section present in the input. Synthetic sections (not
// backed by the entry store) are skipped. Section outcomes are
// independent; ids for the sections that committed are returned alongside
// any joined errors.
func (s *Service) SaveAll(ctx context.Context, patientKey string, rec map[string][]map[string]interface{}, sourceID string) (map[string][]uuid.UUID, error) {
	out := make(map[string][]uuid.UUID, len(rec))
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for sec, items := range rec {
		def, err := s.registry.Resolve(sec)
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			continue
		}
		if def.Synthetic {
			continue
		}
		if len(items) == 0 {
			continue
		}
		wg.Add(1)
		go func(sec string, items []map[string]interface{}) {
			defer wg.Done()
			ids, err := s.Save(ctx, sec, patientKey, items, sourceID)
			mu.Lock()
			defer mu.Unlock()
			if len(ids) > 0 {
				out[sec] = ids
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("section %s: %w", sec, err))
			}
		}(sec, items)
	}
	wg.Wait()
	return out, errors.Join(errs...)
}
