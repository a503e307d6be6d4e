package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/recon/internal/domain/entry"
	"github.com/ehr/recon/internal/domain/section"
)

// EntryAppender is the narrow slice of the entry store the ledger needs:
// the entry's ordered provenance list, both appending to it and reading it
// back. Satisfied by entry.Repository.
type EntryAppender interface {
	AppendAttribution(ctx context.Context, section string, entryID, attributionID uuid.UUID) error
	AttributionOrder(ctx context.Context, section string, entryID uuid.UUID) ([]uuid.UUID, error)
}

// SourceResolver maps an opaque source-document id to display metadata.
// Implementations return an empty filename, not an error, when the source
// document is unknown to them.
type SourceResolver interface {
	Filename(ctx context.Context, patientKey, sourceID string) (string, error)
}

// RecordParams describes one attribution event.
type RecordParams struct {
	Section    string
	PatientKey string
	EntryID    uuid.UUID
	SourceID   string
	Reason     Reason
}

// Ledger is the attribution ledger: the append-only merge history of
// every entry, with provenance reconstruction and merge counts.
type Ledger struct {
	registry *section.Registry
	records  Repository
	entries  EntryAppender
	sources  SourceResolver
}

// NewLedger creates an attribution ledger.
func NewLedger(registry *section.Registry, records Repository, entries EntryAppender, sources SourceResolver) *Ledger {
	return &Ledger{registry: registry, records: records, entries: entries, sources: sources}
}

// Record inserts one attribution record and appends its id to the owning
// entry. The two writes are sequenced, not transactional: when the entry
// append fails after the ledger insert succeeded, the error surfaces to
// the caller so the orphaned record is observable rather than silent.
func (l *Ledger) Record(ctx context.Context, p RecordParams) (uuid.UUID, error) {
	if _, err := l.registry.Resolve(p.Section); err != nil {
		return uuid.Nil, err
	}
	if !p.Reason.Valid() {
		return uuid.Nil, fmt.Errorf("invalid merge reason: %q", p.Reason)
	}
	a := &Attribution{
		Section:    p.Section,
		PatientKey: p.PatientKey,
		EntryID:    p.EntryID,
		SourceID:   p.SourceID,
		Reason:     p.Reason,
	}
	if err := l.records.Insert(ctx, a); err != nil {
		return uuid.Nil, fmt.Errorf("insert attribution: %w", err)
	}
	if err := l.entries.AppendAttribution(ctx, p.Section, p.EntryID, a.ID); err != nil {
		return uuid.Nil, fmt.Errorf("attribution %s recorded but entry append failed: %w", a.ID, err)
	}
	return a.ID, nil
}

// RecordNew, RecordUpdate and RecordDuplicate implement entry.Ledger.

func (l *Ledger) RecordNew(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error) {
	return l.Record(ctx, RecordParams{Section: sec, PatientKey: patientKey, EntryID: entryID, SourceID: sourceID, Reason: ReasonNew})
}

func (l *Ledger) RecordUpdate(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error) {
	return l.Record(ctx, RecordParams{Section: sec, PatientKey: patientKey, EntryID: entryID, SourceID: sourceID, Reason: ReasonUpdate})
}

func (l *Ledger) RecordDuplicate(ctx context.Context, sec, patientKey string, entryID uuid.UUID, sourceID string) (uuid.UUID, error) {
	return l.Record(ctx, RecordParams{Section: sec, PatientKey: patientKey, EntryID: entryID, SourceID: sourceID, Reason: ReasonDuplicate})
}

// ArchiveFor flags every attribution record of an entry archived; called
// by the entry store when the entry itself is archived.
func (l *Ledger) ArchiveFor(ctx context.Context, sec string, entryID uuid.UUID) error {
	if _, err := l.registry.Resolve(sec); err != nil {
		return err
	}
	return l.records.ArchiveByEntry(ctx, sec, entryID)
}

// ChainFor reconstructs an entry's full provenance chain, each link
// resolved to the source document's display filename. Order follows the
// entry's attribution array, the authoritative insertion-order record;
// timestamps are a tie-break for records the array does not reference
// (an orphan from a failed append).
func (l *Ledger) ChainFor(ctx context.Context, sec string, entryID uuid.UUID) ([]entry.AttributionView, error) {
	if _, err := l.registry.Resolve(sec); err != nil {
		return nil, err
	}
	records, err := l.records.ListByEntry(ctx, sec, entryID)
	if err != nil {
		return nil, err
	}
	order, err := l.entries.AttributionOrder(ctx, sec, entryID)
	if err != nil {
		return nil, fmt.Errorf("load attribution order: %w", err)
	}
	pos := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	sort.SliceStable(records, func(i, j int) bool {
		pi, iok := pos[records[i].ID]
		pj, jok := pos[records[j].ID]
		if iok && jok {
			return pi < pj
		}
		if iok != jok {
			return iok
		}
		return records[i].MergedAt.Before(records[j].MergedAt)
	})
	views := make([]entry.AttributionView, 0, len(records))
	for _, a := range records {
		filename, err := l.sources.Filename(ctx, a.PatientKey, a.SourceID)
		if err != nil {
			return nil, fmt.Errorf("resolve source %s: %w", a.SourceID, err)
		}
		views = append(views, entry.AttributionView{
			ID:       a.ID,
			SourceID: a.SourceID,
			Filename: filename,
			Reason:   string(a.Reason),
			MergedAt: a.MergedAt,
		})
	}
	return views, nil
}

// GetAll returns the merge history for a patient/section: every
// non-archived record whose owning entry is reviewed, joined to the entry
// and source document and projected down to the requested fields.
// Records owned by unreviewed entries are pending proposals and are not
// part of merge history.
func (l *Ledger) GetAll(ctx context.Context, sec, patientKey string, entryFields, recordFields []string) ([]HistoryItem, error) {
	if _, err := l.registry.Resolve(sec); err != nil {
		return nil, err
	}
	joined, err := l.records.ListJoined(ctx, sec, patientKey)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(joined))
	for _, j := range joined {
		if !j.EntryReviewed {
			continue
		}
		filename, err := l.sources.Filename(ctx, j.PatientKey, j.SourceID)
		if err != nil {
			return nil, fmt.Errorf("resolve source %s: %w", j.SourceID, err)
		}
		items = append(items, HistoryItem{
			Record:   projectRecord(&j.Attribution, recordFields),
			Entry:    projectFields(j.EntryData, entryFields),
			Filename: filename,
			Reason:   j.Reason,
		})
	}
	return items, nil
}

// Count counts attribution records matching the conditions whose owning
// entry is currently reviewed.
func (l *Ledger) Count(ctx context.Context, sec, patientKey string, cond Conditions) (int, error) {
	if _, err := l.registry.Resolve(sec); err != nil {
		return 0, err
	}
	if cond.Reason != "" && !cond.Reason.Valid() {
		return 0, fmt.Errorf("invalid merge reason: %q", cond.Reason)
	}
	return l.records.CountReviewed(ctx, sec, patientKey, cond)
}

func projectFields(data map[string]interface{}, fields []string) map[string]interface{} {
	if len(fields) == 0 {
		return data
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

func projectRecord(a *Attribution, fields []string) map[string]interface{} {
	full := map[string]interface{}{
		"id":           a.ID,
		"entry_id":     a.EntryID,
		"source_id":    a.SourceID,
		"merge_reason": string(a.Reason),
		"merged_at":    a.MergedAt,
	}
	if len(fields) == 0 {
		return full
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := full[f]; ok {
			out[f] = v
		}
	}
	return out
}
