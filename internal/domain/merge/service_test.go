package merge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recon/internal/domain/section"
)

// -- Mock attribution repository --

type mockRepo struct {
	records []*Attribution
	// entryState lets tests control the joined reads.
	entryData     map[uuid.UUID]map[string]interface{}
	entryReviewed map[uuid.UUID]bool

	insertErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		entryData:     make(map[uuid.UUID]map[string]interface{}),
		entryReviewed: make(map[uuid.UUID]bool),
	}
}

func (m *mockRepo) Insert(_ context.Context, a *Attribution) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	a.ID = uuid.New()
	a.MergedAt = time.Now()
	m.records = append(m.records, a)
	return nil
}

func (m *mockRepo) ListByEntry(_ context.Context, sec string, entryID uuid.UUID) ([]*Attribution, error) {
	var out []*Attribution
	for _, a := range m.records {
		if a.Section == sec && a.EntryID == entryID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) ListJoined(_ context.Context, sec, patientKey string) ([]*JoinedRecord, error) {
	var out []*JoinedRecord
	for _, a := range m.records {
		if a.Section != sec || a.PatientKey != patientKey || a.Archived {
			continue
		}
		out = append(out, &JoinedRecord{
			Attribution:   *a,
			EntryData:     m.entryData[a.EntryID],
			EntryReviewed: m.entryReviewed[a.EntryID],
		})
	}
	return out, nil
}

func (m *mockRepo) CountReviewed(_ context.Context, sec, patientKey string, cond Conditions) (int, error) {
	n := 0
	for _, a := range m.records {
		if a.Section != sec || a.PatientKey != patientKey || a.Archived {
			continue
		}
		if !m.entryReviewed[a.EntryID] {
			continue
		}
		if cond.Reason != "" && a.Reason != cond.Reason {
			continue
		}
		n++
	}
	return n, nil
}

func (m *mockRepo) ArchiveByEntry(_ context.Context, sec string, entryID uuid.UUID) error {
	for _, a := range m.records {
		if a.Section == sec && a.EntryID == entryID {
			a.Archived = true
		}
	}
	return nil
}

// -- Mock collaborators --

type mockAppender struct {
	appended  map[uuid.UUID][]uuid.UUID
	appendErr error
}

func newMockAppender() *mockAppender {
	return &mockAppender{appended: make(map[uuid.UUID][]uuid.UUID)}
}

func (m *mockAppender) AppendAttribution(_ context.Context, sec string, entryID, attributionID uuid.UUID) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended[entryID] = append(m.appended[entryID], attributionID)
	return nil
}

func (m *mockAppender) AttributionOrder(_ context.Context, sec string, entryID uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(m.appended[entryID]))
	copy(out, m.appended[entryID])
	return out, nil
}

type mockResolver struct {
	filenames map[string]string
}

func (m *mockResolver) Filename(_ context.Context, patientKey, sourceID string) (string, error) {
	return m.filenames[sourceID], nil
}

func newTestLedger() (*Ledger, *mockRepo, *mockAppender, *mockResolver) {
	repo := newMockRepo()
	appender := newMockAppender()
	resolver := &mockResolver{filenames: make(map[string]string)}
	l := NewLedger(section.DefaultRegistry(), repo, appender, resolver)
	return l, repo, appender, resolver
}

// -- Tests --

func TestRecord_InsertsAndAppends(t *testing.T) {
	l, repo, appender, _ := newTestLedger()
	entryID := uuid.New()

	id, err := l.RecordNew(context.Background(), "allergies", "pat-1", entryID, "blob-1")
	if err != nil {
		t.Fatalf("RecordNew: %v", err)
	}

	if len(repo.records) != 1 || repo.records[0].Reason != ReasonNew {
		t.Errorf("unexpected records: %+v", repo.records)
	}
	if got := appender.appended[entryID]; len(got) != 1 || got[0] != id {
		t.Errorf("expected attribution id appended to entry, got %v", got)
	}
}

func TestRecord_InvalidReason(t *testing.T) {
	l, _, _, _ := newTestLedger()

	_, err := l.Record(context.Background(), RecordParams{
		Section: "allergies", PatientKey: "pat-1", EntryID: uuid.New(), Reason: "merged",
	})
	if err == nil {
		t.Fatal("expected error for invalid reason")
	}
}

func TestRecord_AppendFailureIsObservable(t *testing.T) {
	l, repo, appender, _ := newTestLedger()
	appender.appendErr = errors.New("entry store down")

	_, err := l.RecordUpdate(context.Background(), "allergies", "pat-1", uuid.New(), "blob-1")
	if err == nil || !errors.Is(err, appender.appendErr) {
		t.Fatalf("expected append error to surface, got %v", err)
	}
	// The orphaned record stays for operator inspection, never rolled back.
	if len(repo.records) != 1 {
		t.Errorf("expected orphaned record retained, have %d", len(repo.records))
	}
	if !strings.Contains(err.Error(), repo.records[0].ID.String()) {
		t.Error("error should name the orphaned record")
	}
}

func TestChainFor_ResolvesFilenamesInOrder(t *testing.T) {
	l, _, _, resolver := newTestLedger()
	ctx := context.Background()
	entryID := uuid.New()
	resolver.filenames["blob-1"] = "intake.xml"
	resolver.filenames["blob-2"] = "followup.xml"

	l.RecordNew(ctx, "allergies", "pat-1", entryID, "blob-1")
	l.RecordDuplicate(ctx, "allergies", "pat-1", entryID, "blob-2")
	l.RecordUpdate(ctx, "allergies", "pat-1", entryID, "blob-3")

	chain, err := l.ChainFor(ctx, "allergies", entryID)
	if err != nil {
		t.Fatalf("ChainFor: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 links, got %d", len(chain))
	}
	wantReasons := []string{"new", "duplicate", "update"}
	for i, want := range wantReasons {
		if chain[i].Reason != want {
			t.Errorf("link %d: expected reason %s, got %s", i, want, chain[i].Reason)
		}
	}
	if chain[0].Filename != "intake.xml" || chain[1].Filename != "followup.xml" {
		t.Errorf("unexpected filenames: %+v", chain)
	}
	// Unknown source resolves to empty filename, not an error.
	if chain[2].Filename != "" {
		t.Errorf("expected empty filename for unknown source, got %s", chain[2].Filename)
	}
}

func TestChainFor_OrderFollowsAttributionArray(t *testing.T) {
	l, repo, _, _ := newTestLedger()
	ctx := context.Background()
	entryID := uuid.New()

	l.RecordNew(ctx, "allergies", "pat-1", entryID, "blob-1")
	l.RecordDuplicate(ctx, "allergies", "pat-1", entryID, "blob-2")
	l.RecordUpdate(ctx, "allergies", "pat-1", entryID, "blob-3")

	// Timestamps cannot break same-instant ties; the entry's attribution
	// array is authoritative even when the store hands records back in a
	// different order.
	now := time.Now()
	for _, a := range repo.records {
		a.MergedAt = now
	}
	for i, j := 0, len(repo.records)-1; i < j; i, j = i+1, j-1 {
		repo.records[i], repo.records[j] = repo.records[j], repo.records[i]
	}

	chain, err := l.ChainFor(ctx, "allergies", entryID)
	if err != nil {
		t.Fatalf("ChainFor: %v", err)
	}
	wantReasons := []string{"new", "duplicate", "update"}
	if len(chain) != len(wantReasons) {
		t.Fatalf("expected %d links, got %d", len(wantReasons), len(chain))
	}
	for i, want := range wantReasons {
		if chain[i].Reason != want {
			t.Errorf("link %d: expected reason %s, got %s", i, want, chain[i].Reason)
		}
	}
}

func TestArchiveFor_FlagsAllRecords(t *testing.T) {
	l, repo, _, _ := newTestLedger()
	ctx := context.Background()
	entryID := uuid.New()

	l.RecordNew(ctx, "allergies", "pat-1", entryID, "blob-1")
	l.RecordUpdate(ctx, "allergies", "pat-1", entryID, "blob-2")

	if err := l.ArchiveFor(ctx, "allergies", entryID); err != nil {
		t.Fatalf("ArchiveFor: %v", err)
	}
	for _, a := range repo.records {
		if !a.Archived {
			t.Error("expected all records archived")
		}
	}
}

func TestGetAll_SkipsUnreviewedEntries(t *testing.T) {
	l, repo, _, _ := newTestLedger()
	ctx := context.Background()
	reviewedID, pendingID := uuid.New(), uuid.New()
	repo.entryReviewed[reviewedID] = true
	repo.entryData[reviewedID] = map[string]interface{}{"name": "penicillin", "severity": "high"}
	repo.entryData[pendingID] = map[string]interface{}{"name": "latex"}

	l.RecordNew(ctx, "allergies", "pat-1", reviewedID, "blob-1")
	l.RecordNew(ctx, "allergies", "pat-1", pendingID, "blob-2")

	items, err := l.GetAll(ctx, "allergies", "pat-1", nil, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 history item, got %d", len(items))
	}
	if items[0].Entry["name"] != "penicillin" {
		t.Errorf("unexpected entry data: %v", items[0].Entry)
	}
}

func TestGetAll_ProjectsFields(t *testing.T) {
	l, repo, _, _ := newTestLedger()
	ctx := context.Background()
	entryID := uuid.New()
	repo.entryReviewed[entryID] = true
	repo.entryData[entryID] = map[string]interface{}{"name": "penicillin", "severity": "high"}

	l.RecordNew(ctx, "allergies", "pat-1", entryID, "blob-1")

	items, err := l.GetAll(ctx, "allergies", "pat-1", []string{"name"}, []string{"merge_reason"})
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(items[0].Entry) != 1 || items[0].Entry["name"] != "penicillin" {
		t.Errorf("unexpected entry projection: %v", items[0].Entry)
	}
	if len(items[0].Record) != 1 || items[0].Record["merge_reason"] != "new" {
		t.Errorf("unexpected record projection: %v", items[0].Record)
	}
}

func TestCount_ReviewedOnlyWithReasonFilter(t *testing.T) {
	l, repo, _, _ := newTestLedger()
	ctx := context.Background()
	reviewedID, pendingID := uuid.New(), uuid.New()
	repo.entryReviewed[reviewedID] = true

	l.RecordNew(ctx, "allergies", "pat-1", reviewedID, "blob-1")
	l.RecordUpdate(ctx, "allergies", "pat-1", reviewedID, "blob-2")
	l.RecordNew(ctx, "allergies", "pat-1", pendingID, "blob-3")

	n, err := l.Count(ctx, "allergies", "pat-1", Conditions{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 reviewed records, got %d", n)
	}

	n, err = l.Count(ctx, "allergies", "pat-1", Conditions{Reason: ReasonUpdate})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 update record, got %d", n)
	}

	if _, err := l.Count(ctx, "allergies", "pat-1", Conditions{Reason: "bogus"}); err == nil {
		t.Fatal("expected error for invalid reason filter")
	}
}

func TestReasonValid(t *testing.T) {
	for _, r := range []Reason{ReasonNew, ReasonDuplicate, ReasonUpdate} {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if Reason("merged").Valid() {
		t.Error("unexpected valid reason")
	}
}
