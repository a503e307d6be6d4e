package match

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *mockRepo, *mockEntryStore) {
	svc, repo, store := newTestService()
	return NewHandler(svc), repo, store
}

func matchContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, sec, patientKey, id string) echo.Context {
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("patientKey", "section", "id")
		c.SetParamValues(patientKey, sec, id)
	} else {
		c.SetParamNames("patientKey", "section")
		c.SetParamValues(patientKey, sec)
	}
	return c
}

func proposeOne(t *testing.T, h *Handler, store *mockEntryStore) uuid.UUID {
	t.Helper()
	candidateID := seedEntry(store, "allergies", "pat-1", map[string]interface{}{"name": "penicillin"})
	ids, err := h.svc.Propose(context.Background(), "allergies", "pat-1", []PartialEntry{{
		Data:       map[string]interface{}{"name": "penicillin g"},
		Candidates: []Candidate{{MatchEntryID: candidateID, MatchObject: map[string]interface{}{"kind": "fuzzy", "percent": 80}}},
	}}, "blob-1")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return ids[0]
}

func TestHandlerList(t *testing.T) {
	h, _, store := newTestHandler()
	proposeOne(t, h, store)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?fields=name", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", "")

	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data  []Detail `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Fatalf("expected 1 proposal, got total=%d data=%d", body.Total, len(body.Data))
	}
	if body.Data[0].Entry == nil || body.Data[0].Entry.Data["name"] != "penicillin g" {
		t.Errorf("unexpected pending entry: %+v", body.Data[0].Entry)
	}
}

func TestHandlerList_Paginates(t *testing.T) {
	h, _, store := newTestHandler()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Propose(ctx, "allergies", "pat-1", []PartialEntry{{
			Data: map[string]interface{}{"name": fmt.Sprintf("entry-%d", i)},
		}}, "blob-1"); err != nil {
			t.Fatalf("Propose: %v", err)
		}
	}
	seedEntry(store, "allergies", "pat-1", map[string]interface{}{"name": "x"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=2&offset=2", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", "")

	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}

	var body struct {
		Data    []Detail `json:"data"`
		Total   int      `json:"total"`
		Limit   int      `json:"limit"`
		Offset  int      `json:"offset"`
		HasMore bool     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Data) != 1 {
		t.Errorf("expected last page of 3, got total=%d data=%d", body.Total, len(body.Data))
	}
	if body.Limit != 2 || body.Offset != 2 || body.HasMore {
		t.Errorf("unexpected page metadata: %+v", body)
	}
}

func TestHandlerList_UnknownSection(t *testing.T) {
	h, _, _ := newTestHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "bogus", "pat-1", "")

	err := h.List(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandlerGet_InvalidID(t *testing.T) {
	h, _, _ := newTestHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", "not-a-uuid")

	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandlerGet_NotFound(t *testing.T) {
	h, _, _ := newTestHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", uuid.NewString())

	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", httpErr.Code)
	}
}

func TestHandlerCount_WithFilter(t *testing.T) {
	h, _, store := newTestHandler()
	proposeOne(t, h, store)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, `/?filter={"kind":"fuzzy"}`, nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", "")

	if err := h.Count(c); err != nil {
		t.Fatalf("Count: %v", err)
	}

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"] != 1 {
		t.Errorf("expected count 1, got %d", body["count"])
	}
}

func TestHandlerCount_InvalidFilter(t *testing.T) {
	h, _, _ := newTestHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?filter=not-json", nil)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", "")

	err := h.Count(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandlerAccept_DefaultsReason(t *testing.T) {
	h, repo, store := newTestHandler()
	id := proposeOne(t, h, store)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", id.String())

	if err := h.Accept(c); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	p := repo.proposals[id]
	if p.Determination == nil || *p.Determination != "accepted" {
		t.Errorf("expected default determination, got %v", p.Determination)
	}
}

func TestHandlerCancel_Conflict(t *testing.T) {
	h, _, store := newTestHandler()
	id := proposeOne(t, h, store)

	if err := h.svc.Accept(context.Background(), "allergies", "pat-1", id, "accepted"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"duplicate"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := matchContext(e, req, rec, "allergies", "pat-1", id.String())

	err := h.Cancel(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", httpErr.Code)
	}
}
