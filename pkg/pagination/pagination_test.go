package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(t *testing.T, query string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext(t, ""))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	p := FromContext(newContext(t, "limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_ParsesParams(t *testing.T) {
	p := FromContext(newContext(t, "limit=10&offset=30"))
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("unexpected params: %+v", p)
	}
}

func TestParams_SQL(t *testing.T) {
	p := Params{Limit: 10, Offset: 30}
	if got := p.SQL(); got != "LIMIT 10 OFFSET 30" {
		t.Errorf("unexpected SQL clause: %s", got)
	}
}

func TestParams_Window(t *testing.T) {
	tests := []struct {
		limit, offset, total int
		start, end           int
	}{
		{limit: 10, offset: 0, total: 25, start: 0, end: 10},
		{limit: 10, offset: 20, total: 25, start: 20, end: 25},
		{limit: 10, offset: 40, total: 25, start: 25, end: 25},
		{limit: 10, offset: 0, total: 0, start: 0, end: 0},
	}
	for _, tt := range tests {
		p := Params{Limit: tt.limit, Offset: tt.offset}
		start, end := p.Window(tt.total)
		if start != tt.start || end != tt.end {
			t.Errorf("Window(%d) with limit=%d offset=%d: got [%d:%d], want [%d:%d]",
				tt.total, tt.limit, tt.offset, start, end, tt.start, tt.end)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	r := NewResponse(nil, 100, 20, 60)
	if !r.HasMore {
		t.Error("expected HasMore true")
	}

	r = NewResponse(nil, 100, 20, 80)
	if r.HasMore {
		t.Error("expected HasMore false on last page")
	}
}
