package merge

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/recon/internal/domain/section"
	"github.com/ehr/recon/internal/platform/auth"
	"github.com/ehr/recon/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	read.GET("/patients/:patientKey/sections/:section/merges", h.List)
	read.GET("/patients/:patientKey/sections/:section/merges/count", h.Count)
}

// List returns the patient's merge history for a section. The
// "entry_fields" and "record_fields" query parameters (comma-separated)
// project the joined entry and merge record down to the named fields.
func (h *Handler) List(c echo.Context) error {
	var entryFields, recordFields []string
	if v := c.QueryParam("entry_fields"); v != "" {
		entryFields = strings.Split(v, ",")
	}
	if v := c.QueryParam("record_fields"); v != "" {
		recordFields = strings.Split(v, ",")
	}

	items, err := h.ledger.GetAll(c.Request().Context(), c.Param("section"), c.Param("patientKey"), entryFields, recordFields)
	if err != nil {
		return mergeError(err)
	}
	if items == nil {
		items = []HistoryItem{}
	}

	p := pagination.FromContext(c)
	start, end := p.Window(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), p.Limit, p.Offset))
}

// Count returns the number of reviewed merge records, optionally filtered
// by merge reason.
func (h *Handler) Count(c echo.Context) error {
	var cond Conditions
	if v := c.QueryParam("merge_reason"); v != "" {
		reason := Reason(v)
		if !reason.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid merge_reason")
		}
		cond.Reason = reason
	}

	n, err := h.ledger.Count(c.Request().Context(), c.Param("section"), c.Param("patientKey"), cond)
	if err != nil {
		return mergeError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func mergeError(err error) error {
	var unknown *section.ErrUnknownSection
	if errors.As(err, &unknown) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
