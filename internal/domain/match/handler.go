package match

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recon/internal/domain/section"
	"github.com/ehr/recon/internal/platform/auth"
	"github.com/ehr/recon/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	read.GET("/patients/:patientKey/sections/:section/matches", h.List)
	read.GET("/patients/:patientKey/sections/:section/matches/count", h.Count)
	read.GET("/patients/:patientKey/sections/:section/matches/:id", h.Get)

	// Determinations are clinical decisions; nurses review but do not decide.
	write := api.Group("", auth.RequireRole("admin", "physician"))
	write.POST("/patients/:patientKey/sections/:section/matches/:id/accept", h.Accept)
	write.POST("/patients/:patientKey/sections/:section/matches/:id/cancel", h.Cancel)
}

type determinationRequest struct {
	Reason string `json:"reason"`
}

// List returns the pending review queue for the patient/section. A
// "fields" query parameter projects entry data down to the named fields.
func (h *Handler) List(c echo.Context) error {
	var fields []string
	if v := c.QueryParam("fields"); v != "" {
		fields = strings.Split(v, ",")
	}

	items, err := h.svc.GetAll(c.Request().Context(), c.Param("section"), c.Param("patientKey"), fields)
	if err != nil {
		return matchError(err)
	}
	if items == nil {
		items = []*Detail{}
	}

	p := pagination.FromContext(c)
	start, end := p.Window(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	detail, err := h.svc.Get(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id)
	if err != nil {
		return matchError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

// Count counts pending proposals. A "filter" query parameter carries a
// JSON object matched against candidate diff payloads by containment.
func (h *Handler) Count(c echo.Context) error {
	var conditions map[string]interface{}
	if v := c.QueryParam("filter"); v != "" {
		if err := json.Unmarshal([]byte(v), &conditions); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid filter")
		}
	}

	n, err := h.svc.Count(c.Request().Context(), c.Param("section"), c.Param("patientKey"), conditions)
	if err != nil {
		return matchError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) Accept(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req determinationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		req.Reason = "accepted"
	}

	if err := h.svc.Accept(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, req.Reason); err != nil {
		return matchError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req determinationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		req.Reason = "cancelled"
	}

	if err := h.svc.Cancel(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, req.Reason); err != nil {
		return matchError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// matchError maps match engine errors to HTTP status codes.
func matchError(err error) error {
	var unknown *section.ErrUnknownSection
	switch {
	case errors.As(err, &unknown):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyDetermined):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
