package entry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recon/internal/domain/section"
	"github.com/ehr/recon/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	read.GET("/patients/:patientKey/sections/:section/entries/:id", h.Get)
	read.GET("/sections/:section/entries/:id/patient", h.GetPatientInfo)
	read.GET("/sections/:section/patients/:patientKey/first-entry", h.GetFirstEntryID)

	write := api.Group("", auth.RequireRole("admin", "physician"))
	write.PATCH("/patients/:patientKey/sections/:section/entries/:id", h.Update)
	write.PUT("/patients/:patientKey/sections/:section/entries/:id", h.Replace)
	write.POST("/patients/:patientKey/sections/:section/entries/:id/duplicate", h.Duplicate)
	write.DELETE("/patients/:patientKey/sections/:section/entries/:id", h.Delete)
}

type writeRequest struct {
	Fields   map[string]interface{} `json:"fields"`
	SourceID string                 `json:"source_id"`
}

// Get returns one entry with its attribution chain. A "fields" query
// parameter (comma-separated) narrows the response to a data projection.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if fields := c.QueryParam("fields"); fields != "" {
		e, err := h.svc.GetOnlyFields(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, strings.Split(fields, ","))
		if err != nil {
			return entryError(err)
		}
		return c.JSON(http.StatusOK, e)
	}

	detail, err := h.svc.Get(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id)
	if err != nil {
		return entryError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Update(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, req.SourceID, req.Fields); err != nil {
		return entryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Replace(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Replace(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, req.SourceID, req.Fields); err != nil {
		return entryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Duplicate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Duplicate(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id, req.SourceID); err != nil {
		return entryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.svc.Remove(c.Request().Context(), c.Param("section"), c.Param("patientKey"), id); err != nil {
		return entryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetPatientInfo resolves an entry id to the owning patient.
func (h *Handler) GetPatientInfo(c echo.Context) error {
	info, err := h.svc.IDToPatientInfo(c.Request().Context(), c.Param("section"), c.Param("id"))
	if err != nil {
		return entryError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// GetFirstEntryID resolves a patient key to their first entry id within a
// section, the inverse of GetPatientInfo.
func (h *Handler) GetFirstEntryID(c echo.Context) error {
	id, err := h.svc.PatientKeyToID(c.Request().Context(), c.Param("section"), c.Param("patientKey"))
	if err != nil {
		return entryError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id})
}

// entryError maps entry store errors to HTTP status codes.
func entryError(err error) error {
	var unknown *section.ErrUnknownSection
	switch {
	case errors.As(err, &unknown):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
