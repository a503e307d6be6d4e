package record

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/recon/internal/domain/match"
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
	read.GET("/patients/:patientKey/sections/:section", h.GetSection)
	read.GET("/patients/:patientKey/sections/:section/partial", h.GetPartial)
	read.GET("/patients/:patientKey/record", h.GetRecord)

	write := api.Group("", auth.RequireRole("admin", "physician"))
	write.POST("/patients/:patientKey/sections/:section", h.SaveSection)
	write.POST("/patients/:patientKey/sections/:section/partial", h.SavePartial)
	write.PUT("/patients/:patientKey/record", h.SaveRecord)
}

type saveSectionRequest struct {
	Entries  []map[string]interface{} `json:"entries"`
	SourceID string                   `json:"source_id"`
}

type savePartialRequest struct {
	PartialEntries []match.PartialEntry `json:"partial_entries"`
	SourceID       string               `json:"source_id"`
}

type saveRecordRequest struct {
	Record   map[string][]map[string]interface{} `json:"record"`
	SourceID string                              `json:"source_id"`
}

func (h *Handler) SaveSection(c echo.Context) error {
	var req saveSectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ids, err := h.svc.Save(c.Request().Context(), c.Param("section"), c.Param("patientKey"), req.Entries, req.SourceID)
	if err != nil {
		return sectionError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"ids": ids})
}

func (h *Handler) GetSection(c echo.Context) error {
	items, err := h.svc.Get(c.Request().Context(), c.Param("section"), c.Param("patientKey"))
	if err != nil {
		return sectionError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SavePartial(c echo.Context) error {
	var req savePartialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ids, err := h.svc.SavePartial(c.Request().Context(), c.Param("section"), c.Param("patientKey"), req.PartialEntries, req.SourceID)
	if err != nil {
		return sectionError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"ids": ids})
}

func (h *Handler) GetPartial(c echo.Context) error {
	items, err := h.svc.GetPartial(c.Request().Context(), c.Param("section"), c.Param("patientKey"))
	if err != nil {
		return sectionError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.svc.GetAll(c.Request().Context(), c.Param("patientKey"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) SaveRecord(c echo.Context) error {
	var req saveRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ids, err := h.svc.SaveAll(c.Request().Context(), c.Param("patientKey"), req.Record, req.SourceID)
	if err != nil {
		return sectionError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ids": ids})
}

// sectionError maps façade errors to HTTP status codes.
func sectionError(err error) error {
	var unknown *section.ErrUnknownSection
	switch {
	case errors.As(err, &unknown):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoData):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
