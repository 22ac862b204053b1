package codesystem

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/txserver/internal/platform/fhir"
	"github.com/ehr/txserver/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/CodeSystem", h.SearchCodeSystemsFHIR)
	fhirGroup.GET("/CodeSystem/:id", h.GetCodeSystemFHIR)
	fhirGroup.POST("/CodeSystem", h.CreateCodeSystemFHIR)
	fhirGroup.PUT("/CodeSystem/:id", h.UpdateCodeSystemFHIR)
	fhirGroup.DELETE("/CodeSystem/:id", h.DeleteCodeSystemFHIR)
}

// SearchCodeSystemsFHIR supports url and supplements; without either the
// stored code systems are listed page by page.
func (h *Handler) SearchCodeSystemsFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		items []*CodeSystem
		err   error
	)
	switch {
	case c.QueryParam("url") != "":
		items, err = h.svc.FindByURL(ctx, c.QueryParam("url"))
	case c.QueryParam("supplements") != "":
		items, err = h.svc.FindSupplements(ctx, c.QueryParam("supplements"))
	default:
		pg := pagination.FromContext(c)
		var total int
		items, total, err = h.svc.ListCodeSystems(ctx, pg.Count, pg.Offset)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
		return c.JSON(http.StatusOK, fhir.NewSearchBundleWithLinks(toResources(items), fhir.SearchBundleParams{
			BaseURL: "/fhir/CodeSystem",
			Count:   pg.Count,
			Offset:  pg.Offset,
			Total:   total,
		}))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(toResources(items), len(items), "/fhir/CodeSystem"))
}

func toResources(items []*CodeSystem) []interface{} {
	resources := make([]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	return resources
}

func (h *Handler) GetCodeSystemFHIR(c echo.Context) error {
	cs, err := h.svc.GetCodeSystemByFHIRID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, cs.ToFHIR())
}

func (h *Handler) CreateCodeSystemFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	cs, err := h.svc.Import(c.Request().Context(), body, "")
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("Location", "/fhir/CodeSystem/"+cs.FHIRID)
	return c.JSON(http.StatusCreated, cs.ToFHIR())
}

func (h *Handler) UpdateCodeSystemFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	cs, err := h.svc.Import(c.Request().Context(), body, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, cs.ToFHIR())
}

func (h *Handler) DeleteCodeSystemFHIR(c echo.Context) error {
	if err := h.svc.DeleteCodeSystem(c.Request().Context(), c.Param("id")); err != nil {
		return h.lookupError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) lookupError(c echo.Context, err error) error {
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("CodeSystem", c.Param("id")))
	}
	return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
}
