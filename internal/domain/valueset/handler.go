package valueset

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
	fhirGroup.GET("/ValueSet", h.SearchValueSetsFHIR)
	fhirGroup.GET("/ValueSet/:id", h.GetValueSetFHIR)
	fhirGroup.POST("/ValueSet", h.CreateValueSetFHIR)
	fhirGroup.PUT("/ValueSet/:id", h.UpdateValueSetFHIR)
	fhirGroup.DELETE("/ValueSet/:id", h.DeleteValueSetFHIR)
}

// SearchValueSetsFHIR supports url; without it the stored value sets are listed page by page.
func (h *Handler) SearchValueSetsFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	if url := c.QueryParam("url"); url != "" {
		items, err := h.svc.FindByURL(ctx, url)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
		return c.JSON(http.StatusOK, fhir.NewSearchBundle(toResources(items), len(items), "/fhir/ValueSet"))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListValueSets(ctx, pg.Count, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundleWithLinks(toResources(items), fhir.SearchBundleParams{
		BaseURL: "/fhir/ValueSet",
		Count:   pg.Count,
		Offset:  pg.Offset,
		Total:   total,
	}))
}

func toResources(items []*ValueSet) []interface{} {
	resources := make([]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	return resources
}

func (h *Handler) GetValueSetFHIR(c echo.Context) error {
	vs, err := h.svc.GetValueSetByFHIRID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, vs.ToFHIR())
}

func (h *Handler) CreateValueSetFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	vs, err := h.svc.Import(c.Request().Context(), body, "")
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("Location", "/fhir/ValueSet/"+vs.FHIRID)
	return c.JSON(http.StatusCreated, vs.ToFHIR())
}

func (h *Handler) UpdateValueSetFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	vs, err := h.svc.Import(c.Request().Context(), body, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, vs.ToFHIR())
}

func (h *Handler) DeleteValueSetFHIR(c echo.Context) error {
	if err := h.svc.DeleteValueSet(c.Request().Context(), c.Param("id")); err != nil {
		return h.lookupError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) lookupError(c echo.Context, err error) error {
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("ValueSet", c.Param("id")))
	}
	return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
}
