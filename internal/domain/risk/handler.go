package risk

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes scoring over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers scoring endpoints on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/score/who2019", h.ScoreWHO2019)
	g.POST("/score/whoish", h.ScoreWHOISH)
	g.GET("/score/models", h.ListModels)
	g.GET("/score/models/:model/subregions", h.ListSubregions)
}

type scoreRequest struct {
	Subregion    string        `json:"subregion"`
	Observations []Observation `json:"observations"`
}

type scoreResponse struct {
	Model     string   `json:"model"`
	Subregion string   `json:"subregion"`
	Count     int      `json:"count"`
	Results   []Result `json:"results"`
}

type subregionsResponse struct {
	Model      string   `json:"model"`
	Subregions []string `json:"subregions"`
}

// ScoreWHO2019 handles POST /score/who2019
func (h *Handler) ScoreWHO2019(c echo.Context) error {
	return h.score(c, VariantWHO2019)
}

// ScoreWHOISH handles POST /score/whoish
func (h *Handler) ScoreWHOISH(c echo.Context) error {
	return h.score(c, VariantWHOISH)
}

func (h *Handler) score(c echo.Context, model string) error {
	var req scoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Subregion == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subregion is required")
	}
	if len(req.Observations) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "observations are required")
	}

	results, err := h.svc.Score(c.Request().Context(), model, req.Subregion, req.Observations)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSubregion):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUnknownVariant):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to score observations")
	}

	return c.JSON(http.StatusOK, scoreResponse{
		Model:     model,
		Subregion: req.Subregion,
		Count:     len(results),
		Results:   results,
	})
}

// ListModels handles GET /score/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Variants())
}

// ListSubregions handles GET /score/models/:model/subregions
func (h *Handler) ListSubregions(c echo.Context) error {
	model := c.Param("model")
	subregions, err := h.svc.Subregions(model)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, subregionsResponse{Model: model, Subregions: subregions})
}
