// Package server provides HTTP handlers and server setup for the routing
// and cache layer.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"routecache/internal/core"
	"routecache/internal/pipeline"
	"routecache/internal/router"
)

// Completer runs a completion request through the routing pipeline.
type Completer interface {
	Handle(ctx context.Context, req *core.CompletionRequest) (*pipeline.Result, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	pipeline   Completer
	router     *router.Router
	modelsFile string
	loadModels func(path string) ([]core.ModelDescriptor, error)
}

// NewHandler creates a new handler. modelsFile may be empty, in which case
// reload keeps the current descriptor table.
func NewHandler(p Completer, rt *router.Router, modelsFile string, loadModels func(string) ([]core.ModelDescriptor, error)) *Handler {
	return &Handler{
		pipeline:   p,
		router:     rt,
		modelsFile: modelsFile,
		loadModels: loadModels,
	}
}

// completionResponse is the API envelope around a provider response.
type completionResponse struct {
	*core.ProviderResponse
	Fingerprint string `json:"fingerprint"`
	Cached      bool   `json:"cached"`
	CacheTier   string `json:"cache_tier,omitempty"`
}

// Completion handles POST /v1/completions
func (h *Handler) Completion(c echo.Context) error {
	var req core.CompletionRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("", "invalid request body: "+err.Error(), err))
	}
	if len(req.Messages) == 0 {
		return handleError(c, &core.RouteError{
			Type:    core.ErrorTypeValidation,
			Message: "messages must not be empty",
		})
	}

	result, err := h.pipeline.Handle(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, completionResponse{
		ProviderResponse: result.Response,
		Fingerprint:      result.Fingerprint,
		Cached:           result.FromCache,
		CacheTier:        result.CacheTier,
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	table := h.router.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"version": table.Version,
		"models":  table.Descriptors,
	})
}

// Reload handles POST /admin/reload. It re-reads the descriptor file and
// atomically swaps the routing table; in-flight requests keep their snapshot.
func (h *Handler) Reload(c echo.Context) error {
	current := h.router.Snapshot()

	descriptors := current.Descriptors
	if h.modelsFile != "" {
		loaded, err := h.loadModels(h.modelsFile)
		if err != nil {
			return handleError(c, core.NewInternalError("", "reloading model table: "+err.Error(), err))
		}
		descriptors = loaded
	}

	next := router.Table{
		Version:     current.Version + 1,
		HomeRegion:  current.HomeRegion,
		Descriptors: descriptors,
	}
	h.router.Reload(next)

	return c.JSON(http.StatusOK, map[string]any{
		"version": next.Version,
		"models":  len(next.Descriptors),
	})
}

// handleError converts pipeline errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var fieldErrs core.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"type":   string(core.ErrorTypeValidation),
				"fields": fieldErrs,
			},
		})
	}

	var terminal *core.TerminalError
	if errors.As(err, &terminal) {
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"type":     "fallback_exhausted",
				"message":  terminal.Error(),
				"attempts": terminal.Attempts,
			},
		})
	}

	var routeErr *core.RouteError
	if errors.As(err, &routeErr) {
		body := map[string]any{
			"type":    string(routeErr.Type),
			"message": routeErr.Message,
		}
		if routeErr.Provider != "" {
			body["provider"] = routeErr.Provider
		}
		return c.JSON(routeErr.HTTPStatusCode(), map[string]any{"error": body})
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    string(core.ErrorTypeInternal),
			"message": "an unexpected error occurred",
		},
	})
}
