// Package routers
package routers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"ml-server/internal/ctx"
	"ml-server/internal/dispatch"
	"ml-server/internal/middleware"
	"ml-server/internal/models"
	"ml-server/internal/shared"
	"ml-server/internal/state"
	"ml-server/internal/stream"

	"github.com/labstack/echo/v4"
)

// Dispatcher is the business logic every router delegates to
type Dispatcher interface {
	Dispatch(tag string, payload json.RawMessage) (*dispatch.Result, error)
	Update(ctx context.Context, tag string, params json.RawMessage) (*models.ModelUpdateAck, error)
	Info(tag string) (*models.ModelInfo, error)
	Models() []models.ModelKind
}

type RouterConfig struct {
	AdminAPIKey string
	Stream      stream.Config
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func RegisterRoutes(e *echo.Group, st *state.State, cfg RouterConfig) {
	ir := &InferenceRouter{d: st.Dispatcher}
	ar := &AdminRouter{d: st.Dispatcher}
	sr := NewStreamRouter(st.Dispatcher, st.Hub, cfg.Stream, cfg.AdminAPIKey)

	api := e.Group("/api")
	api.GET("/models", ir.ListModels)
	api.POST("/inference/:model", ir.Inference)

	// per route so unknown /api paths still answer 404
	requireAdmin := middleware.RequireKey(cfg.AdminAPIKey)
	api.GET("/models/:model", ar.GetModel, requireAdmin)
	api.PATCH("/models/:model", ar.UpdateModel, requireAdmin)

	e.GET("/ws", sr.Upgrade)
}

func readRequestBody(c *ctx.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Log.Errorw("Failed to read request body", "error", err.Error())
		return nil, errors.Join(shared.ErrInvalidRequest, err)
	}
	return body, nil
}

// writeError maps the error chain onto a status and a client safe message
func writeError(c *ctx.Context, err error) error {
	c.LogValues.AddError(err)
	status := shared.StatusCode(err)
	if status >= 500 {
		c.LogValues.LogLevel = "ERROR"
	}
	return c.JSON(status, ErrorResponse{
		Error: shared.PublicMessage(err),
		Code:  shared.ErrorCode(err),
	})
}
