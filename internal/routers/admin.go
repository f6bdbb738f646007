package routers

import (
	"encoding/json"
	"errors"
	"net/http"

	"ml-server/internal/ctx"
	"ml-server/internal/models"
	"ml-server/internal/shared"

	"github.com/labstack/echo/v4"
)

type AdminRouter struct {
	d Dispatcher
}

func (ar *AdminRouter) GetModel(cc echo.Context) error {
	c := cc.(*ctx.Context)
	c.LogValues.ModelType = c.Param("model")

	info, err := ar.d.Info(c.Param("model"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// UpdateModel accepts either {"params": {...}} or the bare params object
func (ar *AdminRouter) UpdateModel(cc echo.Context) error {
	c := cc.(*ctx.Context)
	tag := c.Param("model")
	c.LogValues.ModelType = tag

	body, err := readRequestBody(c)
	if err != nil {
		return writeError(c, err)
	}

	var req models.ModelUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return writeError(c, &shared.RequestError{
			StatusCode: http.StatusBadRequest,
			Err:        errors.Join(shared.ErrInvalidInput, err),
		})
	}
	params := req.Params
	if len(params) == 0 {
		params = body
	}

	ack, err := ar.d.Update(c.Request().Context(), tag, params)
	if err != nil {
		return writeError(c, err)
	}
	c.Log.Infow("Model updated via admin route", "model_type", ack.ModelType, "version", ack.Version)
	return c.JSON(http.StatusOK, ack)
}
