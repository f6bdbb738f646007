package routers

import (
	"net/http"

	"ml-server/internal/ctx"

	"github.com/labstack/echo/v4"
)

type InferenceRouter struct {
	d Dispatcher
}

func (ir *InferenceRouter) ListModels(cc echo.Context) error {
	return cc.JSON(http.StatusOK, ir.d.Models())
}

// Inference is one decode, one dispatch, one encode
func (ir *InferenceRouter) Inference(cc echo.Context) error {
	c := cc.(*ctx.Context)
	tag := c.Param("model")
	c.LogValues.ModelType = tag

	body, err := readRequestBody(c)
	if err != nil {
		return writeError(c, err)
	}

	res, err := ir.d.Dispatch(tag, body)
	if err != nil {
		return writeError(c, err)
	}

	resp := res.Response()
	c.LogValues.ModelType = resp.ModelType.String()
	c.LogValues.LatencyMS = resp.LatencyMS
	return c.JSON(http.StatusOK, resp)
}
