package routers

import (
	"net/http"

	"ml-server/internal/ctx"
	"ml-server/internal/middleware"
	"ml-server/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type StreamRouter struct {
	d        stream.Dispatcher
	hub      *stream.Hub
	cfg      stream.Config
	adminKey string
	upgrader websocket.Upgrader
}

func NewStreamRouter(d stream.Dispatcher, hub *stream.Hub, cfg stream.Config, adminKey string) *StreamRouter {
	return &StreamRouter{
		d:        d,
		hub:      hub,
		cfg:      cfg,
		adminKey: adminKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin policy belongs to the deployment edge
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Upgrade hands the connection to the hub and blocks until it closes
func (sr *StreamRouter) Upgrade(cc echo.Context) error {
	cfg := sr.cfg
	cfg.Admin = middleware.HasKey(cc, sr.adminKey)

	conn, err := sr.upgrader.Upgrade(cc.Response(), cc.Request(), nil)
	if err != nil {
		// the upgrader already replied with an http error
		if c, ok := cc.(*ctx.Context); ok {
			c.LogValues.AddError(err)
		}
		return nil
	}

	if c, ok := cc.(*ctx.Context); ok {
		c.LogValues.Admin = cfg.Admin
		c.Log.Infow("Upgraded to stream connection")
	}
	if err := sr.hub.Serve(cc.Request().Context(), conn, sr.d, cfg); err != nil {
		if c, ok := cc.(*ctx.Context); ok {
			c.LogValues.AddError(err)
			c.LogValues.LogLevel = "WARN"
		}
	}
	return nil
}
