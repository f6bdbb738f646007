package middleware

import (
	"fmt"
	"time"

	"ml-server/internal/ctx"
	"ml-server/internal/metrics"
	"ml-server/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(shared.RequestIDAlphabet, shared.RequestIDLength)
			reqID = "req_" + reqID
			logger := log.With("request_id", reqID)

			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID: reqID,
					StartTime: time.Now(),
					Path:      c.Path(),
				},
			}
			err := next(cc)
			if err != nil {
				// let echo write the response so the logged status is final
				c.Error(err)
				cc.LogValues.AddError(err)
			}

			lv := cc.LogValues
			lv.RequestDuration = time.Since(lv.StartTime)
			lv.StatusCode = cc.Response().Status

			switch {
			case lv.LogLevel == "ERROR" || lv.StatusCode >= 500:
				cc.Log.Errorw("end_of_request", zap.Object("request", lv))
			case lv.LogLevel == "WARN" || lv.StatusCode >= 400:
				cc.Log.Warnw("end_of_request", zap.Object("request", lv))
			default:
				cc.Log.Infow("end_of_request", zap.Object("request", lv))
			}
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", lv.StatusCode)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			return c.String(500, shared.ErrInternalServerError.Message())
		},
	})
}
