// Package httpserver assembles the HTTP surface: widget websocket, media
// bridge signaling, Twilio webhooks, health and metrics.
package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/sahayak/internal/metrics"
	twiliomw "github.com/chadiek/sahayak/internal/middleware"
	"github.com/chadiek/sahayak/internal/rtc"
	"github.com/chadiek/sahayak/internal/telephony"
	"github.com/chadiek/sahayak/internal/widget"
)

// Deps are the surfaces the router exposes. Nil members leave their routes out.
type Deps struct {
	Widget    *widget.Handler
	Bridge    *rtc.Bridge
	Telephony *telephony.Service

	TwilioAuthToken string
	PublicBaseURL   string
	Logger          *slog.Logger
}

// New creates a configured Echo server instance.
func New(deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	if deps.Widget != nil {
		e.GET("/widget/ws", echo.WrapHandler(deps.Widget))
		if deps.Bridge != nil {
			g := e.Group("/widget/sessions", middleware.CORS())
			g.POST("/:id/rtc", offerHandler(deps.Widget.Registry(), deps.Bridge, logger))
		}
	}
	if deps.Telephony != nil {
		deps.Telephony.Register(e, twiliomw.TwilioAuth(deps.TwilioAuthToken, deps.PublicBaseURL))
	}
	return e
}

func offerHandler(reg *widget.Registry, bridge *rtc.Bridge, logger *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, ok := reg.Get(c.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown widget session")
		}
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
		}
		answer, err := bridge.HandleOffer(c.Request().Context(), conn, offer)
		switch {
		case errors.Is(err, rtc.ErrInvalidOffer):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case err != nil:
			logger.Warn("webrtc handle offer failed", "session_id", conn.ID(), "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "negotiation failed")
		}
		return c.JSON(http.StatusOK, answer)
	}
}
