package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AdminServer is a minimal read-only operator HTTP surface: health, channel
// listing, and a point-in-time metrics snapshot. It is deliberately not a
// dashboard — no UI, no chat, no channel administration — grounded in the
// teacher's api.go (NewAPIServer/handleHealth/handleMetrics/handleGetChannels)
// with everything that doesn't apply here (uploads, recordings, bans,
// invites) left out.
type AdminServer struct {
	srv   *Server
	voice *VoiceRelay
	echo  *echo.Echo
}

func NewAdminServer(srv *Server, voice *VoiceRelay) *AdminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &AdminServer{srv: srv, voice: voice, echo: e}

	e.Use(requestIDMiddleware)
	e.GET("/health", a.handleHealth)
	e.GET("/api/channels", a.handleChannels)
	e.GET("/api/metrics", a.handleMetrics)

	return a
}

// requestIDMiddleware stamps every request with a correlation id, mirroring
// the teacher api.go's handleUpload use of uuid for opaque identifiers.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		c.Set("request_id", reqID)
		c.Response().Header().Set("X-Request-Id", reqID)
		return next(c)
	}
}

// Run starts the admin HTTP server and blocks until ctx is canceled.
func (a *AdminServer) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.echo.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	err := a.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *AdminServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) handleChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, a.srv.channels.SnapshotList())
}

func (a *AdminServer) handleMetrics(c echo.Context) error {
	datagrams, bytes := a.voice.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"sessions":  a.srv.sessions.Count(),
		"channels":  a.srv.channels.Count(),
		"datagrams": datagrams,
		"bytes":     bytes,
	})
}
