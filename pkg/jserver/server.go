// Package jserver hosts the worker/leader HTTP role: a josh process
// can serve /runReplicate and /runReplicates so another josh process
// (or itself, in local-leader mode) can drive it as a worker.
package jserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// Server is the HTTP surface over an Engine.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	engine     Engine
	log        *slog.Logger
}

// NewServer builds a Server over engine, with routes already
// registered.
func NewServer(engine Engine) *Server {
	e := echo.New()
	s := &Server{echo: e, engine: engine, log: slog.Default()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(8 * 1024 * 1024))
	s.echo.POST("/runReplicate", s.handleRunReplicate)
	s.echo.POST("/runReplicates", s.handleRunReplicates)
}

// Handler exposes the underlying echo.Echo as an http.Handler, for
// embedding in another server or wrapping with httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until the process is killed or Shutdown is
// called from another goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an already-bound listener, used by tests
// that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func parseRunRequest(c *echo.Context, requireReplicateNumber bool) (RunRequest, error) {
	req := RunRequest{
		Code:            c.FormValue("code"),
		Name:            c.FormValue("name"),
		APIKey:          c.FormValue("apiKey"),
		ExternalData:    c.FormValue("externalData"),
		FavorBigDecimal: c.FormValue("favorBigDecimal") == "true",
	}

	reps, err := strconv.Atoi(c.FormValue("replicates"))
	if err != nil || reps < 1 {
		return RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, "replicates must be a positive integer")
	}
	req.Replicates = reps

	if raw := c.FormValue("replicateNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, "replicateNumber must be an integer")
		}
		req.ReplicateNumber = &n
	} else if requireReplicateNumber {
		return RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, "replicateNumber is required")
	}

	return req, nil
}

func (s *Server) handleRunReplicate(c *echo.Context) error {
	req, err := parseRunRequest(c, true)
	if err != nil {
		return err
	}
	req.Replicates = 1
	return s.stream(c, req)
}

func (s *Server) handleRunReplicates(c *echo.Context) error {
	req, err := parseRunRequest(c, false)
	if err != nil {
		return err
	}
	return s.stream(c, req)
}

// stream drives the engine and writes its wire-protocol lines to the
// response body as they're produced, flushing after every line so the
// client's HTTP stream reader observes them promptly rather than once
// buffered by a proxy or the runtime's own write buffering.
func (s *Server) stream(c *echo.Context, req RunRequest) error {
	log := s.log.With("name", req.Name, "replicates", req.Replicates)

	lr, err := s.engine.RunReplicate(c.Request().Context(), req)
	if err != nil {
		log.Error("engine failed to start", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	w := c.Response().Writer
	w.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	for {
		line, more, readErr := lr.Next()
		if readErr != nil {
			log.Error("engine stream failed mid-response", "error", readErr)
			return readErr
		}
		if !more {
			return nil
		}
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
