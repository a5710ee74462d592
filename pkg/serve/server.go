// Package serve implements the companion dev-server API: project init,
// template storage, the action provider endpoints that pkg/remote consumes,
// and, when a recording session is attached, session control with a
// websocket stream of playback state.
package serve

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/session"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

// Options configures New.
type Options struct {
	// TargetURL is reported by /api/init.
	TargetURL string
	Registry  *actions.Registry
	// Store backs /api/templates. Nil disables those routes.
	Store store.Store
	// Session enables /api/session routes.
	Session *session.Session
	// Probe gates /api/init. Nil always reports test mode.
	Probe  Prober
	Logger *zap.Logger
}

// Server is the dev-server API.
type Server struct {
	echo     *echo.Echo
	target   string
	registry *actions.Registry
	store    store.Store
	session  *session.Session
	probe    Prober
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = actions.NewBuiltinRegistry(actions.DefaultConfig())
	}
	s := &Server{
		echo:     echo.New(),
		target:   opts.TargetURL,
		registry: opts.Registry,
		store:    opts.Store,
		session:  opts.Session,
		probe:    opts.Probe,
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is served from the target app's origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/init", s.handleInit)

	api.GET("/actions", s.handleListActions)
	api.POST("/actions/:action/generate", s.handleGenerate)
	api.POST("/actions/:action/run", s.handlePlan)

	if s.store != nil {
		api.GET("/templates", s.handleListTemplates)
		api.POST("/templates", s.handleSaveTemplate)
		api.GET("/templates/:name", s.handleGetTemplate)
		api.DELETE("/templates/:name", s.handleDeleteTemplate)
	}

	if s.session != nil {
		g := api.Group("/session")
		g.GET("", s.handleSessionState)
		g.POST("/new", s.handleSessionNew)
		g.POST("/mode", s.handleSessionMode)
		g.POST("/click", s.handleSessionClick)
		g.POST("/pending", s.handleSessionSetPending)
		g.POST("/confirm", s.handleSessionConfirm)
		g.POST("/discard", s.handleSessionDiscard)
		g.POST("/run", s.handleSessionRun)
		g.POST("/stop", s.handleSessionStop)
		g.POST("/export", s.handleSessionExport)
		g.GET("/events", s.handleSessionEvents)
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Info("request", fields...)
			return nil
		},
	})
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("serving", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
