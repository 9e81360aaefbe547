package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/gateway"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/store"
)

// Gateway is the service surface the HTTP layer depends on.
// *gateway.Service satisfies it.
type Gateway interface {
	SendEmail(ctx context.Context, params gateway.SendParams) error
	SyncNow(ctx context.Context, lookback time.Duration) ([]model.MessageSummary, error)
	GetAttachmentContent(ctx context.Context, messageID, attachmentID string) (*model.AttachmentContent, error)
	ListMessages(ctx context.Context, filter store.MessageFilter) ([]model.StoredMessage, error)
	CountMessages(ctx context.Context, filter store.MessageFilter) (int, error)
	MessagesSince(ctx context.Context, since time.Time, unreadOnly bool) ([]model.StoredMessage, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]model.StoredMessage, error)
	GetMessage(ctx context.Context, messageID string) (*model.StoredMessage, error)
	Stats(ctx context.Context) (*model.Stats, error)
	SyncHistory(ctx context.Context, limit int) ([]model.SyncRun, error)
	Health(ctx context.Context) gateway.Health
	TestConnection(ctx context.Context) (string, error)
}

// Server exposes a Gateway over HTTP.
type Server struct {
	gw     Gateway
	echo   *echo.Echo
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer creates a Server with all routes registered.
func NewServer(gw Gateway, logger zerolog.Logger) *Server {
	s := &Server{
		gw:     gw,
		echo:   echo.New(),
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	email := s.echo.Group("/email")
	email.POST("/send", s.sendEmail)
	email.GET("/retrieve", s.retrieveEmails)
	email.GET("/list", s.listEmails)
	email.GET("/search", s.searchEmails)
	email.GET("/stats", s.emailStats)
	email.GET("/sync/history", s.syncHistory)
	email.GET("/:id", s.emailDetail)
	email.GET("/:id/attachment/:attachment_id", s.attachment)

	s.echo.GET("/health", s.health)
	s.echo.GET("/health/graph", s.graphHealth)
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
