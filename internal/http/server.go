package http

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/repository"
)

// Server is the operator-facing surface: health, metrics, and the
// dead-letter triage/replay API. No business traffic goes through here.
type Server struct{ e *echo.Echo }

func NewServer(
	outboxRepo repository.OutboxRepository,
	deadLetters repository.DeadLetterRepository,
	producer *kafka.Producer,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	e.GET("/readyz", func(c echo.Context) error {
		// the outbox table answering is as ready as this service gets
		if _, err := outboxRepo.CountPending(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return c.String(http.StatusOK, "ok")
	})

	dl := e.Group("/v1/deadletters")
	dl.GET("", listDeadLettersHandler(deadLetters))
	dl.POST("/:event_id/replay", replayDeadLetterHandler(deadLetters, producer))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
