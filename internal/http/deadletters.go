package http

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
)

type deadLetterView struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Topic         string    `json:"topic"`
	FailureSource string    `json:"failure_source"`
	RetryCount    int       `json:"retry_count"`
	LastError     string    `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
}

func toView(rec model.DeadLetterRecord) deadLetterView {
	return deadLetterView{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		Topic:         rec.Topic,
		FailureSource: string(rec.FailureSource),
		RetryCount:    rec.RetryCount,
		LastError:     rec.LastError,
		CreatedAt:     rec.CreatedAt,
	}
}

func listDeadLettersHandler(repo repository.DeadLetterRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		offset, _ := strconv.Atoi(c.QueryParam("offset"))
		if offset < 0 {
			offset = 0
		}

		recs, err := repo.List(c.Request().Context(), limit, offset)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
		}

		views := make([]deadLetterView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, toView(rec))
		}

		return c.JSON(http.StatusOK, map[string]any{"dead_letters": views})
	}
}

// replayDeadLetterHandler re-publishes the verbatim payload to its
// original topic. The consumer-side dedup inbox decides whether the
// replay is actually a duplicate, so replaying twice is safe.
func replayDeadLetterHandler(repo repository.DeadLetterRepository, producer *kafka.Producer) echo.HandlerFunc {
	return func(c echo.Context) error {
		eventID := c.Param("event_id")
		if eventID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing event_id"})
		}

		rec, err := repo.GetByEventID(c.Request().Context(), eventID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		}

		if rec.Topic == "" {
			return c.JSON(http.StatusConflict, map[string]string{"error": "original topic unknown, cannot replay"})
		}

		if err := producer.Send(c.Request().Context(), rec.Topic, rec.EventID, rec.Payload); err != nil {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusAccepted, map[string]string{
			"event_id": rec.EventID,
			"topic":    rec.Topic,
			"status":   "replayed",
		})
	}
}
