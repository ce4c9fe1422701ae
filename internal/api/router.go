// Package api exposes the minimal read-only status surface over the
// Download Queue: GET /queue and GET /history, standing in for the RPC
// control surface the core spec places out of scope. Grounded on
// datallboy-GoNZB/internal/api/router.go's echo/v5 wiring, trimmed to
// read-only handlers since no mutating command set is specified in-tree.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

// QueueReader is the narrow read-only view the status surface needs, kept
// small so it only ever reads through the same queue lock other callers
// use and can never issue a mutating command (spec 6.1).
type QueueReader interface {
	All() []*queue.NzbInfo
	History() []queue.HistoryEntry
}

type handler struct {
	q   QueueReader
	log *zap.Logger
}

// RegisterRoutes wires the status endpoints onto e, matching the teacher's
// request-logging middleware setup.
func RegisterRoutes(e *echo.Echo, q QueueReader, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method), zap.String("uri", v.URI),
				zap.Int("status", v.Status), zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	h := &handler{q: q, log: log}
	e.GET("/queue", h.getQueue)
	e.GET("/history", h.getHistory)
}

func (h *handler) getQueue(c *echo.Context) error {
	nzbs := h.q.All()
	items := make([]QueueItem, 0, len(nzbs))
	for _, n := range nzbs {
		items = append(items, toQueueItem(n))
	}
	return c.JSON(http.StatusOK, items)
}

func (h *handler) getHistory(c *echo.Context) error {
	entries := h.q.History()
	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toHistoryItem(e))
	}
	return c.JSON(http.StatusOK, items)
}
