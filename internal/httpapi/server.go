// Package httpapi exposes the review queue over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/linking"
)

// ReviewService is the subset of the linking engine the API needs.
type ReviewService interface {
	PendingReview(ctx context.Context) ([]linking.ReviewItem, error)
	Approve(ctx context.Context, decisionID string) (linking.Decision, error)
	Reject(ctx context.Context, decisionID string) (linking.Decision, error)
}

// Server provides the review HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	reviews ReviewService
	logger  *zap.Logger
	addr    string
}

// NewServer creates a review API server.
func NewServer(reviews ReviewService, addr string, logger *zap.Logger) (*Server, error) {
	if reviews == nil {
		return nil, errors.New("review service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		reviews: reviews,
		logger:  logger,
		addr:    addr,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/v1/healthz", s.handleHealth)

	v1 := s.echo.Group("/v1")
	v1.GET("/review", s.handleReviewQueue)
	v1.POST("/review/:id/approve", s.handleApprove)
	v1.POST("/review/:id/reject", s.handleReject)
}

// HealthResponse is the response body for GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReviewQueueResponse is the response body for GET /v1/review.
type ReviewQueueResponse struct {
	Items []linking.ReviewItem `json:"items"`
	Count int                  `json:"count"`
}

// ResolutionResponse is the response body for approve and reject.
type ResolutionResponse struct {
	DecisionID string  `json:"decision_id"`
	Status     string  `json:"status"`
	EntryID    string  `json:"entry_id,omitempty"`
	Score      float64 `json:"score"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReviewQueue(c echo.Context) error {
	items, err := s.reviews.PendingReview(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list review queue", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list review queue")
	}
	if items == nil {
		items = []linking.ReviewItem{}
	}
	return c.JSON(http.StatusOK, ReviewQueueResponse{Items: items, Count: len(items)})
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.resolve(c, s.reviews.Approve)
}

func (s *Server) handleReject(c echo.Context) error {
	return s.resolve(c, s.reviews.Reject)
}

func (s *Server) resolve(c echo.Context, fn func(context.Context, string) (linking.Decision, error)) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decision id is required")
	}

	decision, err := fn(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, linking.ErrDecisionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "decision not found")
		}
		s.logger.Error("failed to resolve decision",
			zap.String("decision_id", id),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve decision")
	}

	return c.JSON(http.StatusOK, ResolutionResponse{
		DecisionID: decision.ID,
		Status:     string(decision.Status),
		EntryID:    decision.EntryID,
		Score:      decision.Score,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting review api", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down review api")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
