// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/cache"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
	"github.com/KaayaanAi/mcp-crypto-news/internal/pipeline"
)

// CallerHeader identifies the caller for rate limiting. Requests without it
// fall back to the client IP.
const CallerHeader = "X-Caller-ID"

const maxBatchSize = 50

// Analyzer is the pipeline operation the server fronts.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, callerID string, items []news.Item) (pipeline.Response, error)
}

type analyzeRequest struct {
	Items []news.Item `json:"items" binding:"required"`
}

type analyzeResponse struct {
	CorrelationID string        `json:"correlation_id"`
	TotalItems    int           `json:"total_items"`
	Results       []news.Result `json:"results"`
}

// Server wires the HTTP routes to the pipeline.
type Server struct {
	analyzer Analyzer
	store    *cache.Store
	router   *gin.Engine
	logger   *zap.Logger
	version  string
	started  time.Time
	requests atomic.Int64
	rejected atomic.Int64
}

// New builds a Server with its routes registered.
func New(analyzer Analyzer, store *cache.Store, version string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		analyzer: analyzer,
		store:    store,
		router:   gin.New(),
		logger:   logger.Named("http"),
		version:  version,
		started:  time.Now(),
	}
	s.router.Use(gin.Recovery())

	s.router.POST("/analyze", s.handleAnalyze)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics)

	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the listener fails or srv is shut down via the returned
// http.Server.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	s.requests.Add(1)

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items must not be empty"})
		return
	}
	if len(req.Items) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many items in one batch"})
		return
	}

	caller := c.GetHeader(CallerHeader)
	if caller == "" {
		caller = c.ClientIP()
	}

	resp, err := s.analyzer.AnalyzeBatch(c.Request.Context(), caller, req.Items)
	if err != nil {
		if errors.Is(err, normalize.ErrEmptyItem) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}

	if resp.Rejected {
		s.rejected.Add(1)
		retryAfter := int(resp.RetryAfter.Seconds() + 0.5)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": retryAfter,
		})
		return
	}

	c.JSON(http.StatusOK, analyzeResponse{
		CorrelationID: resp.CorrelationID,
		TotalItems:    len(resp.Results),
		Results:       resp.Results,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	cacheUp := s.store.Healthy(c.Request.Context())
	status := "ok"
	if !cacheUp {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"version": s.version,
		"cache":   cacheUp,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	stats := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"requests_total":  s.requests.Load(),
		"requests_denied": s.rejected.Load(),
		"cache_hits":      stats.Hits,
		"cache_misses":    stats.Misses,
		"cache_lookups":   stats.Total,
	})
}
