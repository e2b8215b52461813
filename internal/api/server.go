// Package api exposes the analysis and signal tracking endpoints over
// HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ai-trading-server/internal/analysis"
	"ai-trading-server/internal/database"
	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// Repo is the repository surface the handlers read and write.
type Repo interface {
	HealthCheck(ctx context.Context) error
	ListSignals(ctx context.Context, f database.SignalFilter) ([]*signal.Signal, error)
	GetSignal(ctx context.Context, id int64) (*signal.Signal, error)
	GetActiveSignals(ctx context.Context, symbol string) ([]*signal.Signal, error)
	CloseSignal(ctx context.Context, id int64, c signal.Closure) (bool, error)
	ClosedSignalsSince(ctx context.Context, since time.Time) ([]*signal.Signal, error)
	SignalCounts(ctx context.Context) (active, total, breakeven int, err error)
	PendingTriggers(ctx context.Context) ([]*triggers.Trigger, error)
	TriggerStatsToday(ctx context.Context) (triggers.DailyStats, error)
	TriggerStatusCounts(ctx context.Context) (map[string]int, error)
	TriggerConversionRate(ctx context.Context) (float64, error)
}

// AnalysisRunner runs one chart analysis request.
type AnalysisRunner interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	// Model is reported by the health endpoint.
	Model string
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       Repo
	runner     AnalysisRunner
	stats      *analysis.SessionStats
	config     ServerConfig
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates the API server and registers all routes.
func NewServer(config ServerConfig, repo Repo, runner AnalysisRunner, stats *analysis.SessionStats, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		repo:      repo,
		runner:    runner,
		stats:     stats,
		config:    config,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}
	server.registerRoutes()
	return server
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/analyze_multi_timeframe", s.handleAnalyze)

	s.router.GET("/signals", s.handleListSignals)
	s.router.GET("/signal/:id", s.handleGetSignal)
	s.router.GET("/signal/:id/modifications", s.handleGetModifications)
	s.router.POST("/signal/:id/close", s.handleCloseSignal)
	s.router.GET("/active_signals", s.handleActiveSignals)

	s.router.GET("/performance", s.handlePerformance)
	s.router.GET("/breakeven_stats", s.handleBreakevenStats)

	s.router.GET("/triggers_summary", s.handleTriggersSummary)
	s.router.GET("/triggers_pending", s.handleTriggersPending)

	s.router.GET("/token_usage", s.handleTokenUsage)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 3 * time.Minute,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
