package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/store"
)

type Server struct {
	Caire    *core.Caire
	Config   *config.Config
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func NewServer(c *core.Caire, cfg *config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Caire: c, Config: cfg, Gatherer: gatherer, Logger: logger}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.Logger))
	r.Use(AuthMiddleware(s.Config.Server.APIKey, s.Config.Server.SkipAuthPaths))
	if rl := NewRateLimiter(s.Config.RateLimit.Requests, time.Duration(s.Config.RateLimit.WindowSeconds)*time.Second); rl != nil {
		r.Use(rl.Middleware())
	}

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))

	r.POST("/validate", s.ValidateDocument)

	trees := r.Group("/trees")
	trees.GET("", s.ListTrees)
	trees.POST("", s.CreateTree)
	trees.GET("/:id", s.GetTree)
	trees.PUT("/:id", s.UpdateTree)
	trees.DELETE("/:id", s.DeleteTree)
	trees.POST("/:id/validate", s.ValidateTree)
	trees.GET("/:id/tests", s.ListTestCases)
	trees.POST("/:id/tests", s.AddTestCases)
	trees.POST("/:id/tests/generate", s.GenerateTestCases)
	trees.POST("/:id/run", s.RunTests)
	trees.POST("/:id/run-one", s.RunOne)
	trees.GET("/:id/coverage", s.Coverage)
	trees.POST("/:id/refine", s.RefineNode)

	r.GET("/test-results/:id", s.GetTestResults)

	r.POST("/compile", s.Compile)
	r.GET("/compile/:id/status", s.CompileStatus)

	return r
}

// writeError maps caller-level errors onto status codes. Anything unexpected
// is logged and reported as 500 without details.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, document.ErrInvalidDocument), errors.Is(err, core.ErrTreeMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrVersionExists):
		status = http.StatusConflict
	case errors.Is(err, core.ErrTreeInvalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrCompilerUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
