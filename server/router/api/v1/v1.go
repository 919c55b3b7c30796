package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/metrics"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/runner/backup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/service/memory"
)

// APIV1Service serves the memory REST API.
type APIV1Service struct {
	Profile *profile.Profile
	Memory  *memory.Service
	Backup  *backup.Runner
	Metrics *metrics.PrometheusExporter

	limiter *RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, memoryService *memory.Service, backupRunner *backup.Runner, exporter *metrics.PrometheusExporter) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Memory:  memoryService,
		Backup:  backupRunner,
		Metrics: exporter,
		limiter: NewRateLimiter(profile.RateLimitRPS, profile.RateLimitBurst),
	}
}

// maxBodySize bounds every request body.
const maxBodySize = "1M"

// RegisterRoutes installs the shared middleware and every endpoint on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Use(middleware.Recover())
	e.Use(RequestContext())
	e.Use(middleware.BodyLimit(maxBodySize))
	if s.Metrics != nil {
		e.Use(RequestMetrics(s.Metrics))
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderAPIKey},
	}))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
	}))

	e.GET("/health", s.Health)
	e.GET("/version", s.Version)

	// Auth is attached per route so unknown paths still answer 404.
	keyed := []echo.MiddlewareFunc{KeyAuth(s.Profile.APIKey), RateLimit(s.limiter)}
	e.POST("/add_memory", s.AddMemory, keyed...)
	e.POST("/add_memories", s.AddMemories, keyed...)
	e.GET("/get_memories", s.GetMemories, keyed...)
	e.POST("/delete_user_memories", s.DeleteUserMemories, keyed...)
	e.POST("/extract_memories", s.ExtractMemories, keyed...)
	e.GET("/memory_stats", s.MemoryStats, keyed...)
	e.POST("/prune", s.Prune, keyed...)
	e.POST("/backup_now", s.BackupNow, keyed...)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()), keyed...)
	}

	admin := []echo.MiddlewareFunc{AdminAuth(s.Profile.AdminAPIKey), RateLimit(s.limiter)}
	e.POST("/backup_all_now", s.BackupAllNow, admin...)
	e.POST("/restore", s.Restore, admin...)
	e.GET("/backups", s.ListBackups, admin...)
}
