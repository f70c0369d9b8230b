package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Assessment *handler.AssessmentHandler
	Admin      *handler.AdminHandler
	WS         *handler.WSHandler
	Monitor    *handler.MonitorHandler
	Dashboard  *handler.DashboardHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the background cleanup of the rate limiters.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestID())

	// Streams must reach the client unbuffered.
	brotliConfig := middleware.DefaultBrotliConfig
	brotliConfig.SkipPrefixes = []string{"/ws/", "/api/v1/admin/system/metrics/stream"}
	router.Use(middleware.BrotliWithConfig(brotliConfig))

	router.GET("/health", handlers.System.Health)

	// Per-login limits: navigation is chatty, proctor codes are not.
	actionLimiter := middleware.NewRateLimiter(ctx, 120, time.Minute, middleware.ByUser)
	codeLimiter := middleware.NewRateLimiter(ctx, 10, time.Minute, middleware.ByUser)
	lookupLimiter := middleware.NewRateLimiter(ctx, 60, time.Minute, middleware.ByUser)

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/me", handlers.Auth.GetStudentProfile)
		studentAPI.POST("/logout", handlers.Auth.StudentLogout)

		studentAPI.GET("/assessments/:assessment_id", handlers.Assessment.OpenAssessment)
		studentAPI.POST("/assessments/:assessment_id/actions",
			actionLimiter.Middleware(),
			handlers.Assessment.PostAction,
		)
		studentAPI.POST("/proctor-code",
			codeLimiter.Middleware(),
			handlers.Assessment.IssueProctorCode,
		)
	}

	// ─── 2. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/assessments/:assessment_id/stream", handlers.WS.AssessmentStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/me", handlers.Auth.GetAdminProfile)

		adminAPI.GET("/assessments",
			middleware.RequirePermission(model.PermissionSessionsRead),
			middleware.CacheControl(30*time.Second),
			handlers.Admin.ListAssessments,
		)
		adminAPI.POST("/assessments/refresh-cache",
			middleware.RequirePermission(model.PermissionContentRefresh),
			handlers.Admin.RefreshContent,
		)
		adminAPI.GET("/assessments/:assessment_id/monitor",
			middleware.RequirePermission(model.PermissionSessionsRead),
			handlers.Monitor.MonitorAssessmentSSE,
		)

		// Live sessions
		adminAPI.GET("/sessions",
			middleware.RequirePermission(model.PermissionSessionsRead),
			handlers.Admin.ListSessions,
		)
		adminAPI.POST("/sessions/:interaction_id/:assessment_id/force-submit",
			middleware.RequirePermission(model.PermissionSessionsControl),
			handlers.Admin.ForceSubmit,
		)
		adminAPI.POST("/sessions/:interaction_id/:assessment_id/force-abort",
			middleware.RequirePermission(model.PermissionSessionsControl),
			handlers.Admin.ForceAbort,
		)

		adminAPI.POST("/proctor-codes/:code",
			middleware.RequirePermission(model.PermissionProctor),
			lookupLimiter.Middleware(),
			handlers.Admin.LookupProctorCode,
		)

		// Students
		adminAPI.GET("/students/:student_id/interaction",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.Admin.GetStudentInteraction,
		)
		adminAPI.GET("/students/:student_id/recoveries",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.Admin.ListStudentRecoveries,
		)
		adminAPI.POST("/students/:student_id/reset-login",
			middleware.RequirePermission(model.PermissionStudentsResetSession),
			handlers.Admin.ResetStudentLogin,
		)

		// Dashboard and system monitoring, open to all admins
		adminAPI.GET("/dashboard", handlers.Dashboard.GetDashboardData)
		adminAPI.GET("/system/metrics", handlers.System.Metrics)
		adminAPI.GET("/system/metrics/stream", handlers.System.SystemMetricsSSE)
	}

	return router
}
