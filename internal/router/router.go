// Package router assembles the gin engine and the per-domain route groups.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/profman-api/api/swagger"
	"github.com/noah-isme/profman-api/internal/handler"
	"github.com/noah-isme/profman-api/internal/middleware"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/service"
	"github.com/noah-isme/profman-api/pkg/config"
	"github.com/noah-isme/profman-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/profman-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/profman-api/pkg/middleware/requestid"
	"github.com/noah-isme/profman-api/pkg/reporting"
)

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Reporter reporting.Reporter
	Metrics  *service.MetricsService
	Tokens   middleware.TokenValidator

	Auth       *handler.AuthHandler
	Users      *handler.UserHandler
	Subjects   *handler.SubjectHandler
	Branches   *handler.BranchHandler
	Quizzes    *handler.QuizHandler
	Exams      *handler.ExamHandler
	Gradebooks *handler.GradebookHandler
	Google     *handler.GoogleHandler
	Probes     *handler.MetricsHandler
}

var (
	adminOnly = middleware.RequireRoles(models.RoleAdmin)
	staff     = middleware.RequireRoles(models.RoleAdmin, models.RoleProfessor)
	students  = middleware.RequireRoles(models.RoleStudent)
)

// New builds the engine with global middleware, probes and the versioned API.
func New(deps Dependencies) *gin.Engine {
	production := deps.Config.Env == config.EnvProduction
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(middleware.ErrorHandler(deps.Logger, deps.Reporter, production))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Probes.Health)
	r.GET("/ready", deps.Probes.Ready)
	r.GET("/metrics", deps.Probes.Prometheus)
	if !production {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.Config.APIPrefix)
	auth := middleware.JWT(deps.Tokens)

	registerAuthAPI(api, auth, deps.Auth)
	registerUserAPI(api, auth, deps.Users)
	registerSubjectAPI(api, auth, deps.Subjects)
	registerBranchAPI(api, auth, deps.Branches, deps.Gradebooks)
	registerQuizAPI(api, auth, deps.Quizzes)
	registerExamAPI(api, auth, deps.Exams)
	registerExportAPI(api, auth, deps.Gradebooks)
	registerGoogleAPI(api, auth, deps.Google)

	return r
}

func registerAuthAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.AuthHandler) {
	g := api.Group("/auth")
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/reset-password", h.ResetPassword)

	g.POST("/logout", auth, h.Logout)
	g.GET("/me", auth, h.Me)
	g.POST("/change-password", auth, h.ChangePassword)
}

func registerUserAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.UserHandler) {
	g := api.Group("/users", auth)
	g.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.Self), h.Get)

	admin := g.Group("", adminOnly)
	admin.GET("", h.List)
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
	admin.DELETE("/:id", h.Delete)
	admin.POST("/:id/restore", h.Restore)
	admin.DELETE("/:id/permanent", h.Purge)

	api.GET("/admin/stats", auth, adminOnly, h.Stats)
}

func registerSubjectAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.SubjectHandler) {
	g := api.Group("/subjects", auth)
	g.GET("", h.List)
	g.GET("/:id", h.Get)

	admin := g.Group("", adminOnly)
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
	admin.DELETE("/:id", h.Delete)
	admin.POST("/:id/restore", h.Restore)
	admin.DELETE("/:id/permanent", h.Purge)
}

func registerBranchAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.BranchHandler, books *handler.GradebookHandler) {
	g := api.Group("/branches", auth)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/students", staff, h.Students)
	g.PUT("/:id/weeks", staff, h.UpdateWeeks)
	g.GET("/:id/gradebook", staff, books.Get)
	g.POST("/:id/gradebook/exports", staff, books.CreateExport)

	admin := g.Group("", adminOnly)
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
	admin.POST("/:id/students", h.Enroll)
	admin.DELETE("/:id/students/:studentId", h.Unenroll)
	admin.DELETE("/:id", h.Delete)
	admin.POST("/:id/restore", h.Restore)
	admin.DELETE("/:id/permanent", h.Purge)
}

func registerQuizAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.QuizHandler) {
	g := api.Group("/quizzes", auth)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/attempts", h.ListAttempts)
	g.POST("/:id/attempts", students, h.SubmitAttempt)

	owner := g.Group("", staff)
	owner.POST("", h.Create)
	owner.PUT("/:id", h.Update)
	owner.POST("/:id/publish", h.Publish)
	owner.POST("/:id/unpublish", h.Unpublish)
	owner.DELETE("/:id", h.Delete)
	owner.POST("/:id/restore", h.Restore)
	owner.DELETE("/:id/permanent", h.Purge)

	api.GET("/quiz-attempts/:id", auth, h.GetAttempt)
}

func registerExamAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.ExamHandler) {
	g := api.Group("/exams", auth)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/submissions", h.ListSubmissions)
	g.POST("/:id/submissions", students, h.Submit)

	owner := g.Group("", staff)
	owner.POST("", h.Create)
	owner.PUT("/:id", h.Update)
	owner.POST("/:id/publish", h.Publish)
	owner.POST("/:id/unpublish", h.Unpublish)
	owner.DELETE("/:id", h.Delete)
	owner.POST("/:id/restore", h.Restore)
	owner.DELETE("/:id/permanent", h.Purge)

	submissions := api.Group("/exam-submissions", auth)
	submissions.GET("/:id", h.GetSubmission)
	submissions.PUT("/:id/grade", staff, h.Grade)
}

func registerExportAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.GradebookHandler) {
	g := api.Group("/exports")
	g.GET("/download/:token", h.Download)
	g.GET("/:id", auth, staff, h.ExportStatus)
}

func registerGoogleAPI(api *gin.RouterGroup, auth gin.HandlerFunc, h *handler.GoogleHandler) {
	g := api.Group("/integrations/google")
	g.GET("/callback", h.Callback)

	connected := g.Group("", auth, staff)
	connected.GET("/auth-url", h.AuthURL)
	connected.GET("/status", h.Status)
	connected.DELETE("", h.Disconnect)
}
