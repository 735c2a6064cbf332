package router

import (
	"iam/internal/handlers"
	"iam/internal/middleware"
	"iam/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Auth     *handlers.AuthHandler
	User     *handlers.UserHandler
	Manage   *handlers.ManageHandler
	Group    *handlers.GroupHandler
	Lookup   *handlers.LookupHandler
	Ingest   *handlers.IngestHandler
	System   *handlers.SystemHandler
	AuthMW   *middleware.AuthMiddleware
	CORS     config.CORSConfig
	Log      *logrus.Logger
	ServeLog bool // 是否输出访问日志
}

// SetupRouter 设置路由
func SetupRouter(h Handlers) *gin.Engine {
	handlers.RegisterValidators()

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler(h.Log))
	if h.ServeLog {
		router.Use(middleware.RequestLogger(h.Log))
	}
	router.Use(middleware.SetupCORS(h.CORS))

	registerRoutes(router, h)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, h Handlers) {
	auth := h.AuthMW

	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", h.System.Health)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/logout", auth.RequireLogin(), h.Auth.Logout)
		}

		// 个人操作
		users := api.Group("/users")
		{
			users.POST("/register", h.User.Register)

			me := users.Group("/me", auth.RequireLogin())
			{
				me.GET("", h.User.Me)
				me.PUT("", h.User.UpdateProfile)
				me.PUT("/password", h.User.ChangePassword)
				me.PUT("/pay-password", h.User.SetPayPassword)
				me.POST("/pay-password/verify", h.User.VerifyPayPassword)
			}
		}

		// 用户管理
		manage := api.Group("/manage/users", auth.RequireLogin())
		{
			manage.GET("", h.Manage.List)
			manage.POST("", h.Manage.Create)
			manage.GET("/count", h.Manage.Count)
			manage.GET("/invitable", auth.RequireTenant(), h.Manage.ListInvitable)
			manage.GET("/:id", h.Manage.GetByID)
			manage.PUT("/:id", h.Manage.Update)
			manage.DELETE("/:id", h.Manage.Delete)
			manage.PUT("/:id/status", h.Manage.UpdateStatus)
			manage.POST("/:id/reset-password", h.Manage.ResetPassword)
			manage.POST("/:id/invite", auth.RequireTenant(), h.Manage.Invite)
			manage.DELETE("/:id/tenant", auth.RequireTenant(), h.Manage.ClearOut)
		}

		// 用户组
		groups := api.Group("/groups", auth.RequireLogin(), auth.RequireTenant())
		{
			groups.GET("", h.Group.List)
			groups.POST("", h.Group.Create)
			groups.GET("/:id", h.Group.GetByID)
			groups.PUT("/:id", h.Group.Update)
			groups.DELETE("/:id", h.Group.Delete)
			groups.GET("/:id/members", h.Group.ListMembers)
			groups.GET("/:id/others", h.Group.ListOthers)
			groups.POST("/:id/members", h.Group.AddMembers)
			groups.DELETE("/:id/members", h.Group.RemoveMembers)
		}

		// 身份查询
		lookup := api.Group("/lookup", auth.RequireLogin())
		{
			lookup.GET("/resolve", h.Lookup.Resolve)
			lookup.GET("/profile/:id", h.Lookup.Profile)
		}

		// 外部用户同步
		ingest := api.Group("/ingest", auth.RequireLogin())
		{
			ingest.POST("/users", h.Ingest.Publish)
			ingest.GET("/stats", h.Ingest.Stats)
		}
	}
}
