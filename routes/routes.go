package routes

import (
	"user-management-api/controllers"
	"user-management-api/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			public.POST("/login", controllers.Login)
			public.POST("/register", controllers.Register)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "User Management API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User profile
			protected.GET("/profile", controllers.GetProfile)
			protected.PUT("/change-password", controllers.ChangePassword)

			// User management (admin only)
			users := protected.Group("/users", middleware.RequireAdmin())
			{
				users.GET("", controllers.GetUsers)
				users.GET("/:id", controllers.GetUser)
				users.PUT("/:id", controllers.UpdateUser)
				users.DELETE("/:id", controllers.DeleteUser)
			}

			// Bulk user imports (admin only)
			imports := protected.Group("/admin/imports", middleware.RequireAdmin())
			{
				imports.POST("", controllers.CreateUserImport)
				imports.GET("", controllers.ListUserImports)
				imports.GET("/events", controllers.StreamAllImports)
				imports.GET("/:id", controllers.GetUserImport)
				imports.GET("/:id/events", controllers.StreamUserImport)
			}
		}
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Route not found"})
	})
}
