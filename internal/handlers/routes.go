package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/gestorpro/internal/middleware"
)

// Register mounts the public /auth group and the token-protected /api group.
func Register(r gin.IRouter, h *Handler, validate middleware.TokenValidator) {
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/login", h.Login)
		authRoutes.POST("/password-reset", h.SendPasswordReset)
		authRoutes.POST("/password-reset/confirm", h.ConfirmPasswordReset)
	}

	apiRoutes := r.Group("/api")
	apiRoutes.Use(middleware.AuthMiddleware(validate)) // Protect all /api routes
	{
		apiRoutes.GET("/state", h.GetState)
		apiRoutes.GET("/events", h.StreamEvents)
		apiRoutes.POST("/logout", h.Logout)

		// Current user
		apiRoutes.GET("/me", h.GetCurrentUser)
		apiRoutes.PUT("/me/password", h.UpdatePassword)
		apiRoutes.PUT("/me/push-token", h.RegisterPushToken)

		// Appointment specific routes
		apiRoutes.POST("/appointments/batch", h.BatchCreateAppointments)
		apiRoutes.POST("/appointments/batch-delete", h.BatchDeleteAppointments)
		apiRoutes.POST("/appointments/:id/messages", h.AddMessageToAppointment)

		// Users
		apiRoutes.POST("/users", h.AddUser)
		apiRoutes.PUT("/users/:id/photo", h.UpdateUserPhoto)

		// Settings
		apiRoutes.GET("/settings", h.GetSettings)
		apiRoutes.PATCH("/settings", h.UpdateSettings)
		apiRoutes.PUT("/settings/logo", h.UpdateLogo)

		// Notification and page flags
		apiRoutes.DELETE("/notification", h.ClearNotification)
		apiRoutes.DELETE("/pages/:page", h.ClearPageFlag)

		// Generic collections
		apiRoutes.GET("/collections/:resource", h.GetCollection)
		apiRoutes.POST("/collections/:resource", h.CreateDocument)
		apiRoutes.PUT("/collections/:resource/:id", h.UpdateDocument)
		apiRoutes.DELETE("/collections/:resource/:id", h.DeleteDocument)
	}
}
