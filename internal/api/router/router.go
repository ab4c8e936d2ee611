package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/invoicegen/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// Agent endpoints
	r.POST("/start_job", jobHandler.StartJob)
	r.GET("/status", jobHandler.GetStatus)
	r.POST("/provide_input", jobHandler.ProvideInput)
	r.GET("/availability", jobHandler.Availability)
	r.GET("/input_schema", jobHandler.InputSchema)

	// Payment gate push updates
	r.POST("/payment_callback", jobHandler.PaymentCallback)

	return r
}
