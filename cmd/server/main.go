package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/handlers"
	"github.com/gearshare/rental-backend/internal/middleware"
	"github.com/gearshare/rental-backend/internal/services"
	"github.com/gearshare/rental-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting GearShare Rental Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	bookingRepo := database.NewBookingRepository(db, logger)
	paymentRepo := database.NewPaymentRepository(db, logger)
	equipmentRepo := database.NewEquipmentRepository(db)
	conversationRepo := database.NewConversationRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	stripeService := services.NewStripeService(&cfg.Payment, logger)
	intentService := services.NewIntentService(bookingRepo, equipmentRepo, auditRepo, stripeService, &cfg.Booking, logger)
	webhookService := services.NewWebhookService(bookingRepo, paymentRepo, auditRepo, stripeService, &cfg.Booking, logger)
	bookingService := services.NewBookingService(bookingRepo, paymentRepo, equipmentRepo, auditRepo, stripeService, logger)
	escrowService := services.NewEscrowService(bookingRepo, paymentRepo, equipmentRepo, auditRepo, logger)
	reclaimerService := services.NewReclaimerService(bookingRepo, &cfg.Booking, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(reclaimerService, &cfg.Booking, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	if !stripeService.IsConfigured() {
		logger.Warn("Payment provider not configured - intent creation will fail until STRIPE_SECRET_KEY is set")
	}

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, escrowService, logger)
	paymentHandler := handlers.NewPaymentHandler(intentService, bookingService, escrowService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookService, logger)
	adminHandler := handlers.NewAdminHandler(paymentRepo, auditRepo, cronService, logger)
	conversationHandler := handlers.NewConversationHandler(conversationRepo, bookingService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Payment provider webhook (public, signature-verified)
		v1.POST("/payments/webhook", webhookHandler.HandleEvent)

		// Public availability check
		v1.GET("/equipment/:equipment_id/availability", bookingHandler.CheckAvailability)

		// Payment routes (protected)
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthMiddleware(jwtService))
		{
			payments.POST("/request", paymentHandler.RequestPayment)
			payments.GET("/quote", paymentHandler.QuoteBreakdown)
		}

		// Booking routes (protected)
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListMyBookings)
			bookings.GET("/:booking_id", bookingHandler.GetBooking)
			bookings.GET("/:booking_id/history", bookingHandler.GetHistory)
			bookings.GET("/:booking_id/payment", paymentHandler.GetPaymentStatus)
			bookings.GET("/:booking_id/conversation", conversationHandler.GetConversation)

			bookings.POST("/:booking_id/approve", bookingHandler.Approve)
			bookings.POST("/:booking_id/decline", bookingHandler.Decline)
			bookings.POST("/:booking_id/cancel", bookingHandler.Cancel)
			bookings.POST("/:booking_id/activate", bookingHandler.Activate)
			bookings.POST("/:booking_id/complete", bookingHandler.Complete)

			bookings.POST("/:booking_id/escrow/release", paymentHandler.ReleaseEscrow)
			bookings.POST("/:booking_id/deposit/release", paymentHandler.ReleaseDeposit)
			bookings.POST("/:booking_id/deposit/claim", paymentHandler.ClaimDeposit)
		}

		// Equipment booking listing for owners (protected)
		equipment := v1.Group("/equipment")
		equipment.Use(middleware.AuthMiddleware(jwtService))
		{
			equipment.GET("/:equipment_id/bookings", bookingHandler.ListEquipmentBookings)
		}

		// Admin routes (protected, admin role)
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole("admin"))
		{
			admin.POST("/bookings/reclaim", adminHandler.TriggerReclaim)
			admin.GET("/jobs", adminHandler.GetJobStatus)
			admin.GET("/payments/reconciliation", adminHandler.ListReconciliation)
			admin.GET("/audits/intent/:intent_id", adminHandler.GetAuditTrail)
			admin.GET("/audits/mismatches", adminHandler.ListAmountMismatches)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop cron service
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.WithFields(fields).Error("Request failed")
		case c.Writer.Status() >= 400:
			logger.WithFields(fields).Warn("Request rejected")
		default:
			logger.WithFields(fields).Info("Request completed")
		}
	}
}

// healthCheckHandler returns service and database health
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "down",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": "up",
			"version":  version,
		})
	}
}
