package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/handlers"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/intercity/booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
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

	logger.Info("Starting intercity booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

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

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.EnsureSchema(ctx, db.DB, logger)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
	}

	// Repositories
	tripRepo := database.NewTripRepository(db.DB)
	catalogRepo := database.NewRouteCatalogRepository(db.DB)
	fleetRepo := database.NewFleetRepository(db.DB)
	holdRepo := database.NewTempBookingRepository(db.DB)
	reservationRepo := database.NewReservationRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)
	roundTripRepo := database.NewRoundTripRepository(db.DB)
	searchLogRepo := database.NewSearchLogRepository(db.DB)

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	processor := services.NewCardProcessorService(&cfg.Payment, logger)
	if !processor.IsConfigured() {
		logger.Warn("Card processor not configured - payment initiation will fail")
	}

	searchService := services.NewSearchService(
		tripRepo,
		catalogRepo,
		searchLogRepo,
		services.NewSegmentPricer(logger),
		cfg.Booking,
		cfg.Payment.Currency,
		logger,
	)
	roundTripService := services.NewRoundTripService(roundTripRepo, tripRepo, searchService, logger)

	holdConfig := services.DefaultHoldServiceConfig()
	holdConfig.HoldTTL = cfg.Booking.HoldTTL
	holdConfig.Currency = cfg.Payment.Currency
	holdConfig.BcryptCost = cfg.Security.BcryptCost
	holdConfig.CleanupBatchSize = cfg.Booking.CleanupBatchSize
	holdService := services.NewHoldService(
		holdRepo,
		reservationRepo,
		paymentRepo,
		auditRepo,
		searchService,
		processor,
		holdConfig,
		logger,
	)

	conversionService := services.NewConversionService(
		holdRepo,
		reservationRepo,
		tripRepo,
		paymentRepo,
		auditRepo,
		processor,
		services.NewAuditCompensator(auditRepo, logger),
		logger,
	)
	ticketService := services.NewTicketService(reservationRepo, logger)
	tripService := services.NewTripService(tripRepo, catalogRepo, fleetRepo, reservationRepo, logger)

	// Hold throttling; a zero limit turns off that dimension only
	var (
		holdLimiter  handlers.HoldRateLimiter
		limitPruner  services.RateLimitPruner
		rateLimitCfg = services.DefaultRateLimitConfig()
	)
	rateLimitCfg.MaxEmailRequests = cfg.Booking.MaxHoldsPerEmail
	rateLimitCfg.MaxIPRequests = cfg.Booking.MaxHoldsPerIP
	if rateLimitCfg.MaxEmailRequests > 0 || rateLimitCfg.MaxIPRequests > 0 {
		rateLimitService := services.NewRateLimitService(db, rateLimitCfg)
		holdLimiter = rateLimitService
		limitPruner = rateLimitService
		logger.WithFields(logrus.Fields{
			"max_per_email": rateLimitCfg.MaxEmailRequests,
			"max_per_ip":    rateLimitCfg.MaxIPRequests,
		}).Info("Hold rate limiting enabled")
	} else {
		logger.Warn("Hold rate limiting disabled")
	}

	cronService := services.NewCronService(holdService, limitPruner, cfg.Booking.CleanupSchedule, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Services initialized")

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, version, logger)
	searchHandler := handlers.NewSearchHandler(searchService, roundTripService, logger)
	holdHandler := handlers.NewHoldHandler(holdService, holdLimiter, logger)
	paymentHandler := handlers.NewPaymentHandler(conversionService, logger)
	reservationHandler := handlers.NewReservationHandler(ticketService, logger)
	driverHandler := handlers.NewDriverHandler(tripService, roundTripService, logger)
	adminHandler := handlers.NewAdminHandler(cronService, holdRepo, auditRepo, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowCredentials: !allowsAnyOrigin(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.SearchTrips)
		v1.GET("/trips/:id/round-trip", searchHandler.GetRoundTripOffers)

		holds := v1.Group("/holds")
		{
			holds.POST("", holdHandler.CreateHold)
			holds.GET("/:id", holdHandler.GetHold)
			holds.DELETE("/:id", holdHandler.AbandonHold)
			holds.POST("/:id/payment", holdHandler.InitiatePayment)
		}

		v1.POST("/payments/webhook", paymentHandler.PaymentWebhook)

		reservations := v1.Group("/reservations")
		{
			reservations.GET("/:reference", reservationHandler.GetReservation)
			reservations.GET("/:reference/ticket", reservationHandler.DownloadTicket)
		}

		driver := v1.Group("/driver")
		driver.Use(middleware.AuthMiddleware(jwtService, logger))
		driver.Use(middleware.RequireRole(jwt.RoleDriver))
		driver.Use(middleware.RequireDriver(fleetRepo, logger))
		{
			driver.POST("/trips", driverHandler.ScheduleTrip)
			driver.PATCH("/trips/:id/status", driverHandler.UpdateTripStatus)
			driver.GET("/trips/:id/reservations", driverHandler.ListTripReservations)
			driver.POST("/reservations/:id/cancel", driverHandler.CancelReservation)
			driver.POST("/round-trip-links", driverHandler.CreateRoundTripLink)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger))
		admin.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.POST("/holds/cleanup", adminHandler.CleanupHolds)
			admin.GET("/holds/:id/audits", adminHandler.GetHoldAudits)
			admin.GET("/jobs", adminHandler.GetJobStatus)
			admin.GET("/refund-requests", adminHandler.ListRefundRequests)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

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
	cronService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// allowsAnyOrigin reports a wildcard origin, which browsers refuse to
// combine with credentials
func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
