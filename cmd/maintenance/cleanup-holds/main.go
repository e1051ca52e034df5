package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Deletes lapsed holds once, outside the server's cron schedule. Useful
// when the scheduler is disabled or after an outage.
func main() {
	var (
		dbURLFlag  string
		batchSize  int
		pruneLimit bool
		timeout    time.Duration
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.IntVar(&batchSize, "batch-size", services.DefaultHoldServiceConfig().CleanupBatchSize, "holds deleted per statement")
	flag.BoolVar(&pruneLimit, "prune-rate-limits", true, "also delete hold rate limit entries outside every window")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	// Optional .env so secrets need not be passed on the command line
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	holdRepo := database.NewTempBookingRepository(db.DB)
	holdConfig := services.DefaultHoldServiceConfig()
	holdConfig.CleanupBatchSize = batchSize
	holds := services.NewHoldService(
		holdRepo,
		nil, nil, nil, nil, nil,
		holdConfig,
		logger,
	)

	var pruner services.RateLimitPruner
	if pruneLimit {
		pruner = services.NewRateLimitService(db, services.DefaultRateLimitConfig())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	removed, err := holds.CleanupExpiredHolds(ctx)
	if err != nil {
		log.Fatalf("hold cleanup failed after removing %d holds: %v", removed, err)
	}
	fmt.Printf("Removed %d lapsed holds.\n", removed)

	if pruner != nil {
		pruned, err := pruner.CleanupExpiredRateLimits(ctx)
		if err != nil {
			log.Fatalf("rate limit pruning failed: %v", err)
		}
		fmt.Printf("Pruned %d rate limit entries.\n", pruned)
	}

	open, err := holdRepo.CountOpen(ctx)
	if err != nil {
		log.Fatalf("failed to count open holds: %v", err)
	}
	fmt.Printf("Holds still awaiting payment: %d\n", open)
}
