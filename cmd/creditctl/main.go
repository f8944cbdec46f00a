// creditctl grants credits to an account. Top-up flows (payment providers)
// live outside this system; this is the operator-side hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgemedia/genjobs/internal/billing"
	"github.com/forgemedia/genjobs/internal/config"
	"github.com/forgemedia/genjobs/shared/logger"
	"github.com/forgemedia/genjobs/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	owner := flag.String("owner", "", "Owner account id to credit")
	amount := flag.Int64("amount", 0, "Amount of credits to grant")
	reason := flag.String("reason", billing.ReasonGrant, "Ledger reason tag recorded on the entry")
	flag.Parse()

	if *owner == "" {
		return fmt.Errorf("-owner is required")
	}
	if *amount <= 0 {
		return fmt.Errorf("-amount must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.NewDefault()

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	ledger := billing.NewLedger(dbClient.GetDB(), appLogger.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := ledger.Grant(ctx, *owner, *amount, *reason)
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	fmt.Printf("granted %d credits to %s, new balance: %d\n", *amount, *owner, balance)
	return nil
}
