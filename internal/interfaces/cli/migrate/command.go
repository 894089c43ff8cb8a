package migrate

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilnet-io/veilnet/internal/infrastructure/config"
	"github.com/veilnet-io/veilnet/internal/infrastructure/database"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Create or update the veilnet database schema.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	log := logger.NewLogger()
	log.Infow("running migrations", "environment", env)

	if err := database.Get().AutoMigrate(
		&models.SubscriberModel{},
		&models.NodeModel{},
		&models.DailyTrafficModel{},
		&models.AccessLogModel{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Infow("migrations completed")
	return nil
}
