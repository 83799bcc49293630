package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/utils"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the durable store. Postgres is the production driver; setting
// DB_DRIVER=sqlite switches to a local file database for development.
func New(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "DBService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "postgres", logg))
	var (
		handle *gorm.DB
		err    error
	)
	switch driver {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "scriptor.db", logg)
		handle, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLog,
			TranslateError:                           true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
	default:
		pgHost := utils.GetEnv("POSTGRES_HOST", "localhost", logg)
		pgPort := utils.GetEnv("POSTGRES_PORT", "5432", logg)
		pgUser := utils.GetEnv("POSTGRES_USER", "postgres", logg)
		pgPassword := utils.GetEnv("POSTGRES_PASSWORD", "", logg)
		pgName := utils.GetEnv("POSTGRES_NAME", "scriptor", logg)

		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			pgUser, pgPassword, pgHost, pgPort, pgName,
		)
		handle, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLog,
			TranslateError:                           true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if err := handle.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
		}
	}

	return &Service{db: handle, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }
