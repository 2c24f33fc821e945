package migrations

import (
	"errors"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

var log = logger.GetLogger() // Instancia logger para el pakg

// RunMigrations applies every pending up migration found in dir against dsn.
func RunMigrations(dir, dsn string) error {
	log.Info("RunMigrations", zap.String("dir", dir))
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: version: %w", err)
	}
	log.Info("Schema at version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
