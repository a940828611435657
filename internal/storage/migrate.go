package storage

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is a single schema change. SQL holds an optional
// "-- +migrate Down" section followed by the "-- +migrate Up" section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies every pending migration for the given sql-migrate dialect.
func RunMigrations(logger *zap.Logger, db *sql.DB, dialect string, migrations []Migration) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	source := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}
	ids := make([]string, 0, len(migrations))
	for _, m := range migrations {
		parts := strings.SplitN(m.SQL, upMarker, 2)
		if len(parts) != 2 {
			return fmt.Errorf("migration %s missing %q separator", m.ID, upMarker)
		}

		downSQL := parts[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = downSQL[idx+len(downMarker):]
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(parts[1])},
			Down: []string{strings.TrimSpace(downSQL)},
		})
		ids = append(ids, m.ID)
	}

	applied, err := migrate.Exec(db, dialect, source, migrate.Up)
	if err != nil {
		return fmt.Errorf("run migrations %s: %w", strings.Join(ids, ","), err)
	}

	logger.Info("migrations applied", zap.String("dialect", dialect), zap.Int("applied", applied), zap.Strings("known", ids))
	return nil
}
