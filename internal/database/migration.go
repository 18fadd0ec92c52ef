package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Migration is a single, identified schema change.
type Migration interface {
	Identifier() string
	Up() string
}

type Migrator struct {
	DB Querier
}

func NewMigrator(db Querier) *Migrator {
	return &Migrator{DB: db}
}

// Up applies every migration whose identifier sorts after the most
// recently recorded one. Each run is wrapped in one transaction.
func (m *Migrator) Up(ctx context.Context, migrations []Migration) error {
	if len(migrations) == 0 {
		return nil
	}

	if _, err := m.DB.Exec(ctx, `CREATE TABLE IF NOT EXISTS tbl_migration (id TEXT PRIMARY KEY, performed_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return errors.Join(errors.New("creating migration table failed"), err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return errors.Join(errors.New("getting current migration version failed"), err)
	}

	scheduled := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if migration.Identifier() > current {
			scheduled = append(scheduled, migration)
		}
	}

	if len(scheduled) == 0 {
		return nil
	}

	tx, err := m.DB.Begin(ctx)
	if err != nil {
		return errors.Join(errors.New("starting migration transaction failed"), err)
	}
	defer tx.Rollback(ctx)

	for _, migration := range scheduled {
		if _, err := tx.Exec(ctx, migration.Up()); err != nil {
			return errors.Join(fmt.Errorf("migration up failed for %s", migration.Identifier()), err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO tbl_migration (id, performed_at) VALUES ($1, $2)`, migration.Identifier(), time.Now().UTC()); err != nil {
			return errors.Join(fmt.Errorf("recording migration %s failed", migration.Identifier()), err)
		}
	}

	return tx.Commit(ctx)
}

func (m *Migrator) currentVersion(ctx context.Context) (string, error) {
	var id string
	err := m.DB.QueryRow(ctx, `SELECT id FROM tbl_migration ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}
