package postgres

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/carelink/voicegate/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to date. Goose needs database/sql, so the
// migration connection is opened separately from the pgx pool.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return core.NewAPIError("open migration connection: " + err.Error())
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return core.NewAPIError("set migration dialect: " + err.Error())
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return core.NewAPIError("run migrations: " + err.Error())
	}
	return nil
}
