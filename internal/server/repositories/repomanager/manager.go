package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/assets"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/issues"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/ocrresults"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Assets(db dbx.DBTX) assets.Repository
	Issues(db dbx.DBTX) issues.Repository
	OcrResults(db dbx.DBTX) ocrresults.Repository
}
