package gateway

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repomanager"
)

// Caller identifies who is reading. The zero value is an anonymous reader.
type Caller struct {
	UserID string
	Role   string
}

func (c Caller) Anonymous() bool { return c.UserID == "" }

// Authorizer answers "may this caller read this asset". Policy lives outside
// the archive core; this is only the hook.
type Authorizer interface {
	CanRead(ctx context.Context, caller Caller, asset *models.Asset) (bool, error)
}

// IssueAuthorizer lets anyone read assets published as an issue and requires
// an authenticated caller for everything else.
type IssueAuthorizer struct {
	tx    dbx.Transactor
	repos repomanager.RepositoryManager
}

func NewIssueAuthorizer(tx dbx.Transactor, repos repomanager.RepositoryManager) *IssueAuthorizer {
	return &IssueAuthorizer{tx: tx, repos: repos}
}

func (a *IssueAuthorizer) CanRead(ctx context.Context, caller Caller, asset *models.Asset) (bool, error) {
	if !caller.Anonymous() {
		return true, nil
	}
	_, err := a.repos.Issues(a.tx.DB()).GetByAssetID(ctx, asset.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Caller, asset *models.Asset) (bool, error)

func (f AuthorizerFunc) CanRead(ctx context.Context, caller Caller, asset *models.Asset) (bool, error) {
	return f(ctx, caller, asset)
}
