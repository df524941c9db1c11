package repomanager

import (
	"context"
	"database/sql"

	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/repositories/calls"
	"github.com/holamess/holamess/internal/server/repositories/messages"
	"github.com/holamess/holamess/internal/server/repositories/refreshtokens"
	"github.com/holamess/holamess/internal/server/repositories/sessions"
	"github.com/holamess/holamess/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Messages(db dbx.DBTX) messages.Repository
	Calls(db dbx.DBTX) calls.Repository
}
