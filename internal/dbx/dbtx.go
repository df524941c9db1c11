// Package dbx carries the one database seam the repositories are built on:
// every repository takes a DBTX instead of *sql.DB, so the same code runs a
// single statement on the pool or participates in a multi-statement
// transaction (token rotation, logout, full revocation) without knowing
// which. WithTx is the only place transactions begin and end.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the execution surface a repository needs. *sql.DB and *sql.Tx
// both provide it, which is what lets the service layer hand a repository
// either one.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit when fn returns nil, rollback
// when it returns an error or panics (the panic is rethrown after rollback).
//
// Services pair it with the repository manager to make multi-table writes
// atomic:
//
//	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := s.repos.Sessions(tx).Delete(ctx, accessToken); err != nil {
//	        return err
//	    }
//	    _, err := s.repos.RefreshTokens(tx).Revoke(ctx, refreshToken)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
