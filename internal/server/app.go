// Package server initializes and runs the messaging server: it opens the
// database, runs migrations, wires the REST API and the realtime hub
// together, and handles graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/callsig"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/httpapi"
	"github.com/holamess/holamess/internal/server/hub"
	"github.com/holamess/holamess/internal/server/presence"
	"github.com/holamess/holamess/internal/server/relay"
	"github.com/holamess/holamess/internal/server/repositories/repomanager"
	"github.com/holamess/holamess/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	repos  repomanager.RepositoryManager
	api    *httpapi.Server
	hub    *hub.Hub
}

func NewApp(c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	userService := services.NewUserService(db, rm, c)
	authService := services.NewAuthService(db, rm, c)

	table := presence.NewTable()
	h := hub.New(c, table, authService, logger)
	r := relay.New(db, rm, table, h, c, logger)
	e := callsig.New(db, rm, table, h, r, c, logger)
	h.Wire(r, e)

	api := httpapi.NewServer(c, userService, r, authService, logger)

	return &App{config: c, logger: logger, db: db, repos: rm, api: api, hub: h}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.api.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHub(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.hub.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHub(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
