// Package cli is the interactive terminal front end: a small REPL that
// logs in over REST, attaches to the realtime endpoint, and prints
// incoming messages and presence changes as they arrive.
package cli

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/holamess/holamess/internal/client/api"
	"github.com/holamess/holamess/internal/client/config"
	"github.com/holamess/holamess/internal/client/realtime"
)

type App struct {
	config *config.Config
	api    *api.Client
	reader *bufio.Reader

	mu      sync.Mutex
	session *realtime.Session
	userID  string
}

func NewApp(c *config.Config) (*App, error) {
	apiClient := api.NewClient(c.ServerEndpointHTTP, c.Device, c.RequestTimeout)
	return &App{config: c, api: apiClient, reader: bufio.NewReader(os.Stdin)}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.disconnect()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *App) currentSession() (*realtime.Session, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.userID
}

func (a *App) setSession(s *realtime.Session, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = s
	a.userID = userID
}

func (a *App) disconnect() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.userID = ""
	a.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}
