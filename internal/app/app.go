// Package app wires the store, realm, session, transport, and console
// layers together and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/realmkit/relayd/internal/abuse"
	"github.com/realmkit/relayd/internal/config"
	"github.com/realmkit/relayd/internal/console"
	"github.com/realmkit/relayd/internal/realm"
	"github.com/realmkit/relayd/internal/registry"
	"github.com/realmkit/relayd/internal/session"
	"github.com/realmkit/relayd/internal/store"
	"github.com/realmkit/relayd/internal/store/sqlite"
	"github.com/realmkit/relayd/internal/transport/ws"
)

// App holds the assembled server.
type App struct {
	version string
	store   store.Store
	guard   *abuse.Guard
	manager *session.Manager
	server  *ws.Server
	log     zerolog.Logger
}

// New builds the application: opens the store, rehydrates issued identities
// into the realm (disconnected), loads the ban lists, and binds the
// transport.
func New(cfg config.Config, version string, logger zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	ctx := context.Background()

	lastID, err := st.MaxUserID(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load id counter: %w", err)
	}
	r := realm.New(lastID)

	users, err := st.Users(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		if _, err := r.AddUser(u.Name, u.ID); err != nil {
			st.Close()
			return nil, fmt.Errorf("rehydrate user %d: %w", u.ID, err)
		}
	}
	if len(users) > 0 {
		logger.Info().Int("users", len(users)).Int32("last_id", lastID).Msg("realm rehydrated")
	}

	guard, err := abuse.NewGuard(ctx, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init abuse guard: %w", err)
	}

	reg := registry.New(st, r)
	mgr := session.NewManager(r, reg, guard, logger)
	server := ws.NewServer(ws.JoinHostPort(cfg.Address, cfg.Port), mgr, mgr, logger)

	return &App{
		version: version,
		store:   st,
		guard:   guard,
		manager: mgr,
		server:  server,
		log:     logger,
	}, nil
}

// Run serves until the context is cancelled or the operator issues exit.
// In-flight packet processing finishes; the connection table is released.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cons := console.New(a.manager, a.guard, a.store, a.version, cancel, a.log)
	go func() {
		if err := cons.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn().Err(err).Msg("console loop ended")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

func (a *App) cleanup() {
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
