// Package daemon wires the gateway's components together: user store,
// event bus, session manager, and HTTP API server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sadirul/whatsgate/internal/config"
	"github.com/sadirul/whatsgate/internal/eventbus"
	"github.com/sadirul/whatsgate/internal/server"
	"github.com/sadirul/whatsgate/internal/store"
	"github.com/sadirul/whatsgate/internal/users"
	"github.com/sadirul/whatsgate/internal/whatsapp"
	"github.com/sadirul/whatsgate/internal/whatsapp/bridge"
)

// shutdownTimeout bounds graceful teardown: HTTP drain plus adapter
// termination for every live session.
const shutdownTimeout = 15 * time.Second

// Options groups dependencies required to construct a Daemon.
type Options struct {
	// Addr is the HTTP listen address. Empty resolves via config.ListenAddr.
	Addr string

	// Open overrides the adapter factory. Nil launches bridge processes.
	Open whatsapp.OpenFunc

	// Paths overrides the instance directory layout. Zero value resolves
	// and creates the default layout.
	Paths *config.InstancePaths
}

// Daemon is the gateway process: sqlite user store, session manager, and
// the HTTP API bound together.
type Daemon struct {
	paths   config.InstancePaths
	store   *store.Store
	bus     *eventbus.Bus
	manager *whatsapp.Manager
	api     *server.APIServer
}

// New builds a daemon from the instance layout and configuration.
func New(opts Options) (*Daemon, error) {
	var paths config.InstancePaths
	if opts.Paths != nil {
		paths = *opts.Paths
	} else {
		var err error
		paths, err = config.EnsureInstanceDirs()
		if err != nil {
			return nil, fmt.Errorf("daemon: prepare instance directories: %w", err)
		}
	}

	st, err := store.Open(store.Options{DBPath: paths.UsersDB})
	if err != nil {
		return nil, fmt.Errorf("daemon: open user store: %w", err)
	}

	bus := eventbus.New()

	open := opts.Open
	if open == nil {
		open = bridge.Open(bridge.Config{})
	}

	manager, err := whatsapp.NewManager(whatsapp.ManagerOptions{
		Open:        open,
		SessionsDir: paths.SessionsDir,
		Recorder:    st,
		Bus:         bus,
		OpenOptions: whatsapp.OpenOptions{Headless: true},
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("daemon: create session manager: %w", err)
	}

	addr := opts.Addr
	if addr == "" {
		addr = config.ListenAddr()
	}

	api := server.New(server.Options{
		Addr:    addr,
		Manager: manager,
		Users:   users.New(st),
		Bus:     bus,
	})

	return &Daemon{
		paths:   paths,
		store:   st,
		bus:     bus,
		manager: manager,
		api:     api,
	}, nil
}

// Start serves the HTTP API. Blocks until the listener fails or Shutdown
// is called.
func (d *Daemon) Start() error {
	log.Printf("[Daemon] instance home: %s", d.paths.Home)
	return d.api.Start()
}

// Shutdown drains the HTTP server, terminates every live session without
// invalidating credentials, and closes the store.
func (d *Daemon) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.api.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("daemon: stop api server: %w", err))
	}

	d.manager.Shutdown(ctx)
	d.bus.Shutdown()

	if err := d.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("daemon: close store: %w", err))
	}
	return errors.Join(errs...)
}

// APIServer exposes the HTTP layer, mainly for tests.
func (d *Daemon) APIServer() *server.APIServer {
	return d.api
}

// Manager exposes the session manager, mainly for tests.
func (d *Daemon) Manager() *whatsapp.Manager {
	return d.manager
}
