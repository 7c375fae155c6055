// Package app wires the modgate host: the owner roster, the event router
// and lifecycle bus, the unit loader with its host modules, the optional
// directory watcher and the operator command handler.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/dshills/modgate/internal/config"
	"github.com/dshills/modgate/internal/dispatch"
	"github.com/dshills/modgate/internal/event"
	"github.com/dshills/modgate/internal/logging"
	"github.com/dshills/modgate/internal/plugin"
	"github.com/dshills/modgate/internal/plugin/api"
	"github.com/dshills/modgate/internal/roster"
)

// OperatorGroup is the dispatch group of the operator handler. It runs
// before unit handlers, which conventionally use groups 0 and up.
const OperatorGroup = -1

// Owners is the roster the application reads and manages.
type Owners interface {
	plugin.Roster
	io.Closer
}

// Options configures the application.
type Options struct {
	// Config holds the host settings. Required.
	Config *config.Config

	// Logger defaults to logging.Default().
	Logger *logging.Logger

	// Owners replaces the roster opened from Config.RosterPath.
	Owners Owners

	// Version is reported to units through the host module.
	Version string
}

// Application is the running host.
type Application struct {
	cfg    *config.Config
	logger *logging.Logger

	owners   Owners
	router   *dispatch.Router
	bus      *event.Bus
	loader   *plugin.Loader
	operator *Operator

	watcher *plugin.Watcher
	follow  sync.WaitGroup
	cancel  context.CancelFunc

	running atomic.Bool
}

// New creates an application. Nothing is loaded until Start.
func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		return nil, &InitError{Component: "config", Err: errors.New("missing")}
	}

	app := &Application{
		cfg:    opts.Config,
		logger: opts.Logger,
		owners: opts.Owners,
	}
	if app.logger == nil {
		app.logger = logging.Default()
	}

	if err := app.bootstrap(opts.Version); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap creates the components in dependency order.
func (app *Application) bootstrap(version string) error {
	// 1. Owner roster
	if app.owners == nil {
		r, err := roster.Open(app.cfg.RosterPath)
		if err != nil {
			return &InitError{Component: "roster", Err: err}
		}
		app.owners = r
	}

	// 2. Router and lifecycle event bus
	app.router = dispatch.NewRouter(dispatch.WithExecutor(dispatch.NewExecutor(
		dispatch.WithPanicHandler(func(_ any, v any, _ []byte) {
			app.logger.Error("handler panicked: %v", v)
		}),
	)))
	app.bus = event.NewBus(event.WithPanicHandler(func(_ any, v any) {
		app.logger.Error("event subscriber panicked: %v", v)
	}))

	// 3. Host modules. The catalog is read lazily: the loader does not
	// exist yet.
	modules := api.NewRegistry()
	host := api.NewHostModule(
		api.WithVersion(version),
		api.WithRoster(app.owners),
		api.WithCatalog(func() []plugin.CatalogEntry { return app.loader.Catalog().List() }),
		api.WithLogger(app.logger.WithComponent("unit")),
	)
	for _, mod := range []api.Module{host, api.NewTextModule()} {
		if err := modules.Register(mod); err != nil {
			return &InitError{Component: "host modules", Err: err}
		}
	}
	actOpts := append(modules.Options(),
		plugin.WithActivatorLogger(app.logger.WithComponent("unit")),
		plugin.WithCallTimeout(app.cfg.CallTimeout),
	)

	// 4. Loader
	app.loader = plugin.NewLoader(app.router,
		plugin.WithLayout(app.cfg.Layout()),
		plugin.WithLogger(app.logger),
		plugin.WithBus(app.bus),
		plugin.WithProtected(app.cfg.Protected...),
		plugin.WithCodeCheck(app.cfg.CheckCode),
		plugin.WithActivator(plugin.NewLuaActivator(actOpts...)),
	)

	// 5. Operator commands, owners only.
	app.operator = NewOperator(app.loader)
	guarded := plugin.Guard(plugin.OwnerFilter(app.owners), app.operator)
	if err := app.router.AddHandler(guarded, OperatorGroup); err != nil {
		return &InitError{Component: "operator", Err: err}
	}
	return nil
}

// Loader returns the unit loader.
func (app *Application) Loader() *plugin.Loader {
	return app.loader
}

// Router returns the event router.
func (app *Application) Router() *dispatch.Router {
	return app.router
}

// Bus returns the bus unit lifecycle events are published on.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Start prepares the unit directories, autoloads units and starts the
// watcher, as configured. Autoload failures are logged, not returned.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := app.cfg.Layout().Ensure(); err != nil {
		return &InitError{Component: "unit directories", Err: err}
	}

	if app.cfg.Autoload {
		if err := app.loader.LoadAll(ctx); err != nil {
			for _, e := range multierr.Errors(err) {
				app.logger.Warn("autoload: %v", e)
			}
		}
		app.logger.Info("autoload done, %d units active", app.loader.Registry().Len())
	}

	if app.cfg.Watch {
		w, err := plugin.NewWatcher(app.cfg.Layout(), plugin.WithSettleDelay(app.cfg.SettleDelay))
		if err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
		app.watcher = w

		followCtx, cancel := context.WithCancel(context.Background())
		app.cancel = cancel
		app.follow.Add(1)
		go func() {
			defer app.follow.Done()
			app.loader.Follow(followCtx, w)
		}()
	}
	return nil
}

// Handle dispatches one inbound message and returns the replies handlers
// produced.
func (app *Application) Handle(ctx context.Context, from int64, self bool, text string) []string {
	var mu sync.Mutex
	var replies []string

	ev := dispatch.NewEvent(from, self, text)
	ev.Reply = func(s string) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, s)
	}

	for _, res := range app.router.Dispatch(ctx, ev) {
		if res.IsError() {
			app.logger.Warn("handler in group %d: %v", res.Group, res.Error)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return replies
}

// Run reads operator lines from in until EOF or ctx is done, dispatching
// each as a message from the host account and writing replies to out.
func (app *Application) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			for _, reply := range app.Handle(ctx, 0, true, line) {
				if _, err := fmt.Fprintln(out, reply); err != nil {
					return err
				}
			}
		}
	}
}

// Shutdown stops the watcher, unloads every unit and closes the roster.
func (app *Application) Shutdown(ctx context.Context) error {
	var errs error
	if app.watcher != nil {
		app.cancel()
		errs = multierr.Append(errs, app.watcher.Close())
		app.follow.Wait()
		app.watcher = nil
	}
	errs = multierr.Append(errs, app.loader.UnloadAll(ctx))
	errs = multierr.Append(errs, app.owners.Close())
	app.running.Store(false)
	return errs
}
