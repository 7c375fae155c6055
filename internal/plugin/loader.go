package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/dshills/modgate/internal/dispatch"
	"github.com/dshills/modgate/internal/event"
	"github.com/dshills/modgate/internal/logging"
	"github.com/dshills/modgate/internal/plugin/scan"
)

// DefaultProtected are the names Unload refuses.
var DefaultProtected = []string{"help", "loader", "core", "executor"}

// Loader drives units through their lifecycle: validation, scanning,
// activation, registration and retirement. Operations on the same kind and
// name are serialized; operations on different names run concurrently.
type Loader struct {
	layout    Layout
	registry  *Registry
	scanner   *scan.Scanner
	activator Activator
	logger    *logging.Logger
	metrics   *Metrics
	meter     metric.Meter
	protected map[string]bool
	checkCode bool

	locks *keyLocks

	statesMu sync.Mutex
	states   map[Key]State

	bus *event.Bus
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLayout sets the unit directories.
func WithLayout(layout Layout) LoaderOption {
	return func(l *Loader) {
		l.layout = layout
	}
}

// WithScanner replaces the source scanner.
func WithScanner(s *scan.Scanner) LoaderOption {
	return func(l *Loader) {
		l.scanner = s
	}
}

// WithActivator replaces the unit activator.
func WithActivator(a Activator) LoaderOption {
	return func(l *Loader) {
		l.activator = a
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMeter records lifecycle metrics on meter instead of the global provider.
func WithMeter(meter metric.Meter) LoaderOption {
	return func(l *Loader) {
		l.meter = meter
	}
}

// WithBus publishes lifecycle events on bus instead of a private one.
func WithBus(bus *event.Bus) LoaderOption {
	return func(l *Loader) {
		l.bus = bus
	}
}

// WithProtected replaces the protected name list.
func WithProtected(names ...string) LoaderOption {
	return func(l *Loader) {
		l.protected = make(map[string]bool, len(names))
		for _, n := range names {
			l.protected[n] = true
		}
	}
}

// WithCodeCheck sets whether LoadAll scans sources. Load and LoadCompat
// always scan unless called with WithoutScan.
func WithCodeCheck(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.checkCode = enabled
	}
}

// NewLoader creates a loader that registers handlers on table.
func NewLoader(table dispatch.HandlerTable, opts ...LoaderOption) *Loader {
	l := &Loader{
		layout:    DefaultLayout(),
		registry:  NewRegistry(table),
		scanner:   scan.New(),
		logger:    logging.Discard(),
		checkCode: true,
		locks:     newKeyLocks(),
		states:    make(map[Key]State),
	}
	WithProtected(DefaultProtected...)(l)
	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.WithComponent("loader")
	if l.bus == nil {
		l.bus = event.NewBus()
	}
	if l.activator == nil {
		l.activator = NewLuaActivator(WithActivatorLogger(l.logger.WithComponent("unit")))
	}

	if l.meter != nil {
		m, err := NewMetrics(l.meter)
		if err != nil {
			l.logger.Warn("metrics disabled: %v", err)
		} else {
			l.metrics = m
			if _, err := m.observe(l.meter, l.registry); err != nil {
				l.logger.Warn("active unit gauge disabled: %v", err)
			}
		}
	} else {
		l.metrics = defaultMetrics()
	}
	return l
}

// Registry returns the active-unit registry.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Catalog returns the help catalog.
func (l *Loader) Catalog() *HelpCatalog {
	return l.registry.Catalog()
}

// Layout returns the unit directories.
func (l *Loader) Layout() Layout {
	return l.layout
}

// IsProtected reports whether Unload refuses name.
func (l *Loader) IsProtected(name string) bool {
	return l.protected[name]
}

// LoadOption configures a single load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	scan bool
}

// WithoutScan skips the source scan. The override is logged.
func WithoutScan() LoadOption {
	return func(o *loadOptions) {
		o.scan = false
	}
}

// Load validates, scans and activates the Standard unit name.
func (l *Loader) Load(ctx context.Context, name string, opts ...LoadOption) error {
	return l.load(ctx, Key{Kind: KindStandard, Name: name}, true, opts)
}

// LoadCompat validates, scans and activates the Compat unit name.
func (l *Loader) LoadCompat(ctx context.Context, name string, opts ...LoadOption) error {
	return l.load(ctx, Key{Kind: KindCompat, Name: name}, true, opts)
}

// Unload retires the Standard unit name and, if remove is set, deletes its
// directory. Removing a unit that is not active deletes its files.
func (l *Loader) Unload(ctx context.Context, name string, remove bool) error {
	return l.unload(ctx, Key{Kind: KindStandard, Name: name}, remove, false)
}

// UnloadCompat retires the Compat unit name and, if remove is set, deletes
// its file.
func (l *Loader) UnloadCompat(ctx context.Context, name string, remove bool) error {
	return l.unload(ctx, Key{Kind: KindCompat, Name: name}, remove, false)
}

func (l *Loader) load(ctx context.Context, key Key, defaultScan bool, opts []LoadOption) (err error) {
	start := time.Now()
	log := l.logger.WithFields(map[string]any{"unit": key.Name, "kind": key.Kind.String()})
	var items []string
	defer func() {
		l.finish(ctx, opLoad, key, start, err, items, log)
	}()

	o := loadOptions{scan: defaultScan}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ValidateName(key.Name); err != nil {
		return err
	}

	unlock := l.locks.Lock(key)
	defer unlock()

	d, err := l.layout.Validate(key.Kind, key.Name)
	if err != nil {
		return err
	}
	if l.registry.IsActive(key) {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, ErrAlreadyActive)
	}

	l.setState(key, StateValidated)
	defer l.setState(key, StateAbsent)

	if d.Manifest != nil && d.Manifest.Name != key.Name {
		log.Info("manifest name %q differs from directory", d.Manifest.Name)
	}

	sources, err := d.Read()
	if err != nil {
		return fmt.Errorf("%s unit %q: read sources: %w", key.Kind, key.Name, err)
	}
	if o.scan {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := l.scanner.AnalyzeSources(ctx, sources)
		if err != nil {
			var perr *scan.ParseError
			if errors.As(err, &perr) {
				return fmt.Errorf("%s unit %q: %w: %w", key.Kind, key.Name, ErrParse, err)
			}
			return fmt.Errorf("%s unit %q: scan: %w", key.Kind, key.Name, err)
		}
		if found.Cardinality() > 0 {
			items = scan.Sorted(found)
			return &SecurityError{Name: key.Name, Kind: key.Kind, Items: items}
		}
	} else {
		log.Warn("source scan skipped by operator override")
	}
	l.setState(key, StateScanned)

	unit, err := l.activator.Activate(ctx, d)
	if err != nil {
		return err
	}
	if err := l.registry.Admit(unit); err != nil {
		if cerr := unit.Close(); cerr != nil {
			log.Warn("close runtime after failed admission: %v", cerr)
		}
		return err
	}
	return nil
}

func (l *Loader) unload(ctx context.Context, key Key, remove, force bool) (err error) {
	start := time.Now()
	log := l.logger.WithFields(map[string]any{"unit": key.Name, "kind": key.Kind.String()})
	defer func() {
		l.finish(ctx, opUnload, key, start, err, nil, log)
	}()

	if err := ValidateName(key.Name); err != nil {
		return err
	}
	if !force && l.protected[key.Name] {
		return &ProtectedError{Name: key.Name}
	}

	unlock := l.locks.Lock(key)
	defer unlock()

	active := l.registry.IsActive(key)
	d, locErr := l.layout.Locate(key.Kind, key.Name)
	if locErr != nil && !active {
		return locErr
	}
	if !active && !remove {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, ErrNotActive)
	}

	var errs error
	if active {
		if err := l.registry.Remove(key); err != nil {
			log.Warn("unit retired with errors: %v", err)
			errs = multierr.Append(errs, err)
		}
	}
	if remove && d != nil {
		if err := Remove(d); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			log.Info("files removed: %s", d.Target())
		}
	}
	return errs
}

// finish records metrics, logs the outcome and notifies subscribers.
func (l *Loader) finish(ctx context.Context, op string, key Key, start time.Time, err error, items []string, log *logging.Logger) {
	l.metrics.record(ctx, op, key.Kind, err, time.Since(start))

	ev := Event{Kind: key.Kind, Name: key.Name, Err: err, Items: items}
	switch {
	case err == nil && op == opLoad:
		ev.Type = EventLoaded
		log.Info("unit loaded")
	case err == nil:
		ev.Type = EventUnloaded
		log.Info("unit unloaded")
	case errors.Is(err, ErrSecurityRejected):
		ev.Type = EventRejected
		log.Warn("unit rejected, flagged: %v", items)
	case errors.Is(err, ErrParse):
		ev.Type = EventRejected
		log.Warn("unit rejected: %v", err)
	default:
		ev.Type = EventFailed
		log.Error("%s failed: %v", op, err)
	}
	l.emit(ctx, ev)
}

// Status reports the lifecycle state of a unit name, including the
// intermediate states of a load in progress.
func (l *Loader) Status(kind Kind, name string) State {
	key := Key{Kind: kind, Name: name}
	if l.registry.IsActive(key) {
		return StateActive
	}
	l.statesMu.Lock()
	defer l.statesMu.Unlock()
	return l.states[key]
}

func (l *Loader) setState(key Key, s State) {
	l.statesMu.Lock()
	defer l.statesMu.Unlock()
	if s == StateAbsent {
		delete(l.states, key)
		return
	}
	l.states[key] = s
}

// Discover lists the units present on disk.
func (l *Loader) Discover() ([]*Descriptor, error) {
	return l.layout.Discover()
}

// LoadAll loads every valid unit on disk that is not already active,
// continuing past failures. Scanning follows the loader's code-check
// setting. The returned error combines every failure.
func (l *Loader) LoadAll(ctx context.Context) error {
	found, err := l.Discover()
	if err != nil {
		return err
	}

	var errs error
	for _, d := range found {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if d.Err != nil {
			errs = multierr.Append(errs, d.Err)
			continue
		}
		if l.registry.IsActive(d.Key()) {
			continue
		}
		if err := l.load(ctx, d.Key(), l.checkCode, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// UnloadAll retires every active unit in reverse admission order without
// deleting files. Protected units are included.
func (l *Loader) UnloadAll(ctx context.Context) error {
	keys := l.registry.Keys()
	slices.Reverse(keys)

	var errs error
	for _, key := range keys {
		if err := l.unload(ctx, key, false, true); err != nil && !errors.Is(err, ErrNotActive) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Check validates, scans and trial-activates a unit without admitting it.
// It returns the commands and handler count the unit would contribute.
func (l *Loader) Check(ctx context.Context, kind Kind, name string) (Info, error) {
	d, err := l.layout.Validate(kind, name)
	if err != nil {
		return Info{}, err
	}

	sources, err := d.Read()
	if err != nil {
		return Info{}, fmt.Errorf("%s unit %q: read sources: %w", kind, name, err)
	}
	found, err := l.scanner.AnalyzeSources(ctx, sources)
	if err != nil {
		var perr *scan.ParseError
		if errors.As(err, &perr) {
			return Info{}, fmt.Errorf("%s unit %q: %w: %w", kind, name, ErrParse, err)
		}
		return Info{}, err
	}
	if found.Cardinality() > 0 {
		return Info{}, &SecurityError{Name: name, Kind: kind, Items: scan.Sorted(found)}
	}

	unit, err := l.activator.Activate(ctx, d)
	if err != nil {
		return Info{}, err
	}
	defer unit.Close()
	return unit.info(), nil
}
