package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modgate/internal/config"
	"github.com/dshills/modgate/internal/event"
	"github.com/dshills/modgate/internal/event/events"
	"github.com/dshills/modgate/internal/logging"
	"github.com/dshills/modgate/internal/plugin"
)

// staticOwners is an in-memory roster.
type staticOwners struct {
	ids    map[int64]bool
	closed bool
}

func (s *staticOwners) IsOwner(id int64) bool { return s.ids[id] }
func (s *staticOwners) Close() error          { s.closed = true; return nil }

type harness struct {
	t      *testing.T
	cfg    *config.Config
	owners *staticOwners
	app    *Application
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ModulesDir = filepath.Join(root, "modules")
	cfg.CompatDir = filepath.Join(root, "dragon_modules")
	cfg.RosterPath = filepath.Join(root, "roster.db")
	cfg.Autoload = false
	cfg.SettleDelay = 20 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	require.NoError(t, cfg.Layout().Ensure())

	owners := &staticOwners{ids: map[int64]bool{100: true}}
	app, err := New(Options{Config: &cfg, Logger: logging.Discard(), Owners: owners, Version: "test"})
	require.NoError(t, err)
	return &harness{t: t, cfg: &cfg, owners: owners, app: app}
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.app.Start(context.Background()))
	h.t.Cleanup(func() { _ = h.app.Shutdown(context.Background()) })
}

func (h *harness) standard(name, main string) string {
	h.t.Helper()
	dir := filepath.Join(h.cfg.ModulesDir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Join(dir, plugin.SourcesDir), 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(`{"version": "1.0.0"}`), 0o644))
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, plugin.SourcesDir, plugin.MainFile), []byte(main), 0o644))
	return dir
}

func (h *harness) compat(name, src string) string {
	h.t.Helper()
	path := filepath.Join(h.cfg.CompatDir, name+plugin.SourceExt)
	require.NoError(h.t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func (h *harness) say(text string) []string {
	return h.app.Handle(context.Background(), 0, true, text)
}

const echoMain = `
echo = { handlers = { { function(e) return "echo " .. e.text end, 0 } } }
function echo_cmd() end
`

func TestOperatorLoadUnload(t *testing.T) {
	h := newHarness(t)
	h.start()
	dir := h.standard("echo", echoMain)

	assert.Equal(t, []string{"Loaded echo (1 handlers, commands: echo)"}, h.say(".load echo"))
	assert.Equal(t, []string{"echo hi"}, h.say("hi"))
	assert.Equal(t, []string{"echo [standard] v1.0.0"}, h.say(".list"))
	assert.Equal(t, []string{"echo: echo"}, h.say(".help"))

	assert.Equal(t, []string{"Unloaded echo"}, h.say(".unload echo"))
	assert.Empty(t, h.say("hi"))
	assert.DirExists(t, dir)

	h.say(".load echo")
	assert.Equal(t, []string{"Unloaded echo and removed its files"}, h.say(".unload echo -r"))
	assert.NoDirExists(t, dir)
}

func TestOperatorReportsFailures(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("bad", `function x_cmd() exec("boom") end`)
	h.standard("core", `x = 1`)

	assert.Equal(t, []string{"Rejected bad: flagged exec"}, h.say(".load bad"))

	reply := h.say(".load missing")
	require.Len(t, reply, 1)
	assert.True(t, strings.HasPrefix(reply[0], "Cannot load missing:"), reply[0])

	h.say(".load core")
	reply = h.say(".unload core -r")
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "protected")

	assert.Equal(t, []string{"Usage: .load <name> [-f]"}, h.say(".load"))
	assert.Equal(t, []string{"Usage: .unloadcompat <name> [-r]"}, h.say(".unloadcompat"))
}

func TestLifecycleEventsReachBus(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("echo", echoMain)

	var loaded []string
	_, err := h.app.Bus().Subscribe(events.TopicUnitLoaded, event.AsHandler(func(_ context.Context, e event.Event[plugin.Event]) error {
		loaded = append(loaded, e.Payload.Name)
		return nil
	}))
	require.NoError(t, err)
	_, err = h.app.Bus().SubscribeFunc(events.TopicUnitLoaded, func(context.Context, any) error {
		panic("subscriber bug")
	}, event.WithPriority(event.PriorityCritical))
	require.NoError(t, err)

	assert.Equal(t, []string{"Loaded echo (1 handlers, commands: echo)"}, h.say(".load echo"))
	assert.Equal(t, []string{"echo"}, loaded)
	assert.Equal(t, uint64(1), h.app.Bus().Stats().Panicked)
}

func TestOperatorForceLoad(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("trusted", `function run_cmd() eval("1") end`)

	assert.Equal(t, []string{"Loaded trusted (0 handlers, commands: run)"}, h.say(".load trusted -f"))
}

func TestOperatorCompat(t *testing.T) {
	h := newHarness(t)
	h.start()
	path := h.compat("legacy", `
modules_help["legacy"] = { ["ping [n]"] = "reply pong" }
legacy = { handlers = { { function(e) if e.text == "ping" then return "pong" end end, 0 } } }
`)

	assert.Equal(t, []string{"Loaded legacy (1 handlers, commands: ping)"}, h.say(".loadcompat legacy"))
	assert.Equal(t, []string{"pong"}, h.say("ping"))
	assert.Equal(t, []string{"legacy (compat): ping\n  .ping [n] - reply pong"}, h.say(".help legacy"))
	assert.Equal(t, []string{"Unit other is not loaded"}, h.say(".help other"))

	assert.Equal(t, []string{"Unloaded legacy and removed its files"}, h.say(".unloadcompat legacy -r"))
	assert.NoFileExists(t, path)
	assert.Equal(t, []string{"No units loaded"}, h.say(".list"))
}

func TestOperatorOwnersOnly(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("echo", echoMain)
	ctx := context.Background()

	// A stranger's command is not run; it reaches units as plain text.
	assert.Empty(t, h.app.Handle(ctx, 7, false, ".load echo"))
	assert.Equal(t, plugin.StateAbsent, h.app.Loader().Status(plugin.KindStandard, "echo"))

	assert.Equal(t, []string{"Loaded echo (1 handlers, commands: echo)"}, h.app.Handle(ctx, 100, false, ".load echo"))
	assert.Equal(t, []string{"echo .list"}, h.app.Handle(ctx, 7, false, ".list"))
}

func TestUnitsReachHostModules(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("who", `
local host = require("modgate")
local text = require("text")
who = { handlers = { { function(e)
    local words = text.words(e.text)
    if words[1] ~= "who" then return nil end
    local names = {}
    for _, u in ipairs(host.units()) do table.insert(names, u.name) end
    return host.version .. ":" .. table.concat(names, ",") .. ":" .. tostring(host.is_owner(e.from))
end, 0 } } }
`)

	h.say(".load who")
	assert.Equal(t, []string{"test:who:false"}, h.say("who"))
	assert.Equal(t, []string{"test:who:true"}, h.app.Handle(context.Background(), 100, false, "who am i"))
}

func TestStartAutoloadAndShutdown(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Autoload = true })
	h.standard("echo", echoMain)
	h.standard("bad", `exec()`)
	h.compat("legacy", `x = 1`)

	require.NoError(t, h.app.Start(context.Background()))
	assert.ErrorIs(t, h.app.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, 2, h.app.Loader().Registry().Len())

	require.NoError(t, h.app.Shutdown(context.Background()))
	assert.Equal(t, 0, h.app.Loader().Registry().Len())
	assert.True(t, h.owners.closed)
	// Only the operator handler is left.
	assert.Equal(t, 1, h.app.Router().Len())
}

func TestWatchLoadsNewUnits(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Watch = true })
	h.start()

	path := h.compat("hot", `hot = { handlers = { { function() return "warm" end, 0 } } }`)
	require.Eventually(t, func() bool {
		return h.app.Loader().Status(plugin.KindCompat, "hot") == plugin.StateActive
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return h.app.Loader().Status(plugin.KindCompat, "hot") == plugin.StateAbsent
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.standard("echo", echoMain)

	in := strings.NewReader(".load echo\n\n  hello  \n.unload echo\n")
	var out bytes.Buffer
	require.NoError(t, h.app.Run(context.Background(), in, &out))

	assert.Equal(t, "Loaded echo (1 handlers, commands: echo)\necho hello\nUnloaded echo\n", out.String())
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInitialization)

	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "config", ierr.Component)
}

func TestNewOpensRoster(t *testing.T) {
	cfg := config.DefaultConfig()
	root := t.TempDir()
	cfg.ModulesDir = filepath.Join(root, "m")
	cfg.CompatDir = filepath.Join(root, "c")
	cfg.RosterPath = filepath.Join(root, "data", "roster.db")

	app, err := New(Options{Config: &cfg, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.FileExists(t, cfg.RosterPath)
	require.NoError(t, app.Shutdown(context.Background()))
}
