package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/modgate/internal/dispatch"
)

type fixture struct {
	t      *testing.T
	layout Layout
	router *dispatch.Router
	loader *Loader
}

func newFixture(t *testing.T, opts ...LoaderOption) *fixture {
	t.Helper()
	root := t.TempDir()
	layout := Layout{
		ModulesDir: filepath.Join(root, DefaultModulesDir),
		CompatDir:  filepath.Join(root, DefaultCompatDir),
	}
	require.NoError(t, layout.Ensure())

	router := dispatch.NewRouter()
	loader := NewLoader(router, append([]LoaderOption{WithLayout(layout)}, opts...)...)
	t.Cleanup(func() { _ = loader.UnloadAll(context.Background()) })

	return &fixture{t: t, layout: layout, router: router, loader: loader}
}

const defaultManifest = `{"name": "%s", "version": "1.0.0"}`

// standard writes a Standard unit. An empty manifest skips module.json.
func (f *fixture) standard(name, manifest, main string) string {
	f.t.Helper()
	dir := filepath.Join(f.layout.ModulesDir, name)
	require.NoError(f.t, os.MkdirAll(filepath.Join(dir, SourcesDir), 0o755))
	if manifest != "" {
		require.NoError(f.t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))
	}
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, SourcesDir, MainFile), []byte(main), 0o644))
	return dir
}

func (f *fixture) compat(name, src string) string {
	f.t.Helper()
	path := filepath.Join(f.layout.CompatDir, name+SourceExt)
	require.NoError(f.t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// dispatch sends text as the host account and returns the replies.
func (f *fixture) dispatch(text string) []string {
	f.t.Helper()
	var mu sync.Mutex
	var replies []string
	ev := dispatch.NewEvent(0, true, text)
	ev.Reply = func(s string) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, s)
	}
	for _, res := range f.router.Dispatch(context.Background(), ev) {
		require.False(f.t, res.IsPanic(), "handler panicked: %v", res.PanicValue)
	}
	return replies
}

const greeterMain = `
greeter = {
    handlers = {
        { function(event) return "hello " .. event.text end, 0 },
    },
}

function hello_cmd() end
`

// fakeCloser records Close calls.
type fakeCloser struct {
	mu     sync.Mutex
	closed int
	err    error
}

func (c *fakeCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.err
}

func (c *fakeCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func noopHandler() dispatch.Handler {
	return dispatch.NewHandlerFunc(func(context.Context, any) error { return nil })
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
