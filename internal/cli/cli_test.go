package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modgate/internal/plugin"
)

type fixture struct {
	t       *testing.T
	root    string
	modules string
	compat  string
	config  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		t:       t,
		root:    root,
		modules: filepath.Join(root, "modules"),
		compat:  filepath.Join(root, "dragon_modules"),
		config:  filepath.Join(root, "modgate.yaml"),
	}
	require.NoError(t, os.MkdirAll(f.modules, 0o755))
	require.NoError(t, os.MkdirAll(f.compat, 0o755))

	f.writeConfig(false)
	return f
}

func (f *fixture) writeConfig(autoload bool) {
	f.t.Helper()
	cfg := "modules_dir: " + f.modules + "\n" +
		"compat_dir: " + f.compat + "\n" +
		"roster_path: " + filepath.Join(f.root, "data", "roster.db") + "\n" +
		"autoload: " + strconv.FormatBool(autoload) + "\n" +
		"log_level: error\n"
	require.NoError(f.t, os.WriteFile(f.config, []byte(cfg), 0o644))
}

func (f *fixture) standard(name, version, main string) string {
	f.t.Helper()
	dir := filepath.Join(f.modules, name)
	require.NoError(f.t, os.MkdirAll(filepath.Join(dir, plugin.SourcesDir), 0o755))
	manifest := `{"version": "` + version + `"}`
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o644))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, plugin.SourcesDir, plugin.MainFile), []byte(main), 0o644))
	return dir
}

func (f *fixture) compatUnit(name, src string) string {
	f.t.Helper()
	path := filepath.Join(f.compat, name+plugin.SourceExt)
	require.NoError(f.t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// run executes modgate with the fixture config and returns stdout.
func (f *fixture) run(stdin string, args ...string) (string, error) {
	root := NewRootCommand(BuildInfo{Version: "1.2.3", Commit: "abc", Date: "today"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", f.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const greetMain = `
greet = { handlers = { { function(e) return "hello " .. e.text end, 0 } } }
function greet_cmd() end
`

func TestVersion(t *testing.T) {
	f := newFixture(t)

	out, err := f.run("", "version")
	require.NoError(t, err)
	assert.Equal(t, "modgate version 1.2.3 (commit: abc, built: today)\n", out)

	out, err = f.run("", "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, map[string]string{"version": "1.2.3", "commit": "abc", "date": "today"}, info)
}

func TestScan(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	clean := filepath.Join(dir, "clean.lua")
	bad := filepath.Join(dir, "nested", "bad.lua")
	require.NoError(t, os.WriteFile(clean, []byte(`print("hi")`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`require("io").open("x") exec("y")`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`exec()`), 0o644))

	out, err := f.run("", "scan", dir)
	assert.ErrorIs(t, err, ErrFlagged)
	assert.Equal(t, clean+": ok\n"+bad+": exec, io\n", out)

	out, err = f.run("", "scan", "-q", clean)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = f.run("", "scan", filepath.Join(dir, "missing.lua"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = f.run("", "scan")
	assert.Error(t, err)
}

func TestScanFollowsSymlinkedDirs(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(f.root, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	bad := filepath.Join(outside, "bad.lua")
	require.NoError(t, os.WriteFile(bad, []byte(`dofile("x")`), 0o644))

	dir := filepath.Join(f.root, "src")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "linked")))

	out, err := f.run("", "scan", "-q", dir)
	assert.ErrorIs(t, err, ErrFlagged)
	assert.Contains(t, out, "bad.lua: dofile")
}

func TestScanReportsParseErrors(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.root, "broken.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function (`), 0o644))

	out, err := f.run("", "scan", path)
	assert.ErrorIs(t, err, ErrFlagged)
	assert.True(t, strings.HasPrefix(out, path+": parse "), out)
}

func TestList(t *testing.T) {
	f := newFixture(t)

	out, err := f.run("", "list")
	require.NoError(t, err)
	assert.Equal(t, "No units found.\n", out)

	f.standard("greet", "1.0.0", greetMain)
	f.standard("broken", "not-a-version", greetMain)
	f.compatUnit("legacy", `x = 1`)

	out, err = f.run("", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^NAME\s+KIND\s+VERSION\s+STATUS$`, lines[0])
	assert.Contains(t, out, "greet")
	assert.Regexp(t, `greet\s+standard\s+1\.0\.0\s+ok`, out)
	assert.Regexp(t, `legacy\s+compat\s+-\s+ok`, out)
	assert.Regexp(t, `broken\s+standard\s+-\s+.*invalid`, out)
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	f.standard("greet", "1.0.0", greetMain)
	f.standard("bad", "1.0.0", `function x_cmd() dofile("x") end`)
	f.compatUnit("legacy", `modules_help["legacy"] = { ["ping"] = "pong" }`)

	out, err := f.run("", "check", "greet")
	require.NoError(t, err)
	assert.Equal(t, "greet: ok (1 handlers, commands: greet)\n", out)

	out, err = f.run("", "check", "bad")
	assert.ErrorIs(t, err, ErrFlagged)
	assert.Equal(t, "bad: flagged dofile\n", out)

	out, err = f.run("", "check", "--compat", "legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy: ok (0 handlers, commands: ping)\n", out)

	_, err = f.run("", "check", "missing")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	dir := f.standard("greet", "1.0.0", greetMain)
	path := f.compatUnit("legacy", `x = 1`)
	f.standard("core", "1.0.0", `x = 1`)

	out, err := f.run("", "remove", "greet")
	require.NoError(t, err)
	assert.Equal(t, "Removed "+dir+"\n", out)
	assert.NoDirExists(t, dir)

	_, err = f.run("", "remove", "--compat", "legacy")
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	_, err = f.run("", "remove", "core")
	assert.ErrorIs(t, err, plugin.ErrProtected)
	assert.DirExists(t, filepath.Join(f.modules, "core"))

	_, err = f.run("", "remove", "greet")
	assert.ErrorIs(t, err, plugin.ErrNotFound)

	_, err = f.run("", "remove", "../etc")
	assert.ErrorIs(t, err, plugin.ErrInvalidName)
}

func TestOwners(t *testing.T) {
	f := newFixture(t)

	out, err := f.run("", "owners", "list")
	require.NoError(t, err)
	assert.Equal(t, "No owners.\n", out)

	out, err = f.run("", "owners", "add", "42", "7")
	require.NoError(t, err)
	assert.Equal(t, "Added 42\nAdded 7\n", out)

	out, err = f.run("", "owners", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "7 "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "42 "), lines[2])

	_, err = f.run("", "owners", "remove", "7")
	require.NoError(t, err)
	out, err = f.run("", "owners", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "\n7 ")

	_, err = f.run("", "owners", "add", "nope")
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	f := newFixture(t)
	dir := f.standard("greet", "1.0.0", greetMain)

	in := ".load greet\nworld\n.list\n.unload greet -r\nworld\n"
	out, err := f.run(in, "serve")
	require.NoError(t, err)
	assert.Equal(t, "Loaded greet (1 handlers, commands: greet)\n"+
		"hello world\n"+
		"greet [standard] v1.0.0\n"+
		"Unloaded greet and removed its files\n", out)
	assert.NoDirExists(t, dir)
}

func TestServeAutoload(t *testing.T) {
	f := newFixture(t)
	f.standard("greet", "1.0.0", greetMain)
	f.compatUnit("legacy", `exec("rm")`)
	f.writeConfig(true)

	out, err := f.run(".list\n", "serve")
	require.NoError(t, err)
	assert.Equal(t, "greet [standard] v1.0.0\n", out)

	out, err = f.run(".list\n", "serve", "--no-autoload")
	require.NoError(t, err)
	assert.Equal(t, "No units loaded\n", out)
}

func TestBadConfig(t *testing.T) {
	f := newFixture(t)

	_, err := f.run("", "list", "--log-level", "loud")
	assert.Error(t, err)

	root := NewRootCommand(BuildInfo{})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", filepath.Join(f.root, "nope.yaml"), "list"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}
