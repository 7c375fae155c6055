package scan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
	"golang.org/x/sync/errgroup"
)

// DefaultFunctions are call targets that are rejected when called by
// plain name: code evaluation, process termination and account destruction.
var DefaultFunctions = []string{
	"exec",
	"eval",
	"load",
	"loadstring",
	"dofile",
	"exit",
	"DeleteAccount",
}

// DefaultModules are module names rejected in the require(name).f(...) shape.
var DefaultModules = []string{
	"os",
	"io",
	"debug",
}

// importFunc is the dynamic-import call whose result is inspected.
const importFunc = "require"

// ParseError is returned when source text cannot be parsed.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Scanner reports disallowed calls in Lua source.
// A Scanner is immutable after construction and safe for concurrent use.
type Scanner struct {
	functions mapset.Set[string]
	modules   mapset.Set[string]
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFunctions replaces the disallowed-function list.
func WithFunctions(names ...string) Option {
	return func(s *Scanner) {
		s.functions = mapset.NewThreadUnsafeSet(names...)
	}
}

// WithModules replaces the disallowed-module list.
func WithModules(names ...string) Option {
	return func(s *Scanner) {
		s.modules = mapset.NewThreadUnsafeSet(names...)
	}
}

// New creates a scanner with the default lists.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		functions: mapset.NewThreadUnsafeSet(DefaultFunctions...),
		modules:   mapset.NewThreadUnsafeSet(DefaultModules...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze parses src and returns the set of flagged items. The name is used
// in error messages only. An unparsable source returns a *ParseError.
func (s *Scanner) Analyze(name string, src []byte) (mapset.Set[string], error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, &ParseError{Source: name, Err: err}
	}

	found := mapset.NewSet[string]()
	walkStmts(chunk, func(call *ast.FuncCallExpr) {
		if item, ok := s.match(call); ok {
			found.Add(item)
		}
	})
	return found, nil
}

// match reports the flagged item for a single call, if any.
func (s *Scanner) match(call *ast.FuncCallExpr) (string, bool) {
	switch fn := call.Func.(type) {
	case *ast.IdentExpr:
		if s.functions.Contains(fn.Value) {
			return fn.Value, true
		}
	case *ast.AttrGetExpr:
		inner, ok := fn.Object.(*ast.FuncCallExpr)
		if !ok {
			return "", false
		}
		ident, ok := inner.Func.(*ast.IdentExpr)
		if !ok || ident.Value != importFunc || len(inner.Args) == 0 {
			return "", false
		}
		lit, ok := inner.Args[0].(*ast.StringExpr)
		if !ok {
			return "", false
		}
		if s.modules.Contains(lit.Value) {
			return lit.Value, true
		}
	}
	return "", false
}

// AnalyzeFile reads and analyzes a single file.
func (s *Scanner) AnalyzeFile(path string) (mapset.Set[string], error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Analyze(path, src)
}

// Source is Lua source text already read into memory.
type Source struct {
	Name string
	Code []byte
}

// AnalyzeSources analyzes sources concurrently and returns the union of
// their findings. The first parse error aborts the scan.
func (s *Scanner) AnalyzeSources(ctx context.Context, sources []Source) (mapset.Set[string], error) {
	return analyzeEach(ctx, len(sources), func(i int) (mapset.Set[string], error) {
		return s.Analyze(sources[i].Name, sources[i].Code)
	})
}

// AnalyzeFiles analyzes files concurrently and returns the union of their
// findings. The first read or parse error aborts the scan.
func (s *Scanner) AnalyzeFiles(ctx context.Context, paths []string) (mapset.Set[string], error) {
	return analyzeEach(ctx, len(paths), func(i int) (mapset.Set[string], error) {
		return s.AnalyzeFile(paths[i])
	})
}

func analyzeEach(ctx context.Context, n int, analyze func(i int) (mapset.Set[string], error)) (mapset.Set[string], error) {
	found := mapset.NewSet[string]()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			items, err := analyze(i)
			if err != nil {
				return err
			}
			found.Append(items.ToSlice()...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// Sorted returns the items of set in ascending order, or nil when the set
// is empty.
func Sorted(set mapset.Set[string]) []string {
	if set == nil || set.Cardinality() == 0 {
		return nil
	}
	items := set.ToSlice()
	sort.Strings(items)
	return items
}
