package lang

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/tagscript/log"
)

// DefaultMaxIncludeDepth caps nested t:include.
const DefaultMaxIncludeDepth = 32

// Engine renders templates. It owns the template and expression caches and
// is safe for concurrent renders.
type Engine struct {
	loader    Loader
	templates *TemplateCache
	exprs     *ExprCache
	registry  *Registry
	logger    log.Logger
	escaper   Escaper

	exprCacheSize   int
	stringCacheSize int
	maxIterations   int
	maxCallDepth    int
	maxIncludeDepth int
	undefined       UndefinedPolicy
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger used for render diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithExprCacheSize sets the capacity of the compiled expression cache.
func WithExprCacheSize(n int) Option {
	return func(e *Engine) { e.exprCacheSize = n }
}

// WithStringCacheSize sets how many anonymous sources RenderString keeps
// parsed.
func WithStringCacheSize(n int) Option {
	return func(e *Engine) { e.stringCacheSize = n }
}

// WithMaxIterations caps the iterations of a condition loop.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxCallDepth caps function recursion.
func WithMaxCallDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCallDepth = n
		}
	}
}

// WithMaxIncludeDepth caps nested includes.
func WithMaxIncludeDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIncludeDepth = n
		}
	}
}

// WithUndefinedPolicy selects how references to undefined variables behave.
func WithUndefinedPolicy(p UndefinedPolicy) Option {
	return func(e *Engine) { e.undefined = p }
}

// WithEscaper replaces the escaper applied to binding output.
func WithEscaper(esc Escaper) Option {
	return func(e *Engine) {
		if esc != nil {
			e.escaper = esc
		}
	}
}

// WithRegistry replaces the control tag registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

func applyDefaults(e *Engine) {
	e.exprCacheSize = DefaultExprCacheSize
	e.stringCacheSize = DefaultStringCacheSize
	e.maxIterations = DefaultMaxIterations
	e.maxCallDepth = DefaultMaxCallDepth
	e.maxIncludeDepth = DefaultMaxIncludeDepth
	e.escaper = HTMLEscaper{}
}

// DefaultRegistry returns the core control tags plus the bundled
// extensions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(MarkdownTag())

	return r
}

// New returns an engine loading sources through loader.
func New(loader Loader, opts ...Option) *Engine {
	e := &Engine{loader: loader}

	applyDefaults(e)

	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = DefaultRegistry()
	}

	e.exprs = NewExprCache(e.exprCacheSize)
	e.templates = newTemplateCache(loader, e.logger, e.Parse, e.stringCacheSize)

	return e
}

// Parse parses text with the engine's registry and expression cache,
// without consulting the template cache.
func (e *Engine) Parse(source, text string) (*Template, error) {
	return Parse(source, text,
		WithParseRegistry(e.registry),
		WithParseExprCache(e.exprs))
}

// Registry returns the engine's control tag registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Templates returns the template cache.
func (e *Engine) Templates() *TemplateCache { return e.templates }

// Exprs returns the compiled expression cache.
func (e *Engine) Exprs() *ExprCache { return e.exprs }

// Request carries everything one render needs besides the template.
type Request struct {
	// Source identifies the template to load.
	Source string
	// Bindings seed the request scope. They are copied.
	Bindings map[string]any
	// Store backs the session and application scopes.
	Store Store
	// Querier executes t:query; nil disables queries.
	Querier Querier
}

// Render loads, parses (or reuses) and executes req.Source.
func (e *Engine) Render(ctx context.Context, req Request) (string, error) {
	t, err := e.templates.Get(ctx, req.Source)
	if err != nil {
		return "", err
	}

	return e.Execute(ctx, t, req)
}

// RenderString executes text as an anonymous template identified by
// req.Source. Parses are cached by source and content.
func (e *Engine) RenderString(ctx context.Context, text string, req Request) (string, error) {
	t, err := e.templates.GetString(ctx, req.Source, text)
	if err != nil {
		return "", err
	}

	return e.Execute(ctx, t, req)
}

// Check loads and parses id, reporting any error without rendering.
func (e *Engine) Check(ctx context.Context, id string) (*Template, error) {
	return e.templates.Get(ctx, id)
}

// Execute runs an already parsed template.
func (e *Engine) Execute(ctx context.Context, t *Template, req Request) (string, error) {
	logger := e.logger.With(
		slog.String("render", uuid.NewString()),
		slog.String("source", t.Source),
	)

	scope := NewContext(maps.Clone(req.Bindings), req.Store)
	scope.SetUndefinedPolicy(e.undefined)

	in := &Interp{
		ctx:     ctx,
		engine:  e,
		scope:   scope,
		querier: req.Querier,
		logger:  logger,
		out:     new(strings.Builder),
		funcs:   make(map[string]*FuncDef),
		source:  t.Source,
	}

	in.hoist(t)

	start := time.Now()

	err := in.Exec(t.Nodes)
	if s, ok := asSignal(err); ok {
		err = strayControl(s)
	}

	if err != nil {
		logger.DebugContext(ctx, "render failed",
			slog.Any("error", err),
			slog.Duration("elapsed", time.Since(start)))

		return "", err
	}

	logger.DebugContext(ctx, "rendered",
		slog.Int("bytes", in.out.Len()),
		slog.Duration("elapsed", time.Since(start)))

	return in.out.String(), nil
}

// strayControl converts a break, continue or return that escaped every
// enclosing construct into an error.
func strayControl(s *signal) error {
	if s.kind == sigReturn {
		return ErrReturnOutsideFunction.WithPosition(s.at)
	}

	return ErrNesting.With(
		slog.String("tag", TagPrefix+s.Error()),
		slog.String("reason", "outside a loop"),
	).WithPosition(s.at)
}
