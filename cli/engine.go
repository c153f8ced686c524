package cli

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ardnew/tagscript/cli/cmd"
	"github.com/ardnew/tagscript/lang"
	"github.com/ardnew/tagscript/log"
	"github.com/ardnew/tagscript/sqlstore"
	"github.com/ardnew/tagscript/store"
)

type engineConfig struct {
	Root string            `default:"."  help:"Template root directory."                     short:"r" type:"existingdir"`
	Data []string          `             help:"Binding file(s): YAML, JSON or TOML."        short:"d" type:"existingfile"`
	Set  map[string]string `             help:"Bind a request variable (repeatable)."       short:"D" placeholder:"NAME=VALUE"`

	Datasource   map[string]string `help:"Register a datasource (repeatable)." placeholder:"NAME=DRIVER:DSN"`
	DefaultDS    string            `help:"Datasource used when t:query names none." name:"default-datasource"`
	QueryTimeout time.Duration     `default:"30s" help:"Per-statement query timeout."`

	Undefined       string `default:"strict"               enum:"strict,empty" help:"Undefined variable policy."`
	Raw             bool   `help:"Do not HTML-escape bound output."`
	MaxIterations   int    `default:"${maxIterations}"   help:"Iteration cap for condition loops."`
	MaxCallDepth    int    `default:"${maxCallDepth}"    help:"Function recursion cap."`
	MaxIncludeDepth int    `default:"${maxIncludeDepth}" help:"Nested include cap."`
	ExprCacheSize   int    `default:"${exprCacheSize}"   help:"Compiled expression cache capacity."`
	StringCacheSize int    `default:"${stringCacheSize}" help:"Parsed inline template cache capacity."`
}

func (engineConfig) vars() kong.Vars {
	return kong.Vars{
		"maxIterations":   strconv.Itoa(lang.DefaultMaxIterations),
		"maxCallDepth":    strconv.Itoa(lang.DefaultMaxCallDepth),
		"maxIncludeDepth": strconv.Itoa(lang.DefaultMaxIncludeDepth),
		"exprCacheSize":   strconv.Itoa(lang.DefaultExprCacheSize),
		"stringCacheSize": strconv.Itoa(lang.DefaultStringCacheSize),
	}
}

func (engineConfig) group() kong.Group {
	var group kong.Group

	group.Key = "engine"
	group.Title = "Rendering options"

	return group
}

// options translates the flags into engine options.
func (f *engineConfig) options(logger log.Logger) []lang.Option {
	policy, _ := lang.ParseUndefinedPolicy(f.Undefined)

	opts := []lang.Option{
		lang.WithLogger(logger),
		lang.WithUndefinedPolicy(policy),
		lang.WithMaxIterations(f.MaxIterations),
		lang.WithMaxCallDepth(f.MaxCallDepth),
		lang.WithMaxIncludeDepth(f.MaxIncludeDepth),
		lang.WithExprCacheSize(f.ExprCacheSize),
		lang.WithStringCacheSize(f.StringCacheSize),
	}

	if f.Raw {
		opts = append(opts, lang.WithEscaper(lang.NoEscaper{}))
	}

	return opts
}

// start assembles the command environment. The returned stop function
// closes any opened datasources.
func (f *engineConfig) start(ctx context.Context) (*cmd.Env, func(), error) {
	logger := log.Default()

	bindings, err := loadBindings(f.Data, f.Set)
	if err != nil {
		return nil, nil, err
	}

	env := &cmd.Env{
		Engine:   lang.New(lang.FSLoader{FS: os.DirFS(f.Root)}, f.options(logger)...),
		Sessions: store.NewManager(store.WithLogger(logger)),
		Bindings: bindings,
	}

	stop := func() {}

	if len(f.Datasource) > 0 {
		q := sqlstore.New(
			sqlstore.WithLogger(logger),
			sqlstore.WithDefault(f.DefaultDS),
			sqlstore.WithTimeout(f.QueryTimeout),
		)

		for _, name := range slices.Sorted(maps.Keys(f.Datasource)) {
			if err := q.Open(ctx, name, f.Datasource[name]); err != nil {
				_ = q.Close()

				return nil, nil, err
			}
		}

		env.Querier = q
		stop = func() {
			if err := q.Close(); err != nil {
				log.WarnContext(ctx, "closing datasources", slog.Any("error", err))
			}
		}
	}

	log.DebugContext(ctx, "engine ready",
		slog.String("root", f.Root),
		slog.Int("bindings", len(bindings)),
		slog.Int("datasources", len(f.Datasource)),
		slog.String("undefined", f.Undefined))

	return env, stop, nil
}
