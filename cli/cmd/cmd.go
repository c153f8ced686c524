package cmd

import (
	"context"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/ardnew/tagscript/lang"
	"github.com/ardnew/tagscript/sqlstore"
	"github.com/ardnew/tagscript/store"
)

// ContextKey is used to store a [kong.Context] value in [context.Context].
type contextKey struct{}

// WithContext returns a new context.Context containing the given kong.Context.
func WithContext(ctx context.Context, ktx *kong.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ktx)
}

func kongContextFrom(ctx context.Context) *kong.Context {
	ktx, ok := ctx.Value(contextKey{}).(*kong.Context)
	if !ok || ktx == nil {
		return nil
	}

	return ktx
}

// Env is the rendering environment shared by all commands.
type Env struct {
	Engine   *lang.Engine
	Querier  *sqlstore.Querier // nil without datasources
	Sessions *store.Manager
	Bindings map[string]any

	Stdout io.Writer
	Stderr io.Writer
}

type envKey struct{}

// WithEnv returns a new context.Context carrying env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func envFrom(ctx context.Context) *Env {
	env, ok := ctx.Value(envKey{}).(*Env)
	if !ok || env == nil {
		panic("internal error: command environment undefined")
	}

	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}

	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}

	return env
}

// request builds a render request for source with the shared bindings.
func (e *Env) request(source, session string) lang.Request {
	req := lang.Request{Source: source, Bindings: e.Bindings}

	if e.Querier != nil {
		req.Querier = e.Querier
	}

	if e.Sessions != nil {
		req.Store = e.Sessions.Session(session)
	}

	return req
}
