package cli

import (
	"context"
	"io"

	"github.com/alecthomas/kong"

	"github.com/ardnew/tagscript/cli/cmd"
	"github.com/ardnew/tagscript/pkg"
)

// CLI is the top-level command-line interface for tagscript.
type CLI struct {
	Log    logConfig    `embed:"" group:"log"    prefix:"log-"`
	Pprof  pprofConfig  `embed:"" group:"pprof"  prefix:"pprof-"`
	Engine engineConfig `embed:"" group:"engine"`

	Version kong.VersionFlag `help:"Print version and exit." short:"V"`

	Render cmd.Render `cmd:"" default:"withargs" help:"Render templates"`
	Check  cmd.Check  `cmd:""                    help:"Parse templates and report errors"`
	Tags   cmd.Tags   `cmd:""                    help:"List the control tags"`
	Init   cmd.Init   `cmd:""                    help:"Write a configuration file from the current flags"`
}

// Run executes the tagscript CLI with the given context and arguments.
// The exit function is called with the appropriate exit code upon completion.
func Run(
	ctx context.Context,
	exit func(code int),
	args ...string,
) error {
	return run(ctx, exit, nil, nil, args...)
}

// run is Run with replaceable standard streams; nil selects the process
// streams.
func run(
	ctx context.Context,
	exit func(code int),
	stdout, stderr io.Writer,
	args ...string,
) error {
	var cli CLI

	err := mkdirAllRequired()
	if err != nil {
		return err
	}

	configFilePath := configPath(configYAML)

	vars := kong.Vars{
		"version":            pkg.Version,
		cmd.ConfigIdentifier: configFilePath,
		cmd.CacheIdentifier:  cacheDir(),
	}.
		CloneWith(cli.Log.vars()).
		CloneWith(cli.Pprof.vars()).
		CloneWith(cli.Engine.vars())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Pre-scan for logger flags so parse errors are logged as requested.
	cli.Log.scan(args)

	opts := []kong.Option{
		kong.Name(pkg.Name),
		kong.Description(pkg.Description),
		kong.UsageOnError(),
		kong.Exit(exit),
		kong.ExplicitGroups(
			[]kong.Group{cli.Log.group(), cli.Pprof.group(), cli.Engine.group()},
		),
		kong.BindSingletonProvider(func() context.Context {
			return ctx
		}),
		kong.ConfigureHelp(
			kong.HelpOptions{
				Compact:             true,
				Summary:             true,
				Tree:                true,
				NoExpandSubcommands: true,
			}),
		kong.Configuration(resolveTOML(configSection), configPath(configTOML)),
		kong.Configuration(resolve(configSection), configFilePath),
		vars,
	}

	if stdout != nil {
		opts = append(opts, kong.Writers(stdout, stderr))
	}

	parser, err := kong.New(&cli, opts...)
	if err != nil {
		return err
	}

	ktx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	defer cli.Log.start(ctx)()

	// [pprofConfig.start] is no-op unless built with tag pprof and enabled.
	defer cli.Pprof.start(ctx)()

	env, stop, err := cli.Engine.start(ctx)
	if err != nil {
		return err
	}
	defer stop()

	env.Stdout, env.Stderr = stdout, stderr

	ctx = cmd.WithContext(ctx, ktx)
	ctx = cmd.WithEnv(ctx, env)

	return ktx.Run(ctx, &cli)
}
