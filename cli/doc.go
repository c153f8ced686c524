// Package cli contains the command line interface for tagscript.
//
// # Usage
//
//	tagscript [flags] render <template>...   (default command)
//	tagscript [flags] check [--ast] <template>...
//	tagscript tags
//	tagscript init [--force]
//
// Template paths are resolved against --root. Request bindings come from
// --data files (YAML, JSON or TOML, merged in order) and --set NAME=VALUE
// overrides. Session and application scopes live in memory for the duration
// of one invocation.
//
// # Datasources
//
// t:query statements run against datasources registered with
// --datasource NAME=SPEC, where SPEC is driver:dsn or a URL:
//
//	tagscript --datasource main=sqlite:app.db render report.html
//	tagscript --datasource pg=postgres://u@localhost/app render report.html
//
// # Configuration
//
// Flag defaults are read from the "config" section of config.toml and
// config.yaml (in that order, YAML winning) in the user configuration
// directory, overridable with $TAGSCRIPT_CONFIG_DIR. The init command writes
// config.yaml from the flags given to it.
//
// # Logging Options
//
//   - --log-level: Set minimum log level (trace, debug, info, warn, error)
//   - --log-format: Set log output format (json, text)
//   - --log-time-layout: Set timestamp format (RFC3339, RFC3339Nano, none, ...)
//   - --log-caller: Include caller information in log output
//
// # Profiling Options
//
// Profiling is only available when built with the pprof build tag:
//
//	go build -tags pprof .
//
//   - --pprof-mode: Enable profiling (allocs, block, clock, cpu, goroutine,
//     heap, mem, mutex, thread, trace)
//   - --pprof-dir: Set profile output directory
package cli
