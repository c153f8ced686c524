// Package log provides a concurrency-safe structured logger built on
// [log/slog].
//
// A [Logger] is a small value type. Its zero value discards everything, which
// lets library code accept a Logger through a functional option and log
// unconditionally:
//
//	type Engine struct{ logger log.Logger }
//
//	e.logger.TraceContext(ctx, "cache miss", slog.String("source", id))
//
// Hosts create a real logger with [Make]:
//
//	logger := log.Make(os.Stderr,
//		log.WithLevel(log.LevelDebug),
//		log.WithFormat(log.FormatText),
//		log.WithTimeLayout("RFC3339Nano"))
//
// # Levels
//
// In addition to the four slog levels, [LevelTrace] sits below
// [LevelDebug] for per-node and per-cache-lookup diagnostics.
//
// # Default logger
//
// The package-level functions ([Info], [Error], ...) write through a default
// logger that the command-line host reconfigures with [Config].
package log
