// Package profile provides optional runtime profiling for the tagscript
// command.
//
// Profiling is compiled in only with the "pprof" build tag:
//
//	go build -tags pprof .
//
// Without the tag, [Profiler.Start] is a no-op and [Modes] is empty.
//
// A profile is started with a mode and an output directory:
//
//	p := profile.Profiler{Mode: "cpu", Path: "/tmp/profiles", Quiet: true}
//	defer p.Start().Stop()
//
// Profiles are written as <mode>.pprof and analyzed with go tool pprof:
//
//	go tool pprof -http=: /tmp/profiles/cpu.pprof
//
// With the tag, [net/http/pprof] handlers are registered as well, so hosts
// that serve HTTP expose /debug/pprof/.
package profile

// Tag is the build tag required to enable pprof profiling.
const Tag = `pprof`
