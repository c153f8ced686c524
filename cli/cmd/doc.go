// Package cmd implements the tagscript subcommands: render, check, tags and
// init.
package cmd

var (
	// CacheIdentifier is the kong variable identifier containing the path to
	// the runtime cache directory.
	CacheIdentifier = "cache"

	// ConfigIdentifier is the kong variable identifier containing the path to
	// the configuration file.
	ConfigIdentifier = "config"

	// ConfigSection is the top-level key of the configuration file holding
	// flag values.
	ConfigSection = "config"
)
