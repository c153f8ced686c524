package cli

import (
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/ardnew/tagscript/cli/cmd"
)

var (
	ErrReadData   = cmd.NewError("read binding file")
	ErrDataFormat = cmd.NewError("unsupported binding file format (want .yaml, .yml, .json or .toml)")
)

// loadBindings merges the top-level keys of each data file in order, then
// applies the --set overrides. Later sources win.
func loadBindings(files []string, set map[string]string) (map[string]any, error) {
	out := make(map[string]any)

	for _, file := range files {
		m, err := loadDataFile(file)
		if err != nil {
			return nil, err
		}

		maps.Copy(out, m)
	}

	for k, v := range set {
		out[k] = v
	}

	return out, nil
}

func loadDataFile(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, ErrReadData.With(slog.String("file", file)).Wrap(err)
	}

	var m map[string]any

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml", ".json":
		// JSON documents are valid YAML.
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, ErrDataFormat.With(slog.String("file", file))
	}

	if err != nil {
		return nil, ErrReadData.With(slog.String("file", file)).Wrap(err)
	}

	if m == nil {
		m = map[string]any{}
	}

	return m, nil
}
