// Package loader provides config loaders for the config cache: local files,
// hardened HTTPS, S3, and a fallback chain combining them.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/logger"
)

// File loads model configs from a single JSON/YAML file, or from every
// JSON/YAML file under a directory (recursively). Directory results are
// sorted by model name so the list order is stable across filesystems.
func File(path string) configcache.Loader {
	return func(_ context.Context) ([]configcache.ModelConfig, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat config path %q: %w", path, err)
		}

		if !info.IsDir() {
			return readConfigFile(path)
		}

		var configs []configcache.ModelConfig
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isConfigFile(p) {
				return nil
			}
			fileConfigs, err := readConfigFile(p)
			if err != nil {
				return err
			}
			configs = append(configs, fileConfigs...)
			return nil
		})
		if err != nil {
			return nil, err
		}

		sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
		logger.Debugw("loaded model configs from directory", "path", path, "count", len(configs))
		return configs, nil
	}
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// readConfigFile parses one file. A file may hold either a single config
// object or a list of them.
func readConfigFile(path string) ([]configcache.ModelConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	configs, err := decodeConfigs(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return configs, nil
}

// decodeConfigs parses data as a list of configs, falling back to a single
// object. preferJSON selects the decoder tried first.
func decodeConfigs(data []byte, preferJSON bool) ([]configcache.ModelConfig, error) {
	type decoder struct {
		list   func() ([]configcache.ModelConfig, error)
		single func() (configcache.ModelConfig, error)
	}

	jsonDec := decoder{
		list: func() ([]configcache.ModelConfig, error) {
			var list []configcache.ModelConfig
			err := json.Unmarshal(data, &list)
			return list, err
		},
		single: func() (configcache.ModelConfig, error) {
			var one configcache.ModelConfig
			err := json.Unmarshal(data, &one)
			return one, err
		},
	}
	yamlDec := decoder{
		list: func() ([]configcache.ModelConfig, error) {
			var list []configcache.ModelConfig
			err := yaml.Unmarshal(data, &list)
			return list, err
		},
		single: func() (configcache.ModelConfig, error) {
			var one configcache.ModelConfig
			err := yaml.Unmarshal(data, &one)
			return one, err
		},
	}

	decoders := []decoder{jsonDec, yamlDec}
	if !preferJSON {
		decoders = []decoder{yamlDec, jsonDec}
	}

	var firstErr error
	for _, dec := range decoders {
		if list, err := dec.list(); err == nil {
			return list, nil
		} else if firstErr == nil {
			firstErr = err
		}
		if one, err := dec.single(); err == nil && one.ID != "" {
			return []configcache.ModelConfig{one}, nil
		}
	}
	return nil, firstErr
}
