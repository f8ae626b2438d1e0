package loader

import (
	"context"
	"errors"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/logger"
)

// Chain tries each source in order and returns the first non-empty result.
// A failing or empty source falls through to the next, so a backup source
// (local files, typically) can cover for an unreachable primary (S3 or
// HTTPS). If every source fails, the first error is returned; if every
// source succeeds but yields nothing, the result is an empty list.
func Chain(sources ...configcache.Loader) configcache.Loader {
	return func(ctx context.Context) ([]configcache.ModelConfig, error) {
		if len(sources) == 0 {
			return nil, errors.New("config loader chain has no sources")
		}

		var firstErr error
		allFailed := true
		for i, source := range sources {
			configs, err := source(ctx)
			if err != nil {
				logger.Warnw("config source failed, trying next", "source", i, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			allFailed = false
			if len(configs) > 0 {
				return configs, nil
			}
			logger.Debugw("config source returned no entries, trying next", "source", i)
		}

		if allFailed {
			return nil, firstErr
		}
		return nil, nil
	}
}
