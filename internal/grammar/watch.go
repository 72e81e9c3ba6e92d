package grammar

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultSettle = 250 * time.Millisecond

// Watch reloads the grammar whenever the file changes and hands each
// successfully parsed version to onChange. Editors often write a file in
// several steps, so bursts of events are coalesced. Watch blocks until ctx
// is done.
func Watch(ctx context.Context, path string, settle time.Duration, logger zerolog.Logger, onChange func(Grammar)) error {
	if settle <= 0 {
		settle = defaultSettle
	}
	logger = logger.With().Str("component", "grammar").Str("path", path).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create grammar watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-on-save is observed.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch grammar directory: %w", err)
	}

	target := filepath.Clean(path)
	debounced := debounce.New(settle)
	reload := func() {
		g, err := Load(path)
		if err != nil {
			logger.Warn().Err(err).Msg("grammar reload failed, keeping previous commands")
			return
		}
		logger.Info().Int("commands", len(g.Commands)).Msg("grammar reloaded")
		onChange(g)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("grammar watcher error")
		}
	}
}
