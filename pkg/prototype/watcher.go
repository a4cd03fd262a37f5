package prototype

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/seidata/curator/pkg/log"
)

// Watcher ingests prototype files dropped into the prototype directory
// without requiring an admin RPC.
type Watcher struct {
	registry *Registry
	dir      string
}

// NewWatcher creates a prototype directory watcher.
func NewWatcher(registry *Registry, dir string) *Watcher {
	return &Watcher{registry: registry, dir: dir}
}

// Run watches the prototype directory until the context is cancelled.
// The directory is scanned once on startup so files written while the
// service was down are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponent("prototype-watcher")

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create prototype directory: %w", err)
	}

	if added, err := w.registry.IngestDir(w.dir); err != nil {
		logger.Error().Err(err).Msg("initial prototype scan failed")
	} else if added > 0 {
		logger.Info().Int("added", added).Msg("prototypes ingested on startup")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch prototype directory: %w", err)
	}
	logger.Info().Str("dir", w.dir).Msg("watching prototype directory")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isPrototypeFile(filepath.Base(event.Name)) {
				continue
			}
			data, err := os.ReadFile(event.Name)
			if err != nil {
				logger.Error().Err(err).Str("file", event.Name).Msg("failed to read prototype file")
				continue
			}
			if _, isNew, err := w.registry.Ingest(data); err != nil {
				logger.Error().Err(err).Str("file", event.Name).Msg("failed to ingest prototype file")
			} else if isNew {
				logger.Info().Str("file", event.Name).Msg("prototype ingested from watcher")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("prototype watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
