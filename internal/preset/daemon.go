package preset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const fallbackInterval = 5 * time.Minute

// Watch runs a background loop that reloads the preset file when it
// changes on disk, with a periodic fallback reload in case events are
// missed. Panics are recovered in the refresh function. The loop exits
// when the context is cancelled.
func Watch(ctx context.Context, store *Store, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create preset file watcher: %w", err)
	}
	defer watcher.Close()

	// watch the containing directory: editors typically replace the file
	// via rename, which drops a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not watch preset directory: %w", err)
	}

	refresh(ctx, store, path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			refresh(ctx, store, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("preset file watcher error")

		case <-time.After(fallbackInterval):
			refresh(ctx, store, path)

		case <-ctx.Done():
			log.Info().Msg("preset refresh shutting down gracefully")
			return nil
		}
	}
}

// refresh performs a single preset reload with tracing.
func refresh(ctx context.Context, store *Store, path string) {
	tracer := otel.Tracer("github.com/multistock/meli-bridge/internal/preset")
	_, span := tracer.Start(ctx, "refresh_report_presets")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during preset refresh: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "preset refresh panicked")
			log.Warn().Interface("panic", r).Msg("preset refresh panicked, recovered")
		}
	}()

	config, err := LoadFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preset refresh failed")
		log.Warn().Err(err).Msg("preset reload failed, keeping previous presets")
		return
	}

	store.Update(config)
	span.SetStatus(codes.Ok, "presets refreshed")
}
