package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the settings file at path whenever it changes and passes every
// valid result to onChange after storing it with Set. Invalid files are logged
// and ignored, keeping the previous configuration. The parent directory is
// watched so editors that replace the file by rename are handled.
// Watching stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return err
	}

	go watchLoop(ctx, fsw, filepath.Clean(path), onChange)
	return nil
}

func watchLoop(ctx context.Context, fsw *fsnotify.Watcher, target string, onChange func(*Config)) {
	defer fsw.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				reload(ctx, target, onChange)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Settings watcher error")
		}
	}
}

func reload(ctx context.Context, path string, onChange func(*Config)) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := LoadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ignoring invalid settings change")
		return
	}
	Set(cfg)
	log.Info().Str("path", path).Msg("Settings reloaded")
	if onChange != nil {
		onChange(cfg)
	}
}
