package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Reloader is implemented by Store.
type Reloader interface {
	Reload(ctx context.Context) error
}

// FileWatcher reloads the store when its document file is changed by another process.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	target   string
	store    Reloader
	debounce time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewFileWatcher watches the directory containing path and reloads store after
// changes to path settle.
func NewFileWatcher(path string, store Reloader, logger zerolog.Logger) (*FileWatcher, error) {
	return newFileWatcher(path, store, logger, 500*time.Millisecond)
}

func newFileWatcher(path string, store Reloader, logger zerolog.Logger, debounce time.Duration) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watched path is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: atomic replacement swaps the inode, which drops a file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		logger:   logger,
		target:   filepath.Clean(path),
		store:    store,
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}

	go fw.run()

	return fw, nil
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopCh)
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != fw.target {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Memory document change detected")

				fw.scheduleReload()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of events into one reload.
func (fw *FileWatcher) scheduleReload() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}

	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case <-fw.stopCh:
			return
		default:
		}
		if err := fw.store.Reload(context.Background()); err != nil {
			fw.logger.Warn().Err(err).Msg("Memory reload failed, keeping current state")
		}
	})
}
