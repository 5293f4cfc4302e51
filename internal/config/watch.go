package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange func(File)
	onError  func(error)

	done chan struct{}
	once sync.Once
}

// Watch starts watching path. After a burst of writes settles for
// debounce, the file is reloaded and passed to onChange. Load failures
// and watcher errors go to onError, which may be nil; the previous
// configuration then stays in effect.
//
// The parent directory is watched so that editors replacing the file by
// rename are followed.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(File), onError func(error)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if onError == nil {
		onError = func(error) {}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		watcher:  fw,
		onChange: onChange,
		onError:  onError,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// Channel for debouncing changes
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain the timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				debounceTimer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config: watcher: %w", err))

		case <-debounceTimer.C:
			f, err := Load(w.path)
			if err != nil {
				w.onError(err)
				continue
			}
			w.onChange(f)

		case <-ctx.Done():
			return
		}
	}
}

// Close stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
