package catalog

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher calls onChange whenever the watched catalog file is written,
// created, renamed or removed. Editors that replace files atomically are
// handled by watching the parent directory.
type Watcher struct {
	watcher  *fsnotify.Watcher
	file     string
	onChange func()
	log      *slog.Logger
	closeCh  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// WatchFile starts watching path.
func WatchFile(path string, onChange func(), log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	watcher := &Watcher{
		watcher:  w,
		file:     abs,
		onChange: onChange,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	watcher.wg.Add(1)
	go watcher.run()
	return watcher, nil
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	// Editors write in bursts; onChange fires once the burst settles.
	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != w.file {
				continue
			}
			w.log.Debug("catalog file event", slog.String("path", w.file), slog.String("op", event.Op.String()))
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			w.log.Info("catalog file changed", slog.String("path", w.file))
			w.onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("catalog watcher error", slog.String("error", err.Error()))
		case <-w.closeCh:
			return
		}
	}
}
