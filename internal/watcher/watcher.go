// Package watcher reports devicetree files that change on disk while the
// editor does not have them open.
package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
)

const DefaultDebounce = 200 * time.Millisecond

// Handler receives a sorted batch of changed paths without duplicates.
type Handler func(paths []string)

// Watcher watches individual directories, not trees. Directories are added
// as files from them enter the index.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	log      logging.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	dirs map[string]struct{}
}

func New(handler Handler, debounce time.Duration, log logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsw:      fsw,
		handler:  handler,
		debounce: debounce,
		log:      log,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
		dirs:     make(map[string]struct{}),
	}, nil
}

// Add starts watching dir. Adding the same directory twice is a no-op.
func (w *Watcher) Add(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// AddFile watches the directory holding the file behind uri.
func (w *Watcher) AddFile(uri string) error {
	path, err := resolver.URIToPath(uri)
	if err != nil {
		return err
	}
	return w.Add(filepath.Dir(path))
}

func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return resolver.KindOf(event.Name) != resolver.Unsupported
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.log.Warningf("watcher: dropped change of %s", event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher: %v", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		paths := make([]string, 0, len(batch))
		for p := range batch {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		batch = make(map[string]struct{})
		w.handler(paths)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			batch[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			flush()
		}
	}
}
