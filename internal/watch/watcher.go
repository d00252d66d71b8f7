package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config governs Watcher behavior (spec.md §4.3, §6 defaults).
type Config struct {
	DebounceWindow   time.Duration
	EventRateCap     int
	SourceExtensions []string
	ConfigFilenames  []string
}

// Watcher recursively watches a set of directories, de-duplicating and
// rate-capping events per path, and fans them out to Subscribers.
type Watcher struct {
	cfg Config
	fsw *fsnotify.Watcher
	deb *debouncer

	subMu       sync.Mutex
	subscribers map[*Subscriber]bool
}

// NewWatcher opens the underlying fsnotify watcher.
func NewWatcher(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(cfg.SourceExtensions) == 0 {
		cfg.SourceExtensions = DefaultSourceExtensions
	}
	if len(cfg.ConfigFilenames) == 0 {
		cfg.ConfigFilenames = DefaultConfigFilenames
	}

	w := &Watcher{
		cfg:         cfg,
		fsw:         fsw,
		subscribers: make(map[*Subscriber]bool),
	}
	w.deb = newDebouncer(cfg.DebounceWindow, cfg.EventRateCap, w.broadcast)
	return w, nil
}

// Watch adds root and all of its subdirectories to the watch set.
func (w *Watcher) Watch(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Subscribe registers a new subscriber with a bounded buffer.
func (w *Watcher) Subscribe(bufSize int) *Subscriber {
	s := newSubscriber(bufSize)
	w.subMu.Lock()
	w.subscribers[s] = true
	w.subMu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (w *Watcher) Unsubscribe(s *Subscriber) {
	w.subMu.Lock()
	if _, ok := w.subscribers[s]; ok {
		delete(w.subscribers, s)
		s.close()
	}
	w.subMu.Unlock()
}

func (w *Watcher) broadcast(ev Event) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for s := range w.subscribers {
		s.send(ev)
	}
}

// Run drains fsnotify events until ctx is cancelled, translating them into
// Events and feeding the debouncer. New directories created under a watched
// root are added to the watch set automatically.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	defer w.deb.stop()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(raw)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watch] fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleRaw(raw fsnotify.Event) {
	kind := translateOp(raw.Op)

	info, statErr := os.Stat(raw.Name)
	isDir := statErr == nil && info.IsDir()
	var size int64
	if statErr == nil && !isDir {
		size = info.Size()
	}

	if kind == KindCreated && isDir {
		if err := w.fsw.Add(raw.Name); err != nil {
			log.Printf("[watch] failed to watch new directory %s: %v", raw.Name, err)
		}
	}

	if !triggersAttention(kind, raw.Name, w.cfg.SourceExtensions, w.cfg.ConfigFilenames) {
		return
	}

	w.deb.observe(Event{
		Kind:      kind,
		Path:      raw.Name,
		Timestamp: time.Now(),
		Size:      size,
		Ext:       filepath.Ext(raw.Name),
		IsDir:     isDir,
	})
}

// translateOp maps an fsnotify.Op bitmask to the spec's closed event-kind
// enumeration. fsnotify reports Rename as a single-sided event (the source
// path only); we surface it as KindRenamed, leaving from/to pairing to
// fsnotify's own create-after-rename sequencing.
func translateOp(op fsnotify.Op) Kind {
	switch {
	case op&fsnotify.Create != 0:
		return KindCreated
	case op&fsnotify.Write != 0:
		return KindModified
	case op&fsnotify.Remove != 0:
		return KindDeleted
	case op&fsnotify.Rename != 0:
		return KindRenamed
	case op&fsnotify.Chmod != 0:
		return KindChmod
	default:
		return KindModified
	}
}
