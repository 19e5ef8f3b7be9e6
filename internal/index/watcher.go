package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors one root and emits debounced Batches.
type Watcher struct {
	root     string
	fs       *fsnotify.Watcher
	ig       *ignorer
	debounce time.Duration
	batches  chan Batch

	mu       sync.RWMutex
	snapshot *Snapshot

	pending   map[string]EventType
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the root of snap. Batches carry snapshots
// derived from snap.
func NewWatcher(snap *Snapshot, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		root:     snap.Root(),
		fs:       fsWatcher,
		ig:       newIgnorer(snap.Root()),
		debounce: debounce,
		batches:  make(chan Batch, 16),
		snapshot: snap,
		pending:  make(map[string]EventType),
		stopCh:   make(chan struct{}),
	}, nil
}

// Batches returns the channel of debounced change batches. It is closed when
// the watcher stops.
func (w *Watcher) Batches() <-chan Batch { return w.batches }

// Snapshot returns the latest snapshot.
func (w *Watcher) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Start adds every directory under the root and begins processing events
// until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("add directories: %w", err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// addTree watches dir and all of its non-ignored subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if w.ig.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("cannot watch directory")
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.batches)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.record(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("root", w.root).Msg("watcher error")

		case <-timer.C:
			batch, ok := w.flush()
			if !ok {
				continue
			}
			select {
			case w.batches <- batch:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// record folds a raw fsnotify event into the pending set. It reports whether
// anything was recorded.
func (w *Watcher) record(event fsnotify.Event) bool {
	path := event.Name
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if w.ig.ignored(path, true) {
				return false
			}
			// Files may land in a new directory before it is watched.
			_ = w.addTree(path)
			recorded := false
			_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() || w.ig.ignored(p, false) {
					return nil
				}
				w.pending[p] = Add
				recorded = true
				return nil
			})
			return recorded
		}
		if w.ig.ignored(path, false) {
			return false
		}
		w.pending[path] = Add
		return true

	case event.Has(fsnotify.Write):
		if w.ig.ignored(path, false) {
			return false
		}
		if prev, ok := w.pending[path]; ok && prev == Add {
			return true
		}
		w.pending[path] = Change
		return true

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.pending[path] = Delete
		return true
	}
	return false
}

// flush turns the pending set into a batch and advances the snapshot.
func (w *Watcher) flush() (Batch, bool) {
	if len(w.pending) == 0 {
		return Batch{}, false
	}
	events := make([]Event, 0, len(w.pending))
	for path, typ := range w.pending {
		events = append(events, Event{Path: path, Type: typ})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	w.pending = make(map[string]EventType)

	w.mu.Lock()
	w.snapshot = w.snapshot.Apply(events)
	snap := w.snapshot
	w.mu.Unlock()

	log.Debug().Str("root", w.root).Int("events", len(events)).Msg("change batch")
	return Batch{Root: w.root, Events: events, Snapshot: snap}, true
}
