package filesystem

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LocalFileSystem implements FileSystem for the local filesystem
type LocalFileSystem struct{}

// NewLocalFileSystem creates a new LocalFileSystem instance
func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

// ReadDir lists a single directory level. os.ReadDir returns a *PathError
// matching fs.ErrPermission when access is denied, which is what the walker
// keys its pruning on.
func (l *LocalFileSystem) ReadDir(ctx context.Context, name string) (entries []fs.DirEntry, err error) {
	entries, err = os.ReadDir(name)
	return
}

// Stat returns file info
func (l *LocalFileSystem) Stat(ctx context.Context, name string) (info fs.FileInfo, err error) {
	info, err = os.Stat(name)
	return
}

// Lstat returns file info without following symlinks
func (l *LocalFileSystem) Lstat(ctx context.Context, name string) (info fs.FileInfo, err error) {
	info, err = os.Lstat(name)
	return
}

// Open opens a file for reading
func (l *LocalFileSystem) Open(ctx context.Context, name string) (reader io.ReadCloser, err error) {
	reader, err = os.Open(filepath.Clean(name))
	return
}

// Join joins path elements with the OS separator
func (l *LocalFileSystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// IsLocal returns true for LocalFileSystem
func (l *LocalFileSystem) IsLocal() bool {
	return true
}

// Watch starts watching the specified path for changes
func (l *LocalFileSystem) Watch(ctx context.Context, path string) (Watcher, error) {
	return newLocalWatcher(ctx, path)
}

// localWatcher implements Watcher for the local filesystem using fsnotify
type localWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan WatchEvent
	errors   chan error
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	watching map[string]bool
}

func newLocalWatcher(ctx context.Context, path string) (*localWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	w := &localWatcher{
		watcher:  fsWatcher,
		events:   make(chan WatchEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		ctx:      watchCtx,
		cancel:   cancel,
		watching: make(map[string]bool),
	}

	if err := w.addPath(path); err != nil {
		if e := fsWatcher.Close(); e != nil {
			Logger.Error("could not close fsnotify watcher", slog.String("error", e.Error()))
		}
		cancel()
		return nil, err
	}

	go w.watch()

	return w, nil
}

// addPath registers path and every directory below it. fsnotify does not
// watch recursively on its own.
func (w *localWatcher) addPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		return err
	}
	w.watching[path] = true

	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// inaccessible subtrees are simply not watched
			return nil //nolint:nilerr
		}
		if d.IsDir() && walkPath != path && !w.watching[walkPath] {
			if addErr := w.watcher.Add(walkPath); addErr == nil {
				w.watching[walkPath] = true
			}
		}
		return nil
	})
}

func (w *localWatcher) watch() {
	defer close(w.done)
	defer close(w.events)
	defer close(w.errors)

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func (w *localWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	var eventType WatchEventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = WatchEventCreate
	case event.Has(fsnotify.Write):
		eventType = WatchEventWrite
	default:
		return
	}

	var fileInfo fs.FileInfo
	if info, err := os.Lstat(event.Name); err == nil {
		fileInfo = info
		if eventType == WatchEventCreate && info.IsDir() {
			if e := w.addPath(event.Name); e != nil {
				Logger.Error("could not watch new directory", slog.String("path", event.Name), slog.String("error", e.Error()))
			}
		}
	}

	select {
	case w.events <- WatchEvent{Path: event.Name, Type: eventType, Time: time.Now(), FileInfo: fileInfo}:
	case <-w.ctx.Done():
	}
}

func (w *localWatcher) Events() <-chan WatchEvent {
	return w.events
}

func (w *localWatcher) Errors() <-chan error {
	return w.errors
}

func (w *localWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
