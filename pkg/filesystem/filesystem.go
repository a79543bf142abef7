package filesystem

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

var (
	LogLevel = &slog.LevelVar{}
	Logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

// FileSystem abstracts the tree the walker audits. Directory listing is a
// single level so the caller keeps control of descent and pruning; a listing
// failure caused by missing access rights must be reported as an error
// matching fs.ErrPermission.
type FileSystem interface {
	ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error)
	Stat(ctx context.Context, name string) (fs.FileInfo, error)
	Lstat(ctx context.Context, name string) (fs.FileInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Join(elem ...string) string
	IsLocal() bool

	// Watch starts watching the specified path for changes
	Watch(ctx context.Context, path string) (Watcher, error)
}

// WatchEventType represents the type of filesystem event
type WatchEventType int

const (
	WatchEventCreate WatchEventType = iota
	WatchEventWrite
)

func (t WatchEventType) String() string {
	switch t {
	case WatchEventCreate:
		return "CREATE"
	case WatchEventWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// WatchEvent represents a filesystem event
type WatchEvent struct {
	Path     string
	Type     WatchEventType
	Time     time.Time
	FileInfo fs.FileInfo
}

// Watcher represents an active watch session
type Watcher interface {
	// Events returns a channel of watch events
	Events() <-chan WatchEvent
	// Errors returns a channel of watch errors
	Errors() <-chan error
	// Close stops watching and cleans up resources
	Close() error
}
