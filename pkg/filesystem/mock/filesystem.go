package mock

import (
	"context"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/avaudit/clamaudit/pkg/filesystem"
)

type FileSystemMock struct {
	ReadDirMock func(ctx context.Context, name string) ([]fs.DirEntry, error)
	StatMock    func(ctx context.Context, name string) (fs.FileInfo, error)
	LstatMock   func(ctx context.Context, name string) (fs.FileInfo, error)
	OpenMock    func(ctx context.Context, name string) (io.ReadCloser, error)
	JoinMock    func(elem ...string) string
	IsLocalMock func() bool
	WatchMock   func(ctx context.Context, path string) (filesystem.Watcher, error)
}

func (fsm *FileSystemMock) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if fsm.ReadDirMock != nil {
		return fsm.ReadDirMock(ctx, name)
	}
	panic("FileSystemMock.ReadDir() not implemented in current test")
}

func (fsm *FileSystemMock) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	if fsm.StatMock != nil {
		return fsm.StatMock(ctx, name)
	}
	panic("FileSystemMock.Stat() not implemented in current test")
}

func (fsm *FileSystemMock) Lstat(ctx context.Context, name string) (fs.FileInfo, error) {
	if fsm.LstatMock != nil {
		return fsm.LstatMock(ctx, name)
	}
	panic("FileSystemMock.Lstat() not implemented in current test")
}

func (fsm *FileSystemMock) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if fsm.OpenMock != nil {
		return fsm.OpenMock(ctx, name)
	}
	panic("FileSystemMock.Open() not implemented in current test")
}

func (fsm *FileSystemMock) Join(elem ...string) string {
	if fsm.JoinMock != nil {
		return fsm.JoinMock(elem...)
	}
	return path.Join(elem...)
}

func (fsm *FileSystemMock) IsLocal() bool {
	if fsm.IsLocalMock != nil {
		return fsm.IsLocalMock()
	}
	return true
}

func (fsm *FileSystemMock) Watch(ctx context.Context, path string) (filesystem.Watcher, error) {
	if fsm.WatchMock != nil {
		return fsm.WatchMock(ctx, path)
	}
	panic("FileSystemMock.Watch() not implemented in current test")
}

// FileInfo is a canned fs.FileInfo for tests.
type FileInfo struct {
	FileName    string
	FileSize    int64
	FileMode    fs.FileMode
	FileModTime time.Time
	Dir         bool
}

func (fi FileInfo) Name() string       { return fi.FileName }
func (fi FileInfo) Size() int64        { return fi.FileSize }
func (fi FileInfo) Mode() fs.FileMode  { return fi.FileMode }
func (fi FileInfo) ModTime() time.Time { return fi.FileModTime }
func (fi FileInfo) IsDir() bool        { return fi.Dir }
func (fi FileInfo) Sys() any           { return nil }

// MockWatcher implements filesystem.Watcher for testing
type MockWatcher struct {
	EventsMock func() <-chan filesystem.WatchEvent
	ErrorsMock func() <-chan error
	CloseMock  func() error
}

func (mw *MockWatcher) Events() <-chan filesystem.WatchEvent {
	if mw.EventsMock != nil {
		return mw.EventsMock()
	}
	panic("MockWatcher.Events() not implemented in current test")
}

func (mw *MockWatcher) Errors() <-chan error {
	if mw.ErrorsMock != nil {
		return mw.ErrorsMock()
	}
	panic("MockWatcher.Errors() not implemented in current test")
}

func (mw *MockWatcher) Close() error {
	if mw.CloseMock != nil {
		return mw.CloseMock()
	}
	return nil
}
