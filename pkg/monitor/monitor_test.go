package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avaudit/clamaudit/pkg/filesystem"
	"github.com/avaudit/clamaudit/pkg/filesystem/mock"
)

// callbackRecorder gathers callback invocations for later inspection.
type callbackRecorder struct {
	mu    sync.Mutex
	calls []string
	seen  chan string
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{seen: make(chan string, 100)}
}

func (r *callbackRecorder) cb(path string) error {
	r.mu.Lock()
	r.calls = append(r.calls, path)
	r.mu.Unlock()
	r.seen <- path
	return nil
}

func (r *callbackRecorder) wait(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-r.seen:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for callback on %s", want)
		}
	}
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// watchedFS returns a mock filesystem whose watcher is fed through the
// returned channel.
func watchedFS() (*mock.FileSystemMock, chan filesystem.WatchEvent) {
	events := make(chan filesystem.WatchEvent, 10)
	errs := make(chan error, 1)
	fsys := &mock.FileSystemMock{
		WatchMock: func(ctx context.Context, path string) (filesystem.Watcher, error) {
			return &mock.MockWatcher{
				EventsMock: func() <-chan filesystem.WatchEvent { return events },
				ErrorsMock: func() <-chan error { return errs },
				CloseMock:  func() error { return nil },
			}, nil
		},
	}
	return fsys, events
}

func fastLoop(t *testing.T) {
	t.Helper()
	oldPause := ScanFileLoopPause
	ScanFileLoopPause = 10 * time.Millisecond
	t.Cleanup(func() { ScanFileLoopPause = oldPause })
}

func TestMonitor_work(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "settled file triggers callback",
			test: func(t *testing.T) {
				fastLoop(t)
				fsys, events := watchedFS()
				recorder := newCallbackRecorder()
				monitor := NewMonitor(fsys, recorder.cb, Config{})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				events <- filesystem.WatchEvent{Path: "/watched/test1", Type: filesystem.WatchEventCreate, Time: time.Now()}
				recorder.wait(t, "/watched/test1")
			},
		},
		{
			name: "file waits for the modification delay",
			test: func(t *testing.T) {
				fastLoop(t)
				oldSince := Since
				t.Cleanup(func() { Since = oldSince })
				settled := false
				Since = func(time.Time) time.Duration {
					if settled {
						return time.Hour
					}
					return 0
				}

				fsys, events := watchedFS()
				recorder := newCallbackRecorder()
				monitor := NewMonitor(fsys, recorder.cb, Config{ModDelay: 30 * time.Second})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				events <- filesystem.WatchEvent{Path: "/watched/slow", Type: filesystem.WatchEventWrite, Time: time.Now()}
				time.Sleep(50 * time.Millisecond)
				if n := recorder.count(); n != 0 {
					t.Fatalf("file scanned before it settled, %d calls", n)
				}
				settled = true
				recorder.wait(t, "/watched/slow")
			},
		},
		{
			name: "directory events are ignored",
			test: func(t *testing.T) {
				fastLoop(t)
				fsys, events := watchedFS()
				recorder := newCallbackRecorder()
				monitor := NewMonitor(fsys, recorder.cb, Config{})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				events <- filesystem.WatchEvent{
					Path: "/watched/newdir",
					Type: filesystem.WatchEventCreate,
					Time: time.Now(),
					FileInfo: mock.FileInfo{
						FileName: "newdir",
						Dir:      true,
					},
				}
				events <- filesystem.WatchEvent{Path: "/watched/file", Type: filesystem.WatchEventCreate, Time: time.Now()}
				recorder.wait(t, "/watched/file")
				if n := recorder.count(); n != 1 {
					t.Errorf("expected 1 callback, got %d", n)
				}
			},
		},
		{
			name: "prescan audits the path on add",
			test: func(t *testing.T) {
				fsys, _ := watchedFS()
				recorder := newCallbackRecorder()
				monitor := NewMonitor(fsys, recorder.cb, Config{PreScan: true})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				recorder.wait(t, "/watched")
			},
		},
		{
			name: "periodic rescan",
			test: func(t *testing.T) {
				fsys, _ := watchedFS()
				recorder := newCallbackRecorder()
				monitor := NewMonitor(fsys, recorder.cb, Config{Period: 20 * time.Millisecond})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				recorder.wait(t, "/watched")
				recorder.wait(t, "/watched")
			},
		},
		{
			name: "add is idempotent",
			test: func(t *testing.T) {
				var watchCalls int
				fsys := &mock.FileSystemMock{
					WatchMock: func(ctx context.Context, path string) (filesystem.Watcher, error) {
						watchCalls++
						events := make(chan filesystem.WatchEvent)
						errs := make(chan error)
						return &mock.MockWatcher{
							EventsMock: func() <-chan filesystem.WatchEvent { return events },
							ErrorsMock: func() <-chan error { return errs },
						}, nil
					},
				}
				monitor := NewMonitor(fsys, func(string) error { return nil }, Config{})
				defer func() {
					if err := monitor.Close(); err != nil {
						t.Errorf("close: %v", err)
					}
				}()
				monitor.Start()
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not add path: %v", err)
				}
				if err := monitor.Add("/watched"); err != nil {
					t.Fatalf("could not re-add path: %v", err)
				}
				if watchCalls != 1 {
					t.Errorf("expected a single watcher, got %d", watchCalls)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestMonitorLocalFileSystem(t *testing.T) {
	fastLoop(t)
	tmpDir := t.TempDir()
	recorder := newCallbackRecorder()
	monitor := NewMonitor(nil, recorder.cb, Config{})
	defer func() {
		if err := monitor.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()
	monitor.Start()
	if err := monitor.Add(tmpDir); err != nil {
		t.Fatalf("could not add path: %v", err)
	}

	path := filepath.Join(tmpDir, "test1")
	if err := os.WriteFile(path, []byte("test content"), 0o644); err != nil {
		t.Fatalf("could not create test file: %v", err)
	}
	recorder.wait(t, path)
}
