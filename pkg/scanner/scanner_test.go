package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/datamodel"
	"github.com/avaudit/clamaudit/pkg/filesystem/mock"
	"github.com/google/go-cmp/cmp"
)

// resultRecorder collects every dispatched result for later inspection.
type resultRecorder struct {
	mu      sync.Mutex
	results []datamodel.Result
}

func (r *resultRecorder) Handle(path string, result datamodel.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result.Path = path
	r.results = append(r.results, result)
	return nil
}

func (r *resultRecorder) paths() (paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		paths = append(paths, res.Path)
	}
	sort.Strings(paths)
	return
}

func (r *resultRecorder) byPath(path string) (datamodel.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Path == path {
			return res, true
		}
	}
	return datamodel.Result{}, false
}

// eicarEngine flags any path containing "eicar" and errors on any path
// containing "broken", like the stub binary of the clamav package.
func eicarEngine(scanned *[]string) *EngineMock {
	var mu sync.Mutex
	return &EngineMock{
		ScanMock: func(ctx context.Context, path string) (result datamodel.Result, err error) {
			mu.Lock()
			if scanned != nil {
				*scanned = append(*scanned, path)
			}
			mu.Unlock()
			result.Path = path
			switch {
			case strings.Contains(path, "eicar"):
				result.Status = datamodel.StatusInfected
				result.ExitCode = 1
				result.Detail = path + ": Eicar-Test-Signature FOUND"
			case strings.Contains(path, "broken"):
				result.Status = datamodel.StatusError
				result.ExitCode = 2
				result.Detail = "LibClamAV Error: cannot open file"
			default:
				result.Status = datamodel.StatusClean
			}
			return
		},
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkerRun(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "invalid root",
			test: func(t *testing.T) {
				var scanned []string
				walker := NewWalker(Config{}, eicarEngine(&scanned), nil)
				err := walker.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
				if !errors.Is(err, ErrInvalidRoot) {
					t.Errorf("expected ErrInvalidRoot, got %v", err)
				}
				if len(scanned) != 0 {
					t.Errorf("no file should have been scanned, got %v", scanned)
				}
			},
		},
		{
			name: "root is a file",
			test: func(t *testing.T) {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "a.txt"), "data")
				walker := NewWalker(Config{}, eicarEngine(nil), nil)
				err := walker.Run(context.Background(), filepath.Join(root, "a.txt"))
				if !errors.Is(err, ErrInvalidRoot) {
					t.Errorf("expected ErrInvalidRoot, got %v", err)
				}
			},
		},
		{
			name: "mixed tree",
			test: func(t *testing.T) {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "a.txt"), "clean file")
				writeFile(t, filepath.Join(root, "sub", "eicar.com"), "not really")
				writeFile(t, filepath.Join(root, "sub", "deep", "b.txt"), "clean too")

				recorder := &resultRecorder{}
				walker := NewWalker(Config{}, eicarEngine(nil), nil, recorder)
				if err := walker.Run(context.Background(), root); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				want := []string{
					filepath.Join(root, "a.txt"),
					filepath.Join(root, "sub", "deep", "b.txt"),
					filepath.Join(root, "sub", "eicar.com"),
				}
				if diff := cmp.Diff(want, recorder.paths()); diff != "" {
					t.Errorf("unexpected audited files (-want +got):\n%s", diff)
				}

				infected, ok := recorder.byPath(filepath.Join(root, "sub", "eicar.com"))
				if !ok || infected.Status != datamodel.StatusInfected {
					t.Errorf("expected infected result, got %#v", infected)
				}
				clean, ok := recorder.byPath(filepath.Join(root, "a.txt"))
				if !ok || clean.Status != datamodel.StatusClean {
					t.Errorf("expected clean result, got %#v", clean)
				}
			},
		},
		{
			name: "each file audited exactly once",
			test: func(t *testing.T) {
				root := t.TempDir()
				for i := 0; i < 5; i++ {
					writeFile(t, filepath.Join(root, "d", fmt.Sprintf("f%d.txt", i)), "x")
				}
				var scanned []string
				walker := NewWalker(Config{}, eicarEngine(&scanned), nil)
				if err := walker.Run(context.Background(), root); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				seen := make(map[string]int)
				for _, p := range scanned {
					seen[p]++
				}
				if len(seen) != 5 {
					t.Errorf("expected 5 distinct files, got %d", len(seen))
				}
				for p, n := range seen {
					if n != 1 {
						t.Errorf("file %s audited %d times", p, n)
					}
				}
			},
		},
		{
			name: "inaccessible directory is skipped and contained",
			test: func(t *testing.T) {
				if os.Geteuid() == 0 {
					t.Skip("permission checks do not apply to root")
				}
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "open.txt"), "x")
				writeFile(t, filepath.Join(root, "locked", "secret.txt"), "x")
				if err := os.Chmod(filepath.Join(root, "locked"), 0o000); err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "locked"), 0o755) })

				recorder := &resultRecorder{}
				walker := NewWalker(Config{}, eicarEngine(nil), nil, recorder)
				if err := walker.Run(context.Background(), root); err != nil {
					t.Fatalf("run should survive a locked directory: %v", err)
				}
				want := []string{filepath.Join(root, "open.txt")}
				if diff := cmp.Diff(want, recorder.paths()); diff != "" {
					t.Errorf("unexpected audited files (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "excluded directory is pruned",
			test: func(t *testing.T) {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "keep.txt"), "x")
				writeFile(t, filepath.Join(root, "node_modules", "skip.txt"), "x")

				recorder := &resultRecorder{}
				walker := NewWalker(Config{Exclude: []string{"node_modules"}}, eicarEngine(nil), nil, recorder)
				if err := walker.Run(context.Background(), root); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				want := []string{filepath.Join(root, "keep.txt")}
				if diff := cmp.Diff(want, recorder.paths()); diff != "" {
					t.Errorf("unexpected audited files (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "missing scanner binary aborts the run",
			test: func(t *testing.T) {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "a.txt"), "x")
				writeFile(t, filepath.Join(root, "b.txt"), "x")

				var calls int
				engine := &EngineMock{
					ScanMock: func(ctx context.Context, path string) (result datamodel.Result, err error) {
						calls++
						err = fmt.Errorf("run scanner: %w", clamav.ErrNotInstalled)
						return
					},
				}
				walker := NewWalker(Config{}, engine, nil)
				err := walker.Run(context.Background(), root)
				if !errors.Is(err, clamav.ErrNotInstalled) {
					t.Errorf("expected ErrNotInstalled, got %v", err)
				}
				if calls != 1 {
					t.Errorf("run should stop at the first attempt, got %d calls", calls)
				}
			},
		},
		{
			name: "canceled context stops the walk",
			test: func(t *testing.T) {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "a.txt"), "x")
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				walker := NewWalker(Config{}, eicarEngine(nil), nil)
				if err := walker.Run(ctx, root); !errors.Is(err, context.Canceled) {
					t.Errorf("expected context.Canceled, got %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestScanFile(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "vanished file is not an error",
			test: func(t *testing.T) {
				var scanned []string
				walker := NewWalker(Config{}, eicarEngine(&scanned), nil)
				if err := walker.ScanFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt")); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if len(scanned) != 0 {
					t.Errorf("vanished file must not reach the engine, got %v", scanned)
				}
			},
		},
		{
			name: "symlink skipped by default",
			test: func(t *testing.T) {
				root := t.TempDir()
				target := filepath.Join(root, "target.txt")
				writeFile(t, target, "x")
				link := filepath.Join(root, "link.txt")
				if err := os.Symlink(target, link); err != nil {
					t.Skipf("symlinks not supported: %v", err)
				}
				var scanned []string
				walker := NewWalker(Config{}, eicarEngine(&scanned), nil)
				if err := walker.ScanFile(context.Background(), link); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if len(scanned) != 0 {
					t.Errorf("symlink must be skipped, got %v", scanned)
				}
			},
		},
		{
			name: "symlink followed on demand",
			test: func(t *testing.T) {
				root := t.TempDir()
				target := filepath.Join(root, "target.txt")
				writeFile(t, target, "x")
				link := filepath.Join(root, "link.txt")
				if err := os.Symlink(target, link); err != nil {
					t.Skipf("symlinks not supported: %v", err)
				}
				var scanned []string
				walker := NewWalker(Config{FollowSymlinks: true}, eicarEngine(&scanned), nil)
				if err := walker.ScanFile(context.Background(), link); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if len(scanned) != 1 {
					t.Errorf("symlink target must be scanned once, got %v", scanned)
				}
			},
		},
		{
			name: "oversized file skipped",
			test: func(t *testing.T) {
				root := t.TempDir()
				big := filepath.Join(root, "big.bin")
				writeFile(t, big, strings.Repeat("A", 2048))
				var scanned []string
				walker := NewWalker(Config{MaxFileSize: 1024}, eicarEngine(&scanned), nil)
				if err := walker.ScanFile(context.Background(), big); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if len(scanned) != 0 {
					t.Errorf("oversized file must be skipped, got %v", scanned)
				}
			},
		},
		{
			name: "scan engine failure does not stop the run",
			test: func(t *testing.T) {
				root := t.TempDir()
				path := filepath.Join(root, "a.txt")
				writeFile(t, path, "x")
				engine := &EngineMock{
					ScanMock: func(ctx context.Context, path string) (result datamodel.Result, err error) {
						err = errors.New("engine blew up")
						return
					},
				}
				walker := NewWalker(Config{}, engine, nil)
				if err := walker.ScanFile(context.Background(), path); err != nil {
					t.Errorf("engine failures must be contained, got %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestWalkerRemoteFileSystem(t *testing.T) {
	content := "remote object data"
	fsys := &mock.FileSystemMock{
		IsLocalMock: func() bool { return false },
		LstatMock: func(ctx context.Context, name string) (os.FileInfo, error) {
			return mock.FileInfo{FileName: "remote.txt", FileSize: int64(len(content))}, nil
		},
		OpenMock: func(ctx context.Context, name string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}

	var got string
	engine := &EngineMock{
		ScanReaderMock: func(ctx context.Context, name string, r io.Reader) (result datamodel.Result, err error) {
			data, err := io.ReadAll(r)
			if err != nil {
				return
			}
			got = string(data)
			result.Path = name
			result.Status = datamodel.StatusClean
			return
		},
	}

	walker := NewWalker(Config{}, engine, fsys)
	if err := walker.ScanFile(context.Background(), "bucket/remote.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != content {
		t.Errorf("engine read %q, want %q", got, content)
	}
}
