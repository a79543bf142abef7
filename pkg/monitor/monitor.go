package monitor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/avaudit/clamaudit/pkg/filesystem"
)

var (
	LogLevel = &slog.LevelVar{}
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

type Monitorer interface {
	Start()
	Close() error
	Add(path string) error
}

// OnNewFileFunc is invoked for every settled file. Calls are serialized: the
// monitor never runs two scans at once.
type OnNewFileFunc func(file string) error

type Config struct {
	// PreScan audits each added path once when it is registered.
	PreScan bool
	// Period re-audits every registered path at this interval; 0 disables
	// periodic rescans.
	Period time.Duration
	// ModDelay is how long a file must stay unmodified before it is
	// scanned, so half written files are not submitted.
	ModDelay time.Duration
}

type Monitor struct {
	fsys     filesystem.FileSystem
	cb       OnNewFileFunc
	config   Config
	wg       sync.WaitGroup
	stop     context.Context
	cancel   context.CancelFunc
	cbLock   sync.Mutex
	paths    map[string]filesystem.Watcher
	pathLock sync.Mutex

	pending     map[string]time.Time
	pendingLock sync.Mutex
}

var (
	ScanFileLoopPause = time.Millisecond * 100
	Since             = time.Since
)

func NewMonitor(fsys filesystem.FileSystem, onNewFile OnNewFileFunc, config Config) *Monitor {
	if fsys == nil {
		fsys = filesystem.NewLocalFileSystem()
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Monitor{
		fsys:    fsys,
		cb:      onNewFile,
		config:  config,
		stop:    stop,
		cancel:  cancel,
		paths:   make(map[string]filesystem.Watcher),
		pending: make(map[string]time.Time),
	}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.scanFiles()
	if m.config.Period != 0 {
		m.wg.Add(1)
		go m.rescan()
	}
}

func (m *Monitor) Close() error {
	m.cancel()
	m.pathLock.Lock()
	for path, watcher := range m.paths {
		if err := watcher.Close(); err != nil {
			logger.Error("cannot close watcher", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	m.paths = make(map[string]filesystem.Watcher)
	m.pathLock.Unlock()
	m.wg.Wait()
	return nil
}

// Add registers path for monitoring and, when PreScan is set, audits it right
// away.
func (m *Monitor) Add(path string) error {
	m.pathLock.Lock()
	defer m.pathLock.Unlock()
	if _, ok := m.paths[path]; ok {
		return nil
	}
	watcher, err := m.fsys.Watch(m.stop, path)
	if err != nil {
		return err
	}
	m.paths[path] = watcher
	m.wg.Add(1)
	go m.work(watcher)
	if m.config.PreScan {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.invoke(path)
		}()
	}
	return nil
}

func (m *Monitor) Remove(path string) error {
	m.pathLock.Lock()
	defer m.pathLock.Unlock()
	watcher, ok := m.paths[path]
	if !ok {
		return nil
	}
	delete(m.paths, path)
	return watcher.Close()
}

func (m *Monitor) work(watcher filesystem.Watcher) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop.Done():
			return
		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			logger.Debug("new event", slog.String("path", event.Path), slog.String("type", event.Type.String()))
			if event.FileInfo != nil && event.FileInfo.IsDir() {
				continue
			}
			m.pendingLock.Lock()
			m.pending[event.Path] = event.Time
			m.pendingLock.Unlock()
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// scanFiles drains the pending set, submitting files whose last event is
// older than ModDelay.
func (m *Monitor) scanFiles() {
	defer m.wg.Done()
	ticker := time.NewTicker(ScanFileLoopPause)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop.Done():
			return
		case <-ticker.C:
			for _, path := range m.settled() {
				m.invoke(path)
			}
		}
	}
}

func (m *Monitor) settled() (paths []string) {
	m.pendingLock.Lock()
	defer m.pendingLock.Unlock()
	for path, seen := range m.pending {
		if Since(seen) < m.config.ModDelay {
			continue
		}
		paths = append(paths, path)
		delete(m.pending, path)
	}
	return
}

func (m *Monitor) rescan() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.Period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop.Done():
			return
		case <-ticker.C:
			m.pathLock.Lock()
			roots := make([]string, 0, len(m.paths))
			for path := range m.paths {
				roots = append(roots, path)
			}
			m.pathLock.Unlock()
			for _, path := range roots {
				m.invoke(path)
			}
		}
	}
}

func (m *Monitor) invoke(path string) {
	m.cbLock.Lock()
	defer m.cbLock.Unlock()
	if err := m.cb(path); err != nil {
		logger.Error("error scanning monitored path", slog.String("path", path), slog.String("error", err.Error()))
	}
}
