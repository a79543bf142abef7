package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/datamodel"
	"github.com/avaudit/clamaudit/pkg/filesystem"
	"github.com/dustin/go-humanize"
)

var (
	LogLevel      = &slog.LevelVar{}
	logger        = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
	// slog.DiscardHandler needs Go 1.24; this is the equivalent for the
	// Go 1.21 toolchain available here.
	ConsoleLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
)

const (
	logReasonKey = "reason"
	logErrorKey  = "error"
	logFileKey   = "file"
	logDirKey    = "directory"
)

// ErrInvalidRoot reports that the audit root does not name an existing
// directory. The run aborts before any traversal.
var ErrInvalidRoot = errors.New("scan root is not a valid directory")

type Config struct {
	// FollowSymlinks scans the target of file symlinks instead of
	// skipping them.
	FollowSymlinks bool
	// MaxFileSize caps the size of directly scanned files; 0 means no
	// limit. Oversized files are extracted when Extract is set, skipped
	// otherwise.
	MaxFileSize int64
	Extract     bool
	// Exclude lists directory base names pruned without scanning.
	Exclude []string
}

// Walker traverses a tree and submits every regular file to the scan
// engine, one file at a time. Results go through the action chain.
type Walker struct {
	engine clamav.Scanner
	fsys   filesystem.FileSystem
	config Config
	action Action
}

func NewWalker(config Config, engine clamav.Scanner, fsys filesystem.FileSystem, customActions ...Action) *Walker {
	if fsys == nil {
		fsys = filesystem.NewLocalFileSystem()
	}
	action := NewMultiAction(&LogAction{logger: logger}, &ConsoleAction{logger: ConsoleLogger})
	action.Actions = append(action.Actions, customActions...)
	return &Walker{
		engine: engine,
		fsys:   fsys,
		config: config,
		action: action,
	}
}

// Run audits the tree rooted at root. Only two conditions abort the run: an
// invalid root and a missing scanner binary. Everything else is contained to
// the directory or file it hit and the walk moves on.
func (w *Walker) Run(ctx context.Context, root string) (err error) {
	info, statErr := w.fsys.Stat(ctx, root)
	if statErr != nil || !info.IsDir() {
		ConsoleLogger.Error(fmt.Sprintf("the provided path %q is not a valid directory", root))
		err = fmt.Errorf("%w: %s", ErrInvalidRoot, root)
		return
	}

	ConsoleLogger.Info(fmt.Sprintf("starting audit of: %s", root))
	logger.Info("audit started", slog.String("root", root))

	// Directories whose listing failed with a permission error. Owned by
	// this run, consulted before any descent, never re-attempted.
	inaccessible := make(map[string]struct{})

	stack := []string{root}
	for len(stack) > 0 {
		if err = ctx.Err(); err != nil {
			return
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, pruned := inaccessible[dir]; pruned {
			continue
		}

		entries, listErr := w.fsys.ReadDir(ctx, dir)
		if listErr != nil {
			if errors.Is(listErr, fs.ErrPermission) {
				inaccessible[dir] = struct{}{}
				ConsoleLogger.Warn(fmt.Sprintf("permission denied to access directory: %s, skipping", dir))
				logger.Warn("directory not accessible", slog.String(logDirKey, dir), slog.String(logErrorKey, listErr.Error()))
				continue
			}
			ConsoleLogger.Error(fmt.Sprintf("error during directory traversal in %s: %s", dir, listErr))
			logger.Error("could not list directory", slog.String(logDirKey, dir), slog.String(logErrorKey, listErr.Error()))
			continue
		}

		// push subdirectories in reverse so they pop in listing order
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			if !entry.IsDir() {
				continue
			}
			if slices.Contains(w.config.Exclude, entry.Name()) {
				logger.Debug("skip directory", slog.String(logDirKey, w.fsys.Join(dir, entry.Name())), slog.String(logReasonKey, "excluded"))
				continue
			}
			stack = append(stack, w.fsys.Join(dir, entry.Name()))
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err = ctx.Err(); err != nil {
				return
			}
			if err = w.ScanFile(ctx, w.fsys.Join(dir, entry.Name())); err != nil {
				// only the missing scanner binary escalates; report it
				// once and stop the whole run
				ConsoleLogger.Error(err.Error())
				logger.Error("audit aborted", slog.String(logErrorKey, err.Error()))
				return
			}
		}
	}

	ConsoleLogger.Info("audit completed")
	logger.Info("audit completed", slog.String("root", root))
	return
}

// ScanFile checks that path still names a scannable regular file, submits it
// to the engine and dispatches the classification. The returned error is
// non-nil only when the whole run must stop.
func (w *Walker) ScanFile(ctx context.Context, path string) (err error) {
	info, statErr := w.fsys.Lstat(ctx, path)
	if statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			// removed between listing and scanning
			logger.Debug("skip file", slog.String(logFileKey, path), slog.String(logReasonKey, "no longer exists"))
			return
		}
		logger.Error("could not stat file", slog.String(logFileKey, path), slog.String(logErrorKey, statErr.Error()))
		return
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		if !w.config.FollowSymlinks {
			logger.Debug("skip file", slog.String(logFileKey, path), slog.String(logReasonKey, "symbolic link"))
			return
		}
		if info, statErr = w.fsys.Stat(ctx, path); statErr != nil {
			logger.Debug("skip file", slog.String(logFileKey, path), slog.String(logReasonKey, "broken symbolic link"))
			return
		}
	}

	// FIFOs, sockets, devices and remaining symlinks never reach the engine
	if !info.Mode().IsRegular() {
		logger.Debug("skip file", slog.String(logFileKey, path), slog.String(logReasonKey, "not a regular file"))
		return
	}

	if w.config.MaxFileSize > 0 && info.Size() > w.config.MaxFileSize {
		if w.config.Extract && w.fsys.IsLocal() {
			return w.scanArchive(ctx, path)
		}
		ConsoleLogger.Warn(fmt.Sprintf("skipping %s: file too big to scan (%s)", path, humanize.IBytes(uint64(info.Size()))))
		logger.Warn("skip file", slog.String(logFileKey, path), slog.String(logReasonKey, "too big"), slog.String("size", humanize.IBytes(uint64(info.Size()))))
		return
	}

	result, err := w.scan(ctx, path)
	if err != nil {
		if errors.Is(err, clamav.ErrNotInstalled) {
			return
		}
		logger.Error("unexpected error scanning file", slog.String(logFileKey, path), slog.String(logErrorKey, err.Error()))
		ConsoleLogger.Error(fmt.Sprintf("unexpected error scanning %s: %s", path, err))
		err = nil
		return
	}

	result.FileSize = info.Size()
	w.dispatch(path, result)
	return
}

func (w *Walker) scan(ctx context.Context, path string) (result datamodel.Result, err error) {
	logger.Debug("scanning", slog.String(logFileKey, path))
	ConsoleLogger.Debug(fmt.Sprintf("scanning: %s", path))

	if w.fsys.IsLocal() {
		return w.engine.Scan(ctx, path)
	}

	reader, err := w.fsys.Open(ctx, path)
	if err != nil {
		return
	}
	defer func() {
		if e := reader.Close(); e != nil {
			logger.Warn("could not close file correctly", slog.String(logFileKey, path), slog.String(logErrorKey, e.Error()))
		}
	}()
	return w.engine.ScanReader(ctx, path, reader)
}

func (w *Walker) dispatch(path string, result datamodel.Result) {
	if err := w.action.Handle(path, result); err != nil {
		logger.Error("could not handle scan result", slog.String(logFileKey, path), slog.String(logErrorKey, err.Error()))
	}
}
