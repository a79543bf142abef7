package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/google/uuid"
	"golift.io/xtractr"
)

// ExtractFile could be used to override xtractr.ExtractFile
var ExtractFile = func(archiveLocation, outputDir string) (size int64, files []string, volumes []string, err error) {
	xFile := &xtractr.XFile{
		FilePath:  archiveLocation,
		OutputDir: outputDir,
		FileMode:  0o755,
		DirMode:   0o755,
	}
	return xtractr.ExtractFile(xFile)
}

// scanArchive unpacks an oversized archive into a temp folder and scans the
// inner files one by one, still sequentially. A file that is not an archive
// after all is scanned directly.
func (w *Walker) scanArchive(ctx context.Context, archive string) (err error) {
	batchID := uuid.NewString()
	archiveLogger := logger.With(slog.String("archive", archive), slog.String("batch-id", batchID))

	outputDir, dirErr := os.MkdirTemp(os.TempDir(), "clamaudit-"+batchID)
	if dirErr != nil {
		archiveLogger.Error("could not create extraction folder", slog.String(logErrorKey, dirErr.Error()))
		return
	}
	defer func() {
		if e := os.RemoveAll(outputDir); e != nil {
			archiveLogger.Error("could not remove extraction folder", slog.String("folder", outputDir), slog.String(logErrorKey, e.Error()))
		}
	}()

	_, files, _, extractErr := ExtractFile(archive, outputDir)
	if extractErr != nil {
		archiveLogger.Debug("could not extract, scan directly", slog.String(logReasonKey, extractErr.Error()))
		return w.scanInner(ctx, archive, archive, "")
	}

	archiveLogger.Info("extracted files from archive", slog.Int("files", len(files)))
	ConsoleLogger.Info(fmt.Sprintf("scanning %d files extracted from %s", len(files), archive))

	for _, f := range files {
		if err = ctx.Err(); err != nil {
			return
		}
		info, statErr := os.Lstat(f)
		if statErr != nil || !info.Mode().IsRegular() {
			archiveLogger.Debug("skip archive inner file", slog.String(logFileKey, f), slog.String(logReasonKey, "not a regular file"))
			continue
		}
		name := f
		if relPath, relErr := filepath.Rel(outputDir, f); relErr == nil {
			name = w.fsys.Join(archive, relPath)
		}
		if err = w.scanInner(ctx, f, name, archive); err != nil {
			return
		}
	}
	return
}

// scanInner submits one extracted file; name is how the file is reported,
// keeping the archive location visible in the audit lines.
func (w *Walker) scanInner(ctx context.Context, path, name, archive string) (err error) {
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
	result.Path = name
	result.ArchivePath = archive
	if info, statErr := os.Lstat(path); statErr == nil {
		result.FileSize = info.Size()
	}
	w.dispatch(name, result)
	return
}
