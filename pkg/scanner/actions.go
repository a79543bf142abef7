package scanner

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/avaudit/clamaudit/pkg/datamodel"
)

// Action consumes one scan result. Results are transient: once every action
// in the chain ran, nothing is kept.
type Action interface {
	Handle(path string, result datamodel.Result) error
}

type NoAction struct{}

func (*NoAction) Handle(path string, result datamodel.Result) error {
	return nil
}

type MultiAction struct {
	Actions []Action
}

func NewMultiAction(actions ...Action) *MultiAction {
	return &MultiAction{Actions: actions}
}

func (a *MultiAction) Handle(path string, result datamodel.Result) (err error) {
	for _, h := range a.Actions {
		if err = h.Handle(path, result); err != nil {
			return
		}
	}
	return
}

// LogAction emits the structured record of each result.
type LogAction struct {
	logger *slog.Logger
}

func (a *LogAction) Handle(path string, result datamodel.Result) (err error) {
	attrs := []any{
		slog.String(logFileKey, path),
		slog.String("status", result.Status.String()),
		slog.Int("exit-code", result.ExitCode),
	}
	if result.ArchivePath != "" {
		attrs = append(attrs, slog.String("archive", result.ArchivePath))
	}
	switch result.Status {
	case datamodel.StatusInfected:
		a.logger.Warn("file scanned", append(attrs, slog.String("detail", result.Detail))...)
	case datamodel.StatusError:
		a.logger.Error("file scanned", append(attrs, slog.String("detail", result.Detail))...)
	default:
		a.logger.Debug("file scanned", attrs...)
	}
	return nil
}

// ConsoleAction carries the user facing audit lines: clean files at info,
// infections at warning with the scanner output on a second line, scan
// errors at error with the scanner stderr on a second line.
type ConsoleAction struct {
	logger *slog.Logger
}

func (a *ConsoleAction) Handle(path string, result datamodel.Result) (err error) {
	switch result.Status {
	case datamodel.StatusClean:
		a.logger.Info(fmt.Sprintf("CLEAN: %s", path))
	case datamodel.StatusInfected:
		a.logger.Warn(fmt.Sprintf("INFECTED: %s", path))
		a.logger.Warn(fmt.Sprintf("  scanner output: %s", result.Detail))
	case datamodel.StatusError:
		a.logger.Error(fmt.Sprintf("ERROR scanning %s (exit code: %d)", path, result.ExitCode))
		a.logger.Error(fmt.Sprintf("  scanner stderr: %s", result.Detail))
	}
	return nil
}

// InformAction writes a plain line per notable result to Out, for callers
// that consume stdout rather than the log stream.
type InformAction struct {
	Verbose bool
	Out     io.Writer
}

func (a *InformAction) Handle(path string, result datamodel.Result) (err error) {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	switch {
	case result.Status == datamodel.StatusInfected:
		fmt.Fprintf(a.Out, "file %s seems malicious [%s]\n", path, result.Detail)
	case result.Status == datamodel.StatusError:
		fmt.Fprintf(a.Out, "file %s could not be scanned (exit code %d)\n", path, result.ExitCode)
	case a.Verbose:
		fmt.Fprintf(a.Out, "file %s no malware found\n", path)
	}
	return nil
}
