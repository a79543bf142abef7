package clamav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/avaudit/clamaudit/pkg/datamodel"
)

var (
	LogLevel = &slog.LevelVar{}
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

const DefaultBinary = "clamscan"

// ErrNotInstalled reports that the scanner binary could not be located or
// launched. The walker treats it as fatal: no further file can be scanned
// without the binary.
var ErrNotInstalled = errors.New("scanner is not installed or not on the search path")

// Scanner submits one target to the antivirus engine and reports the outcome.
// Exit status of the engine is data, not a fault: only invocation failures
// surface as errors.
type Scanner interface {
	Scan(ctx context.Context, path string) (datamodel.Result, error)
	ScanReader(ctx context.Context, name string, r io.Reader) (datamodel.Result, error)
}

// Engine invokes a ClamAV-compatible command line scanner per file.
//
// Exit code contract: 0 clean, 1 infected (detail on stdout), anything else
// a scan error (detail on stderr).
type Engine struct {
	Binary    string
	ExtraArgs []string
}

func NewEngine(binary string, extraArgs ...string) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Engine{Binary: binary, ExtraArgs: extraArgs}
}

func (e *Engine) binary() string {
	if e.Binary == "" {
		return DefaultBinary
	}
	return e.Binary
}

// Scan submits a single file path to the scanner.
func (e *Engine) Scan(ctx context.Context, path string) (result datamodel.Result, err error) {
	return e.run(ctx, path, path, nil)
}

// ScanReader streams content to the scanner on stdin. It is used for targets
// that have no local path, such as objects on a remote filesystem; name is
// only carried into the result.
func (e *Engine) ScanReader(ctx context.Context, name string, r io.Reader) (result datamodel.Result, err error) {
	return e.run(ctx, name, "-", r)
}

func (e *Engine) run(ctx context.Context, name, target string, stdin io.Reader) (result datamodel.Result, err error) {
	args := make([]string, 0, len(e.ExtraArgs)+2)
	args = append(args, e.ExtraArgs...)
	args = append(args, "--no-summary", target)

	logger.Debug("invoke scanner", slog.String("binary", e.binary()), slog.Any("args", args))

	cmd := exec.CommandContext(ctx, e.binary(), args...)
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = stdin

	code := 0
	if runErr := cmd.Run(); runErr != nil {
		exitErr := new(exec.ExitError)
		switch {
		case errors.As(runErr, &exitErr):
			code = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist):
			err = fmt.Errorf("%w: %s", ErrNotInstalled, e.binary())
			return
		default:
			err = fmt.Errorf("could not invoke scanner on %s: %w", name, runErr)
			return
		}
	}

	result = datamodel.Result{Path: name, ExitCode: code}
	switch code {
	case 0:
		result.Status = datamodel.StatusClean
	case 1:
		result.Status = datamodel.StatusInfected
		result.Detail = strings.TrimSpace(stdout.String())
	default:
		result.Status = datamodel.StatusError
		result.Detail = strings.TrimSpace(stderr.String())
	}
	return
}

// Version reports the scanner's own version line.
func (e *Engine) Version(ctx context.Context) (version string, err error) {
	cmd := exec.CommandContext(ctx, e.binary(), "--version")
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrNotInstalled, e.binary())
		}
		return
	}
	version = strings.TrimSpace(string(out))
	return
}
