package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/filesystem"
	"github.com/avaudit/clamaudit/pkg/monitor"
	"github.com/avaudit/clamaudit/pkg/scanner"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor folders and audit files as they appear or change",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		applyLogLevels()
		cfg, err := walkerConfig()
		if err != nil {
			return
		}
		engine := clamav.NewEngine(conf.Scanner, conf.ScannerArgs...)
		if len(args) == 0 {
			args = conf.Paths
		}

		// a missing scanner binary stops the whole watch, like it stops
		// a plain audit run
		fatal := make(chan error, 1)

		monitors := make(map[filesystem.FileSystem]*monitor.Monitor)
		defer func() {
			for _, m := range monitors {
				if e := m.Close(); e != nil {
					logger.Error("error stopping monitor", slog.String("error", e.Error()))
				}
			}
		}()

		for _, arg := range args {
			fsys, root, fsErr := fileSystemFor(cmd.Context(), arg)
			if fsErr != nil {
				return fsErr
			}
			m, ok := monitors[fsys]
			if !ok {
				walker := scanner.NewWalker(cfg, engine, fsys)
				m = monitor.NewMonitor(fsys, watchCallback(cmd.Context(), walker, fsys, fatal), monitor.Config{
					PreScan:  conf.Monitoring.PreScan,
					Period:   conf.Monitoring.Period,
					ModDelay: conf.Monitoring.ModDelay,
				})
				m.Start()
				monitors[fsys] = m
			}
			if err = m.Add(root); err != nil {
				return fmt.Errorf("could not watch %s: %w", arg, err)
			}
			logger.Info("watching path", slog.String("path", arg))
		}

		select {
		case <-cmd.Context().Done():
		case err = <-fatal:
		}
		return
	},
	Args: checkPaths,
}

func watchCallback(ctx context.Context, walker *scanner.Walker, fsys filesystem.FileSystem, fatal chan error) monitor.OnNewFileFunc {
	return func(path string) (err error) {
		scanCtx, cancel := context.WithTimeout(ctx, time.Hour)
		defer cancel()
		info, err := fsys.Stat(scanCtx, path)
		if err != nil {
			return
		}
		if info.IsDir() {
			err = walker.Run(scanCtx, path)
		} else {
			err = walker.ScanFile(scanCtx, path)
		}
		if errors.Is(err, clamav.ErrNotInstalled) {
			select {
			case fatal <- err:
			default:
			}
		}
		return
	}
}
