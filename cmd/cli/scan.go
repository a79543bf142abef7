package cli

import (
	"log/slog"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Audit folders with the external antivirus scanner",
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
		for _, arg := range args {
			fsys, root, fsErr := fileSystemFor(cmd.Context(), arg)
			if fsErr != nil {
				logger.Error("error during scan", slog.String("path", arg), slog.String("error", fsErr.Error()))
				return fsErr
			}
			walker := scanner.NewWalker(cfg, engine, fsys)
			if err = walker.Run(cmd.Context(), root); err != nil {
				logger.Error("error during scan", slog.String("path", arg), slog.String("error", err.Error()))
				return
			}
		}
		return
	},
	Args: checkPaths,
}
