package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/units"
	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/config"
	"github.com/avaudit/clamaudit/pkg/filesystem"
	"github.com/avaudit/clamaudit/pkg/monitor"
	"github.com/avaudit/clamaudit/pkg/scanner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var conf = &config.Config{
	Config:  config.DefaultConfigPath,
	Scanner: config.DefaultScanner,
	Monitoring: config.MonitoringConfig{
		ModDelay: config.DefaultModificationDelay,
	},
}

func initConfig() {
	if conf.Config == "" {
		cfg, err := config.GetConfigFile()
		if err != nil {
			logger.Error("could not create config file", slog.String("location", cfg))
		}
		conf.Config = cfg
	}
	viper.SetConfigFile(conf.Config)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		logger.Error("can't read config", slog.String("error", err.Error()))
		return
	}
	if err := viper.Unmarshal(conf); err != nil {
		logger.Error("can't unmarshal config", slog.String("error", err.Error()))
	}
}

func initRoot(rootCmd *cobra.Command) {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&conf.Config, "config", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&conf.Scanner, "scanner", config.DefaultScanner, "antivirus scanner binary, located via the search path")
	rootCmd.PersistentFlags().StringSliceVar(&conf.ScannerArgs, "scanner-arg", nil, "extra argument passed to the scanner before the target (repeatable)")
	rootCmd.PersistentFlags().StringVar(&conf.MaxFileSize, "max-file-size", conf.MaxFileSize, "Maximum file size to scan directly (e.g., '100MiB'). Files exceeding this are extracted if 'extract' is enabled, otherwise skipped. Empty means no limit")
	rootCmd.PersistentFlags().BoolVar(&conf.Extract, "extract", conf.Extract, "Enable archive extraction for files exceeding max-file-size (archives are unpacked and contents scanned)")
	rootCmd.PersistentFlags().StringSliceVar(&conf.Exclude, "exclude", conf.Exclude, "Directory name pruned without scanning, e.g. 'proc' (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&conf.FollowSymlinks, "follow-symlinks", false, "Follow symbolic links to regular files (if disabled, symlinks are skipped)")
	rootCmd.PersistentFlags().BoolVarP(&conf.Debug, "debug", "d", conf.Debug, "print debug strings")
	rootCmd.PersistentFlags().BoolVarP(&conf.Verbose, "verbose", "v", conf.Verbose, "Also print per file scan-start lines on the console")
	rootCmd.PersistentFlags().StringVar(&conf.S3.Endpoint, "s3-endpoint", "", "S3 endpoint for s3:// audit roots (e.g. a Minio instance)")
	rootCmd.PersistentFlags().StringVar(&conf.S3.Region, "s3-region", conf.S3.Region, "S3 region")
	rootCmd.PersistentFlags().StringVar(&conf.S3.AccessKey, "s3-access-key", os.Getenv("AWS_ACCESS_KEY_ID"), "S3 access key id")
	rootCmd.PersistentFlags().StringVar(&conf.S3.SecretKey, "s3-secret-key", os.Getenv("AWS_SECRET_ACCESS_KEY"), "S3 secret access key")
	rootCmd.PersistentFlags().BoolVar(&conf.S3.PathStyle, "s3-path-style", conf.S3.PathStyle, "use path style S3 addressing")
	rootCmd.PersistentFlags().BoolVar(&conf.S3.Insecure, "insecure", conf.S3.Insecure, "do not check certificates")

	watchCmd.PersistentFlags().BoolVar(&conf.Monitoring.PreScan, "pre-scan", false, "Immediately audit all existing files in watched paths when watching starts")
	watchCmd.PersistentFlags().DurationVar(&conf.Monitoring.Period, "scan-period", 0, "Time interval between periodic re-audits (e.g., '1h', '30m'; 0 disables)")
	watchCmd.PersistentFlags().DurationVar(&conf.Monitoring.ModDelay, "mod-delay", config.DefaultModificationDelay, "Wait time after file modification before scanning (prevents scanning incomplete writes)")
}

var rootCmd = &cobra.Command{
	Use:   "clamaudit",
	Short: "clamaudit walks directory trees and audits every regular file with an external antivirus scanner",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		err = yaml.NewEncoder(os.Stdout).Encode(conf)
		if err != nil {
			logger.Error("error encode yaml conf", slog.String("err", err.Error()))
			return
		}
		if err = cmd.Usage(); err != nil {
			return
		}
		return
	},
}

func applyLogLevels() {
	if conf.Debug {
		LogLevel.Set(slog.LevelDebug)
		scanner.LogLevel.Set(slog.LevelDebug)
		clamav.LogLevel.Set(slog.LevelDebug)
		filesystem.LogLevel.Set(slog.LevelDebug)
		monitor.LogLevel.Set(slog.LevelDebug)
		logger.Debug("debug activated")
	}
	consoleLevel := slog.LevelInfo
	if conf.Verbose || conf.Debug {
		consoleLevel = slog.LevelDebug
	}
	scanner.ConsoleLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: consoleLevel}))
}

func walkerConfig() (cfg scanner.Config, err error) {
	cfg = scanner.Config{
		FollowSymlinks: conf.FollowSymlinks,
		Extract:        conf.Extract,
		Exclude:        conf.Exclude,
	}
	if conf.MaxFileSize != "" {
		size, parseErr := units.ParseStrictBytes(conf.MaxFileSize)
		if parseErr != nil {
			err = fmt.Errorf("invalid max-file-size %q: %w", conf.MaxFileSize, parseErr)
			return
		}
		cfg.MaxFileSize = size
	}
	return
}

// fileSystemFor picks the backend for one audit root. s3://bucket/prefix
// roots go through the S3 filesystem, everything else is local.
func fileSystemFor(ctx context.Context, root string) (fsys filesystem.FileSystem, path string, err error) {
	if p, ok := filesystem.ParseS3URL(root); ok {
		s3fs, s3Err := filesystem.NewS3FileSystem(ctx, filesystem.S3Config{
			Endpoint:         conf.S3.Endpoint,
			Region:           conf.S3.Region,
			AccessKeyID:      conf.S3.AccessKey,
			SecretAccessKey:  conf.S3.SecretKey,
			Insecure:         conf.S3.Insecure,
			UsePathStyle:     conf.S3.PathStyle,
			MonitoringPeriod: conf.Monitoring.Period,
		})
		if s3Err != nil {
			err = fmt.Errorf("could not set up S3 access for %s: %w", root, s3Err)
			return
		}
		return s3fs, p, nil
	}
	return filesystem.NewLocalFileSystem(), root, nil
}

func checkPaths(cmd *cobra.Command, args []string) error {
	pathsToScan := args
	pathsToScan = append(pathsToScan, conf.Paths...)
	if len(pathsToScan) < 1 {
		return errors.New("at least one path is mandatory")
	}
	for _, path := range pathsToScan {
		if strings.HasPrefix(path, "s3://") {
			continue
		}
		if _, err := os.Stat(filepath.Clean(path)); err != nil {
			return fmt.Errorf("could not check path %s: %w", path, err)
		}
	}
	return nil
}
