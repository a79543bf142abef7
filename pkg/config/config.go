package config

import (
	"time"
)

// Version is set at build time
var Version = "dev"

var (
	DefaultScanner           = "clamscan"
	DefaultModificationDelay = time.Second * 30
)

type MonitoringConfig struct {
	PreScan  bool          `yaml:"pre-scan" mapstructure:"pre-scan"`
	Period   time.Duration `yaml:"period" mapstructure:"period"`
	ModDelay time.Duration `yaml:"mod-delay" mapstructure:"mod-delay"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access-key" mapstructure:"access-key"`
	SecretKey string `yaml:"secret-key" mapstructure:"secret-key"`
	PathStyle bool   `yaml:"path-style" mapstructure:"path-style"`
	Insecure  bool   `yaml:"insecure" mapstructure:"insecure"`
}

type Config struct {
	Config string `yaml:"config" desc:"path to configuration file"`
	// Paths are default audit roots used when the command line names none
	Paths       []string `yaml:"paths" mapstructure:"paths"`
	Scanner     string   `yaml:"scanner" mapstructure:"scanner"`
	ScannerArgs []string `yaml:"scanner-args" mapstructure:"scanner-args"`
	// MaxFileSize caps directly scanned files, human readable ("100MiB");
	// empty means no limit
	MaxFileSize    string           `yaml:"max-file-size" mapstructure:"max-file-size"`
	Extract        bool             `yaml:"extract" mapstructure:"extract"`
	Exclude        []string         `yaml:"exclude" mapstructure:"exclude"`
	FollowSymlinks bool             `yaml:"follow-symlinks" mapstructure:"follow-symlinks"`
	Debug          bool             `yaml:"debug" mapstructure:"debug"`
	Verbose        bool             `yaml:"verbose" mapstructure:"verbose"`
	Monitoring     MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	S3             S3Config         `yaml:"s3" mapstructure:"s3"`
}
