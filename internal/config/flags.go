package config

import (
	"github.com/spf13/pflag"
)

const configFlag = "config"

// RegisterFlags defines the configuration flags on fs, using the defaults
// as flag defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(configFlag, "c", "", "path to a .json or .yaml config file")
	fs.String("data-dir", d.DataDir, "directory holding the database and photos")
	fs.String("db", d.DatabaseFile, "database file, relative to data-dir")
	fs.String("photo-dir", d.PhotoDir, "photo directory, relative to data-dir")
	fs.String("device-id", d.DeviceID, "device identifier written into photo watermarks")
	fs.String("token", d.AuthToken, "bearer token for server calls")
	fs.StringP("addr", "a", d.ServerEndpointAddr, "address and port of the sync server")
	fs.DurationP("online-check-interval", "i", d.OnlineCheckInterval, "connectivity probe interval")
	fs.Duration("drain-interval", d.DrainInterval, "sync queue drain interval")
	fs.Duration("cleanup-interval", d.CleanupInterval, "storage cleanup interval")
	fs.Int("max-queue-attempts", d.MaxQueueAttempts, "retryable failures before a queue entry fails")
	fs.String("log-level", d.Logging.Level, "debug, info, warn or error")
	fs.String("log-format", d.Logging.Format, "console or json")
	fs.String("log-output", d.Logging.Output, "stdout, stderr or a file path")
}

// Load resolves the configuration from defaults, the config file named on
// fs, and the flags explicitly set on fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path, _ := fs.GetString(configFlag); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	applyFlags(fs, cfg)
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, cfg *Config) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("db", &cfg.DatabaseFile)
	str("photo-dir", &cfg.PhotoDir)
	str("device-id", &cfg.DeviceID)
	str("token", &cfg.AuthToken)
	str("addr", &cfg.ServerEndpointAddr)
	str("log-level", &cfg.Logging.Level)
	str("log-format", &cfg.Logging.Format)
	str("log-output", &cfg.Logging.Output)

	if fs.Changed("online-check-interval") {
		cfg.OnlineCheckInterval, _ = fs.GetDuration("online-check-interval")
	}
	if fs.Changed("drain-interval") {
		cfg.DrainInterval, _ = fs.GetDuration("drain-interval")
	}
	if fs.Changed("cleanup-interval") {
		cfg.CleanupInterval, _ = fs.GetDuration("cleanup-interval")
	}
	if fs.Changed("max-queue-attempts") {
		cfg.MaxQueueAttempts, _ = fs.GetInt("max-queue-attempts")
	}
}
