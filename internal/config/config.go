package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime settings.
//
// Relative DatabaseFile and PhotoDir values are resolved against DataDir.
type Config struct {
	DataDir      string
	DatabaseFile string
	PhotoDir     string
	DeviceID     string
	AuthToken    string

	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	CleanupInterval     time.Duration
	DrainInterval       time.Duration
	MaxQueueAttempts    int

	Logging Logging
	S3      S3
}

// Logging configures the process logger.
//
// Format is "console" (colored, human oriented) or "json". Output is
// "stdout", "stderr" or a file path; files are rotated by size.
type Logging struct {
	Level      string
	Format     string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// S3 configures the photo upload bucket. An empty Endpoint uses the AWS
// default resolver.
type S3 struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "fieldsync-data"
	c.DatabaseFile = "fieldsync.db"
	c.PhotoDir = "photos"
	c.DeviceID = "local-device"
	c.AuthToken = ""

	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.CleanupInterval = time.Hour
	c.DrainInterval = 30 * time.Second
	c.MaxQueueAttempts = 10

	c.Logging = Logging{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
	c.S3 = S3{
		Region:       "us-east-1",
		Bucket:       "fieldsync-photos",
		UsePathStyle: true,
	}
}

// DatabasePath returns the database file location.
func (c *Config) DatabasePath() string {
	return c.resolve(c.DatabaseFile)
}

// PhotoPath returns the photo directory location.
func (c *Config) PhotoPath() string {
	return c.resolve(c.PhotoDir)
}

func (c *Config) resolve(p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
