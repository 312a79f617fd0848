package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// fileConfig is the on-disk shape. It is pre-filled from the current Config
// before decoding, so keys absent from the file keep their value.
type fileConfig struct {
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabaseFile string `json:"database_file" yaml:"database_file"`
	PhotoDir     string `json:"photo_dir" yaml:"photo_dir"`
	DeviceID     string `json:"device_id" yaml:"device_id"`
	AuthToken    string `json:"auth_token" yaml:"auth_token"`

	ServerEndpointAddr  string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	CleanupInterval     timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	DrainInterval       timex.Duration `json:"drain_interval" yaml:"drain_interval"`
	MaxQueueAttempts    int            `json:"max_queue_attempts" yaml:"max_queue_attempts"`

	Logging fileLogging `json:"logging" yaml:"logging"`
	S3      fileS3      `json:"s3" yaml:"s3"`
}

type fileLogging struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

type fileS3 struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	Region       string `json:"region" yaml:"region"`
	Bucket       string `json:"bucket" yaml:"bucket"`
	AccessKey    string `json:"access_key" yaml:"access_key"`
	SecretKey    string `json:"secret_key" yaml:"secret_key"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// LoadFile overlays c with the values from the file at path. The format is
// chosen by extension.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := toFile(c)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fromFile(c, fc)
	return nil
}

func toFile(c *Config) fileConfig {
	return fileConfig{
		DataDir:             c.DataDir,
		DatabaseFile:        c.DatabaseFile,
		PhotoDir:            c.PhotoDir,
		DeviceID:            c.DeviceID,
		AuthToken:           c.AuthToken,
		ServerEndpointAddr:  c.ServerEndpointAddr,
		OnlineCheckInterval: timex.Duration{Duration: c.OnlineCheckInterval},
		CleanupInterval:     timex.Duration{Duration: c.CleanupInterval},
		DrainInterval:       timex.Duration{Duration: c.DrainInterval},
		MaxQueueAttempts:    c.MaxQueueAttempts,
		Logging:             fileLogging(c.Logging),
		S3:                  fileS3(c.S3),
	}
}

func fromFile(c *Config, fc fileConfig) {
	c.DataDir = fc.DataDir
	c.DatabaseFile = fc.DatabaseFile
	c.PhotoDir = fc.PhotoDir
	c.DeviceID = fc.DeviceID
	c.AuthToken = fc.AuthToken
	c.ServerEndpointAddr = fc.ServerEndpointAddr
	c.OnlineCheckInterval = fc.OnlineCheckInterval.Duration
	c.CleanupInterval = fc.CleanupInterval.Duration
	c.DrainInterval = fc.DrainInterval.Duration
	c.MaxQueueAttempts = fc.MaxQueueAttempts
	c.Logging = Logging(fc.Logging)
	c.S3 = S3(fc.S3)
}
