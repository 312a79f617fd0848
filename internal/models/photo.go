package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// PhotoType classifies a captured photo.
type PhotoType string

const (
	PhotoTypeBefore PhotoType = "before"
	PhotoTypeAfter  PhotoType = "after"
	PhotoTypePasses PhotoType = "passes"
)

// Valid reports whether t is a known photo type.
func (t PhotoType) Valid() bool {
	switch t {
	case PhotoTypeBefore, PhotoTypeAfter, PhotoTypePasses:
		return true
	}
	return false
}

// WatermarkVersion is the current schema version of Watermark.
const WatermarkVersion = 1

// Watermark is provenance metadata stored with every photo.
type Watermark struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	JobID     int64             `json:"jobId"`
	PhotoType PhotoType         `json:"photoType"`
	Room      string            `json:"room"`
	DeviceID  string            `json:"deviceId"`
	Digest    string            `json:"digest,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// DecodeWatermark unmarshals b and rejects unknown schema versions.
func DecodeWatermark(b []byte) (Watermark, error) {
	var w Watermark
	if len(b) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return Watermark{}, fmt.Errorf("decode watermark: %w", err)
	}
	if w.Version != WatermarkVersion {
		return Watermark{}, fmt.Errorf("watermark v%d: %w", w.Version, common.ErrUnsupportedVersion)
	}
	return w, nil
}

// Photo is a captured photo (or an N/A pass record) belonging to a job.
type Photo struct {
	ID        string
	JobID     int64
	PhotoType PhotoType
	Room      string
	// LocalURI is the file path on the device; empty for N/A pass records.
	LocalURI        string
	Watermark       Watermark
	Uploaded        bool
	UploadAttempts  int
	IsNotApplicable bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasFile reports whether the record is backed by a file on disk.
func (p *Photo) HasFile() bool {
	return !p.IsNotApplicable && p.LocalURI != ""
}
