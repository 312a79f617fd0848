package common

import "time"

// AccessTokenHeaderName is the metadata key used to carry the bearer token
// on outbound requests.
const AccessTokenHeaderName = "authorization"

const (
	// JobRetention is how long a completed, synced job stays on the device.
	JobRetention = 24 * time.Hour
	// MessageRetention is how long a synced message stays on the device.
	MessageRetention = 24 * time.Hour
	// QueueRetention applies to completed sync queue entries.
	QueueRetention = 72 * time.Hour
	// ConflictRetention applies to resolved conflicts.
	ConflictRetention = 72 * time.Hour

	// MaxOfflineDuration is the advisory threshold for working offline.
	MaxOfflineDuration = 24 * time.Hour
	// FreshnessWindow is how long preloaded data counts as fresh.
	FreshnessWindow = time.Hour

	// MaxPhotoUploadAttempts is the point at which a photo is abandoned.
	MaxPhotoUploadAttempts = 5
)
