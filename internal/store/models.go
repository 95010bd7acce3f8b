// Package store implements the embedded relational persistence layer
// (C6): streams, tracks, recognitions, and confirmed plays, with the
// idempotent insert semantics the Two-Hit Aggregator relies on.
package store

import (
	"time"
)

// Stream is a configured audio source.
type Stream struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	URL       string    `gorm:"not null"`
	Enabled   bool      `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name so renames of the Go type never touch
// on-disk schema.
func (Stream) TableName() string { return "streams" }

// Track is a piece of music identified by at least one provider.
// Metadata is a JSON blob merged, not overwritten, on repeat upserts from
// the same provider.
type Track struct {
	ID              uint   `gorm:"primaryKey"`
	Provider        string `gorm:"uniqueIndex:idx_track_provider_id;not null"`
	ProviderTrackID string `gorm:"uniqueIndex:idx_track_provider_id;not null"`
	Title           string `gorm:"not null"`
	Artist          string `gorm:"not null"`
	Album           string
	MetadataJSON    string `gorm:"column:metadata_json;type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Track) TableName() string { return "tracks" }

// Recognition is a single provider call outcome for one window. Every
// fan-out call — hit, no-match, or error — is recorded, so the table is a
// complete audit trail rather than a cache of only successful hits.
type Recognition struct {
	ID             uint   `gorm:"primaryKey"`
	StreamID       uint   `gorm:"index:idx_recognition_lookup;not null"`
	Provider       string `gorm:"index:idx_recognition_lookup;not null"`
	TrackID        *uint  `gorm:"index"`
	Outcome        string `gorm:"not null"` // "hit", "no_match", "error"
	Confidence     float64
	LatencyMS      int64
	ErrorKind      string
	RawResponse    string `gorm:"type:text"`
	WindowStartUTC time.Time `gorm:"index"`
	RecognizedAtUTC time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (Recognition) TableName() string { return "recognitions" }

// Play is a two-hit-confirmed, deduplicated playback record. The
// (track_id, stream_id, dedup_bucket) unique index is the enforcement
// point for insert_play_idempotent.
type Play struct {
	ID              uint      `gorm:"primaryKey"`
	TrackID         uint      `gorm:"uniqueIndex:idx_play_dedup;not null"`
	StreamID        uint      `gorm:"uniqueIndex:idx_play_dedup;not null"`
	DedupBucket     int64     `gorm:"uniqueIndex:idx_play_dedup;not null"`
	RecognizedAtUTC time.Time `gorm:"not null"`
	Confidence      float64
	ConfirmingHopA  time.Time
	ConfirmingHopB  time.Time
	CreatedAt       time.Time
}

func (Play) TableName() string { return "plays" }
