package store

import (
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/marvin-k3/ying/internal/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps a GORM handle configured for embedded, single-writer SQLite
// access: WAL mode, foreign keys on, auto-migrate on open.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the SQLite database at path and auto-migrates the
// schema. WAL mode is enabled so the Worker Manager's concurrent stream
// workers can write recognitions/plays while readers (e.g. an external
// query surface) run without blocking.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("db_path", path).
			Build()
	}

	if err := db.AutoMigrate(&Stream{}, &Track{}, &Recognition{}, &Play{}); err != nil {
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "automigrate").
			Build()
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DedupBucket computes floor(recognizedAtUTC.Unix() / dedupSeconds), the
// bucket key used to collapse repeat plays of the same track on the same
// stream within a window.
func DedupBucket(recognizedAtUTC time.Time, dedupSeconds int) int64 {
	if dedupSeconds <= 0 {
		dedupSeconds = 1
	}
	return recognizedAtUTC.UTC().Unix() / int64(dedupSeconds)
}

// EnsureStream returns the Stream row for name, creating it on first sight.
// Existing rows are left untouched except for URL/Enabled, which follow the
// caller's current configuration (a stream's config can change across a
// hot-reload without losing its history).
func (s *Store) EnsureStream(name, url string, enabled bool) (*Stream, error) {
	stream := &Stream{Name: name, URL: url, Enabled: enabled}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"url", "enabled", "updated_at"}),
	}).Create(stream).Error
	if err != nil {
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "ensure_stream").
			Context("stream", name).
			Build()
	}

	var out Stream
	if err := s.db.Where("name = ?", name).First(&out).Error; err != nil {
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "ensure_stream_read").
			Build()
	}
	return &out, nil
}

// TrackMetadata is the provider-supplied metadata blob merged into a
// Track's MetadataJSON on every UpsertTrack call.
type TrackMetadata map[string]any

// UpsertTrack resolves a Track by (provider, provider_track_id), creating
// it if absent. On conflict, title/artist/album refresh from the latest
// call, and metadata is merged key-by-key rather than replaced wholesale,
// so a provider returning partial metadata on a later hit never erases
// previously known fields.
func (s *Store) UpsertTrack(provider, providerTrackID, title, artist, album string, metadata TrackMetadata) (*Track, error) {
	var existing Track
	err := s.db.Where("provider = ? AND provider_track_id = ?", provider, providerTrackID).First(&existing).Error
	switch {
	case err == nil:
		merged, mergeErr := mergeMetadata(existing.MetadataJSON, metadata)
		if mergeErr != nil {
			return nil, appErrors.New(mergeErr).
				Component("store").
				Category(appErrors.CategoryDatabase).
				Context("operation", "upsert_track_merge").
				Build()
		}
		existing.Title = title
		existing.Artist = artist
		existing.Album = album
		existing.MetadataJSON = merged
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, appErrors.New(err).
				Component("store").
				Category(appErrors.CategoryDatabase).
				Context("operation", "upsert_track_update").
				Build()
		}
		return &existing, nil
	case err == gorm.ErrRecordNotFound:
		blob, mErr := json.Marshal(metadata)
		if mErr != nil {
			return nil, appErrors.New(mErr).
				Component("store").
				Category(appErrors.CategoryDatabase).
				Context("operation", "upsert_track_marshal").
				Build()
		}
		track := &Track{
			Provider:        provider,
			ProviderTrackID: providerTrackID,
			Title:           title,
			Artist:          artist,
			Album:           album,
			MetadataJSON:    string(blob),
		}
		if err := s.db.Create(track).Error; err != nil {
			return nil, appErrors.New(err).
				Component("store").
				Category(appErrors.CategoryDatabase).
				Context("operation", "upsert_track_create").
				Build()
		}
		return track, nil
	default:
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "upsert_track_lookup").
			Build()
	}
}

func mergeMetadata(existingJSON string, incoming TrackMetadata) (string, error) {
	merged := make(TrackMetadata)
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &merged); err != nil {
			return "", fmt.Errorf("unmarshal existing metadata: %w", err)
		}
	}
	for k, v := range incoming {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	blob, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshal merged metadata: %w", err)
	}
	return string(blob), nil
}

// RecognitionRecord is the full outcome of one fan-out provider call,
// recorded regardless of hit/no_match/error so the recognitions table is a
// complete audit trail of admitted calls.
type RecognitionRecord struct {
	StreamID        uint
	Provider        string
	TrackID         *uint
	Outcome         string
	Confidence      float64
	LatencyMS       int64
	ErrorKind       string
	RawResponse     string
	WindowStartUTC  time.Time
	RecognizedAtUTC time.Time
}

// InsertRecognition appends one Recognition row. Recognitions are
// append-only: there is no update or dedup at this layer, only at the
// Play layer via InsertPlayIdempotent.
func (s *Store) InsertRecognition(rec RecognitionRecord) (*Recognition, error) {
	row := &Recognition{
		StreamID:        rec.StreamID,
		Provider:        rec.Provider,
		TrackID:         rec.TrackID,
		Outcome:         rec.Outcome,
		Confidence:      rec.Confidence,
		LatencyMS:       rec.LatencyMS,
		ErrorKind:       rec.ErrorKind,
		RawResponse:     rec.RawResponse,
		WindowStartUTC:  rec.WindowStartUTC,
		RecognizedAtUTC: rec.RecognizedAtUTC,
	}
	if err := s.db.Create(row).Error; err != nil {
		return nil, appErrors.New(err).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "insert_recognition").
			Build()
	}
	return row, nil
}

// PlayRecord is the confirmed-play input to InsertPlayIdempotent, produced
// by the Two-Hit Aggregator once both confirming hops have landed.
type PlayRecord struct {
	TrackID         uint
	StreamID        uint
	RecognizedAtUTC time.Time
	Confidence      float64
	ConfirmingHopA  time.Time
	ConfirmingHopB  time.Time
	DedupSeconds    int
}

// InsertPlayIdempotent inserts a Play row keyed by
// (track_id, stream_id, dedup_bucket), silently discarding the insert if a
// row for that bucket already exists. This is the idempotency boundary:
// concurrent or retried confirmations of the same track/stream within one
// dedup window never produce duplicate plays, and the first writer's
// confidence/hop timestamps win (Open Question decision #3 in
// DESIGN.md). Returns (row, true) on a fresh insert, (nil, false) on a
// de-duplicated no-op.
func (s *Store) InsertPlayIdempotent(rec PlayRecord) (*Play, bool, error) {
	bucket := DedupBucket(rec.RecognizedAtUTC, rec.DedupSeconds)
	play := &Play{
		TrackID:         rec.TrackID,
		StreamID:        rec.StreamID,
		DedupBucket:     bucket,
		RecognizedAtUTC: rec.RecognizedAtUTC,
		Confidence:      rec.Confidence,
		ConfirmingHopA:  rec.ConfirmingHopA,
		ConfirmingHopB:  rec.ConfirmingHopB,
	}

	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "track_id"}, {Name: "stream_id"}, {Name: "dedup_bucket"}},
		DoNothing: true,
	}).Create(play)
	if result.Error != nil {
		return nil, false, appErrors.New(result.Error).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "insert_play_idempotent").
			Context("dedup_bucket", bucket).
			Build()
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}
	return play, true, nil
}

// PruneRecognitionsBefore deletes recognition rows older than cutoff. The
// core pipeline never calls this itself; it exists so an external
// retention job has an operation to call without reaching into the
// schema directly.
func (s *Store) PruneRecognitionsBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("recognized_at_utc < ?", cutoff).Delete(&Recognition{})
	if result.Error != nil {
		return 0, appErrors.New(result.Error).
			Component("store").
			Category(appErrors.CategoryDatabase).
			Context("operation", "prune_recognitions").
			Build()
	}
	return result.RowsAffected, nil
}
