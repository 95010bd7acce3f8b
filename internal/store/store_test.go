package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureStreamCreatesThenReuses(t *testing.T) {
	s := newTestStore(t)

	first, err := s.EnsureStream("cafe-lobby", "rtsp://example.test/lobby", true)
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := s.EnsureStream("cafe-lobby", "rtsp://example.test/lobby-new", false)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.False(t, second.Enabled)
	require.Equal(t, "rtsp://example.test/lobby-new", second.URL)
}

func TestUpsertTrackMergesMetadataWithoutErasingFields(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertTrack("acrcloud", "track-1", "Song A", "Artist A", "Album A", TrackMetadata{
		"isrc": "US123",
	})
	require.NoError(t, err)

	second, err := s.UpsertTrack("acrcloud", "track-1", "Song A", "Artist A", "Album A", TrackMetadata{
		"genre": "jazz",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Contains(t, second.MetadataJSON, "isrc")
	require.Contains(t, second.MetadataJSON, "genre")
}

func TestInsertPlayIdempotentDedupesWithinBucket(t *testing.T) {
	s := newTestStore(t)

	stream, err := s.EnsureStream("cafe-lobby", "rtsp://example.test/lobby", true)
	require.NoError(t, err)
	track, err := s.UpsertTrack("acrcloud", "track-1", "Song A", "Artist A", "", nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := PlayRecord{
		TrackID:         track.ID,
		StreamID:        stream.ID,
		RecognizedAtUTC: now,
		Confidence:      0.92,
		DedupSeconds:    300,
	}

	inserted, fresh, err := s.InsertPlayIdempotent(rec)
	require.NoError(t, err)
	require.True(t, fresh)
	require.NotNil(t, inserted)

	rec.RecognizedAtUTC = now.Add(30 * time.Second)
	rec.Confidence = 0.99
	_, fresh, err = s.InsertPlayIdempotent(rec)
	require.NoError(t, err)
	require.False(t, fresh, "second confirmation within the same dedup bucket must be a no-op")

	rec.RecognizedAtUTC = now.Add(6 * time.Minute)
	thirdInsert, fresh, err := s.InsertPlayIdempotent(rec)
	require.NoError(t, err)
	require.True(t, fresh, "a later dedup bucket must be allowed to insert a new play")
	require.NotEqual(t, inserted.DedupBucket, thirdInsert.DedupBucket)
}

func TestDedupBucketFloorsToFixedWidthWindows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, DedupBucket(base, 300), DedupBucket(base.Add(299*time.Second), 300))
	require.NotEqual(t, DedupBucket(base, 300), DedupBucket(base.Add(300*time.Second), 300))
}

func TestInsertRecognitionIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	stream, err := s.EnsureStream("cafe-lobby", "rtsp://example.test/lobby", true)
	require.NoError(t, err)

	_, err = s.InsertRecognition(RecognitionRecord{
		StreamID:        stream.ID,
		Provider:        "acrcloud",
		Outcome:         "no_match",
		WindowStartUTC:  time.Now().UTC(),
		RecognizedAtUTC: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = s.InsertRecognition(RecognitionRecord{
		StreamID:        stream.ID,
		Provider:        "acrcloud",
		Outcome:         "error",
		ErrorKind:       "timeout",
		WindowStartUTC:  time.Now().UTC(),
		RecognizedAtUTC: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestPruneRecognitionsBefore(t *testing.T) {
	s := newTestStore(t)
	stream, err := s.EnsureStream("cafe-lobby", "rtsp://example.test/lobby", true)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = s.InsertRecognition(RecognitionRecord{
		StreamID:        stream.ID,
		Provider:        "acrcloud",
		Outcome:         "no_match",
		WindowStartUTC:  old,
		RecognizedAtUTC: old,
	})
	require.NoError(t, err)

	recent := time.Now().UTC()
	_, err = s.InsertRecognition(RecognitionRecord{
		StreamID:        stream.ID,
		Provider:        "acrcloud",
		Outcome:         "no_match",
		WindowStartUTC:  recent,
		RecognizedAtUTC: recent,
	})
	require.NoError(t, err)

	deleted, err := s.PruneRecognitionsBefore(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}
