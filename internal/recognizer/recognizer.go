// Package recognizer defines the Recognizer capability (C3): a uniform
// interface over external music-recognition providers, typed outcomes,
// and confidence normalization, plus a per-(provider,track) metadata
// cache (patrickmn/go-cache) for short-TTL bookkeeping.
package recognizer

import (
	"context"
	"time"

	appErrors "github.com/marvin-k3/ying/internal/errors"
	gocache "github.com/patrickmn/go-cache"
)

// ErrorKind classifies why a recognition call failed.
type ErrorKind string

const (
	ErrorKindInvalidAudio ErrorKind = "invalid_audio"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindTransport    ErrorKind = "transport"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindProvider     ErrorKind = "provider_error"
	ErrorKindInternal     ErrorKind = "internal"
)

// OutcomeKind discriminates a Result: exactly one of a hit, no match, or
// an error is meaningful, selected by Result.Kind.
type OutcomeKind string

const (
	OutcomeHit     OutcomeKind = "hit"
	OutcomeNoMatch OutcomeKind = "no_match"
	OutcomeError   OutcomeKind = "error"
)

// Hit is a confirmed match returned by a provider.
type Hit struct {
	ProviderTrackID string
	Title           string
	Artist          string
	Album           string
	RawConfidence   float64
	Confidence      float64 // normalized to [0,1]
	Metadata        map[string]any
	RawResponse     string
}

// Result is the full, typed outcome of one Recognizer.Recognize call.
type Result struct {
	Kind      OutcomeKind
	Hit       *Hit
	ErrorKind ErrorKind
	Err       error
	LatencyMS int64
}

// Recognizer is the capability every provider adapter implements.
type Recognizer interface {
	// Name returns the provider's stable identifier, used as the
	// provider column in store.Recognition/store.Track.
	Name() string
	// Recognize submits one WAV-framed window and returns a typed
	// outcome. It must return within timeout; callers rely on this to
	// bound fan-out latency (C4).
	Recognize(ctx context.Context, wav []byte, timeout time.Duration) Result
}

// NormalizeFunc maps a provider's raw confidence score onto [0,1]
// monotonically. Each provider adapter supplies its own, since providers
// disagree on scale (0-1, 0-100, banded enums).
type NormalizeFunc func(raw float64) float64

// metadataCache holds a short-TTL cache of normalized metadata per
// (provider, provider_track_id), used to fill in metadata when a later hit
// for the same track arrives without any. It does not avoid upstream
// calls: every Recognize still calls the provider.
type metadataCache struct {
	cache *gocache.Cache
}

func newMetadataCache(ttl time.Duration) *metadataCache {
	return &metadataCache{cache: gocache.New(ttl, ttl*2)}
}

func (m *metadataCache) get(provider, trackID string) (map[string]any, bool) {
	v, ok := m.cache.Get(provider + ":" + trackID)
	if !ok {
		return nil, false
	}
	md, ok := v.(map[string]any)
	return md, ok
}

func (m *metadataCache) set(provider, trackID string, metadata map[string]any) {
	m.cache.SetDefault(provider+":"+trackID, metadata)
}

// CachingRecognizer wraps a Recognizer with a metadata cache: repeat hits
// for the same (provider, track) within the cache TTL reuse the
// previously-seen metadata when the later response carries no metadata at
// all; a response with any metadata is kept as-is and replaces the cached
// entry. Confidence/raw response always come fresh from the call.
type CachingRecognizer struct {
	inner Recognizer
	cache *metadataCache
}

// NewCachingRecognizer wraps inner with a metadata cache of the given TTL.
func NewCachingRecognizer(inner Recognizer, ttl time.Duration) *CachingRecognizer {
	return &CachingRecognizer{inner: inner, cache: newMetadataCache(ttl)}
}

func (c *CachingRecognizer) Name() string { return c.inner.Name() }

func (c *CachingRecognizer) Recognize(ctx context.Context, wav []byte, timeout time.Duration) Result {
	start := time.Now()
	res := c.inner.Recognize(ctx, wav, timeout)
	res.LatencyMS = time.Since(start).Milliseconds()

	if res.Kind != OutcomeHit || res.Hit == nil {
		return res
	}

	if cached, ok := c.cache.get(c.Name(), res.Hit.ProviderTrackID); ok && len(res.Hit.Metadata) == 0 {
		res.Hit.Metadata = cached
	} else if len(res.Hit.Metadata) > 0 {
		c.cache.set(c.Name(), res.Hit.ProviderTrackID, res.Hit.Metadata)
	}
	return res
}

// WrapError builds a typed Err outcome with an EnhancedError attached for
// logging via ErrorBuilder.ProviderContext.
func WrapError(provider string, kind ErrorKind, err error, latency time.Duration) Result {
	wrapped := appErrors.New(err).
		Component("recognizer").
		Category(appErrors.CategoryRecognition).
		ProviderContext(provider, latency).
		Context("error_kind", string(kind)).
		Build()
	return Result{
		Kind:      OutcomeError,
		ErrorKind: kind,
		Err:       wrapped,
		LatencyMS: latency.Milliseconds(),
	}
}

// ClampNormalize builds a NormalizeFunc for providers that report a raw
// score on [0, max]: a simple, monotonic linear scaling.
func ClampNormalize(max float64) NormalizeFunc {
	return func(raw float64) float64 {
		if max <= 0 {
			return 0
		}
		v := raw / max
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
}
