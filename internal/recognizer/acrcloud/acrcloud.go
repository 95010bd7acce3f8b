// Package acrcloud implements recognizer.Recognizer against the ACRCloud
// audio-recognition HTTP API, the reference concrete provider adapter for
// this pipeline. Outbound transport uses net/http directly: no HTTP
// client library appears anywhere in the example pack's dependency
// surface, so this is a standard-library boundary rather than a dropped
// ecosystem dependency (see DESIGN.md).
package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/marvin-k3/ying/internal/recognizer"
)

// Config carries one ACRCloud project's credentials, per their console.
type Config struct {
	Host            string
	AccessKey       string
	AccessSecret    string
	HTTPClient      *http.Client
}

// Provider adapts ACRCloud's identify endpoint to recognizer.Recognizer.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New builds a Provider from cfg, defaulting to a bounded http.Client if
// none is supplied.
func New(cfg Config) *Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return "acrcloud" }

type identifyResponse struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Metadata struct {
		Music []struct {
			Score      float64 `json:"score"`
			Title      string  `json:"title"`
			ExternalID string  `json:"acrid"`
			Artists    []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
		} `json:"music"`
	} `json:"metadata"`
}

// Recognize submits wav to ACRCloud's identify endpoint and returns a
// typed Result. Confidence is normalized from ACRCloud's 0-100 score.
func (p *Provider) Recognize(ctx context.Context, wav []byte, timeout time.Duration) recognizer.Result {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := p.buildRequest(callCtx, wav)
	if err != nil {
		return recognizer.WrapError(p.Name(), recognizer.ErrorKindInvalidAudio, err, time.Since(start))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		kind := recognizer.ErrorKindTransport
		if callCtx.Err() != nil {
			kind = recognizer.ErrorKindTimeout
		}
		return recognizer.WrapError(p.Name(), kind, err, time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return recognizer.WrapError(p.Name(), recognizer.ErrorKindRateLimited, fmt.Errorf("acrcloud: rate limited (HTTP 429)"), time.Since(start))
	}

	var parsed identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return recognizer.WrapError(p.Name(), recognizer.ErrorKindProvider, fmt.Errorf("acrcloud: decode response: %w", err), time.Since(start))
	}

	latency := time.Since(start)
	switch parsed.Status.Code {
	case 0:
		if len(parsed.Metadata.Music) == 0 {
			return recognizer.Result{Kind: recognizer.OutcomeNoMatch, LatencyMS: latency.Milliseconds()}
		}
		match := parsed.Metadata.Music[0]
		artist := ""
		if len(match.Artists) > 0 {
			artist = match.Artists[0].Name
		}
		normalize := recognizer.ClampNormalize(100)
		return recognizer.Result{
			Kind: recognizer.OutcomeHit,
			Hit: Hit{
				ProviderTrackID: match.ExternalID,
				Title:           match.Title,
				Artist:          artist,
				Album:           match.Album.Name,
				RawConfidence:   match.Score,
				Confidence:      normalize(match.Score),
			}.toRecognizerHit(),
			LatencyMS: latency.Milliseconds(),
		}
	case 1001: // ACRCloud's "no result" code
		return recognizer.Result{Kind: recognizer.OutcomeNoMatch, LatencyMS: latency.Milliseconds()}
	default:
		return recognizer.WrapError(p.Name(), recognizer.ErrorKindProvider, fmt.Errorf("acrcloud: status %d: %s", parsed.Status.Code, parsed.Status.Msg), latency)
	}
}

// Hit mirrors recognizer.Hit for local construction convenience.
type Hit recognizer.Hit

func (h Hit) toRecognizerHit() *recognizer.Hit {
	rh := recognizer.Hit(h)
	return &rh
}

func (p *Provider) buildRequest(ctx context.Context, wav []byte) (*http.Request, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := p.sign(timestamp)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"access_key":         p.cfg.AccessKey,
		"sample_bytes":       strconv.Itoa(len(wav)),
		"timestamp":          timestamp,
		"signature":          signature,
		"signature_version":  "1",
		"data_type":          "audio",
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("acrcloud: write field %s: %w", k, err)
		}
	}
	part, err := writer.CreateFormFile("sample", "window.wav")
	if err != nil {
		return nil, fmt.Errorf("acrcloud: create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("acrcloud: write sample: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("acrcloud: close multipart writer: %w", err)
	}

	url := fmt.Sprintf("https://%s/v1/identify", p.cfg.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

// sign computes ACRCloud's required HMAC-SHA1 signature over the fixed
// string-to-sign, base64 encoded, per their v1 identify API.
func (p *Provider) sign(timestamp string) (string, error) {
	stringToSign := fmt.Sprintf("POST\n/v1/identify\n%s\naudio\n1\n%s", p.cfg.AccessKey, timestamp)
	mac := hmac.New(sha1.New, []byte(p.cfg.AccessSecret))
	if _, err := mac.Write([]byte(stringToSign)); err != nil {
		return "", fmt.Errorf("acrcloud: sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
